package main

import (
	"bytes"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbselect/kbselect-go/pkg/connection"
	"github.com/kbselect/kbselect-go/pkg/discovery"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kbselect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := parseArgs(nil, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, discovery.DefaultScanTimeout, cfg.ScanTimeout)
	assert.False(t, cfg.Interactive)
	assert.Empty(t, cfg.statePath())
}

func TestParseArgsConfigFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
interactive: true
state_dir: /var/lib/kbselect
scan_timeout: 3s
discovery:
  hotplug_settle: 500ms
connection:
  connect_timeout: 2s
  max_attempts: 5
  backoff:
    initial: 50ms
serial:
  baud_rate: 115200
usb:
  sysfs_root: /tmp/sys
`)
	cfg, err := parseArgs([]string{"-config", path}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Interactive)
	assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Discovery.HotplugSettle)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, "/tmp/sys", cfg.USB.SysfsRoot)
	assert.Equal(t, filepath.Join("/var/lib/kbselect", "selection.json"), cfg.statePath())

	dc := discovery.DefaultConfig()
	cfg.applyDiscovery(&dc)
	assert.Equal(t, 3*time.Second, dc.ScanTimeout)
	assert.Equal(t, 500*time.Millisecond, dc.HotplugSettle)
	assert.Equal(t, discovery.DefaultConfig().FeedbackWindow, dc.FeedbackWindow)

	cc := connection.DefaultConfig()
	cfg.applyConnection(&cc)
	assert.Equal(t, 2*time.Second, cc.ConnectTimeout)
	assert.Equal(t, 5, cc.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cc.Backoff.Initial)
	assert.Equal(t, connection.DefaultBackoffConfig().Max, cc.Backoff.Max)
}

func TestParseArgsFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "log_level: debug\nscan_timeout: 3s\nstate_dir: /a\n")

	cfg, err := parseArgs([]string{"-config", path, "-log-level", "warn", "-state-dir", "/b"}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/b", cfg.StateDir)
	// Not set on the command line, so the file value stays.
	assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
}

func TestParseArgsErrors(t *testing.T) {
	t.Run("unknown key", func(t *testing.T) {
		path := writeConfig(t, "log_lvl: debug\n")
		_, err := parseArgs([]string{"-config", path}, &bytes.Buffer{})
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := parseArgs([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}, &bytes.Buffer{})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := parseArgs([]string{"-log-level", "loud"}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unknown log level")
	})

	t.Run("extra args", func(t *testing.T) {
		_, err := parseArgs([]string{"scan"}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unexpected arguments")
	})

	t.Run("help", func(t *testing.T) {
		_, err := parseArgs([]string{"-h"}, &bytes.Buffer{})
		assert.True(t, errors.Is(err, flag.ErrHelp))
	})
}

func TestSwitchWriter(t *testing.T) {
	var first, second bytes.Buffer
	w := &switchWriter{w: &first}

	_, _ = w.Write([]byte("a"))
	w.Set(&second)
	_, _ = w.Write([]byte("b"))

	assert.Equal(t, "a", first.String())
	assert.Equal(t, "b", second.String())
}
