package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kbselect/kbselect-go/pkg/connection"
	"github.com/kbselect/kbselect-go/pkg/discovery"
)

// Config holds the command configuration. Values come from the optional
// YAML file first, then from flags set on the command line.
type Config struct {
	ConfigFile   string        `yaml:"-"`
	HardwareFile string        `yaml:"hardware"`
	LogLevel     string        `yaml:"log_level"`
	Interactive  bool          `yaml:"interactive"`
	StateDir     string        `yaml:"state_dir"`
	Reset        bool          `yaml:"-"`
	EventLog     string        `yaml:"event_log"`
	ScanTimeout  time.Duration `yaml:"scan_timeout"`

	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Connection ConnectionConfig `yaml:"connection"`
	Serial     SerialConfig     `yaml:"serial"`
	USB        USBConfig        `yaml:"usb"`
}

// DiscoveryConfig is the discovery section of the config file.
type DiscoveryConfig struct {
	FeedbackWindow   time.Duration `yaml:"feedback_window"`
	HotplugSettle    time.Duration `yaml:"hotplug_settle"`
	ProbeConcurrency int           `yaml:"probe_concurrency"`
}

// ConnectionConfig is the connection section of the config file.
type ConnectionConfig struct {
	ConnectTimeout time.Duration            `yaml:"connect_timeout"`
	MaxAttempts    int                      `yaml:"max_attempts"`
	Backoff        connection.BackoffConfig `yaml:"backoff"`
}

// SerialConfig is the serial section of the config file.
type SerialConfig struct {
	BaudRate       int           `yaml:"baud_rate"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	VersionCommand string        `yaml:"version_command"`
}

// USBConfig is the usb section of the config file.
type USBConfig struct {
	SysfsRoot string `yaml:"sysfs_root"`
	DevRoot   string `yaml:"dev_root"`
}

// defaultConfig returns the built-in command defaults.
func defaultConfig() Config {
	return Config{
		LogLevel:    "info",
		ScanTimeout: discovery.DefaultScanTimeout,
	}
}

// loadConfigFile decodes path over cfg. Unknown keys are rejected.
func loadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// statePath returns the selection state file, or "" without a state dir.
func (c *Config) statePath() string {
	if c.StateDir == "" {
		return ""
	}
	return filepath.Join(c.StateDir, "selection.json")
}

// applyDiscovery copies the non-zero discovery settings onto dc.
func (c *Config) applyDiscovery(dc *discovery.Config) {
	if c.ScanTimeout > 0 {
		dc.ScanTimeout = c.ScanTimeout
	}
	if c.Discovery.FeedbackWindow > 0 {
		dc.FeedbackWindow = c.Discovery.FeedbackWindow
	}
	if c.Discovery.HotplugSettle > 0 {
		dc.HotplugSettle = c.Discovery.HotplugSettle
	}
	if c.Discovery.ProbeConcurrency > 0 {
		dc.ProbeConcurrency = c.Discovery.ProbeConcurrency
	}
}

// applyConnection copies the non-zero connection settings onto cc.
func (c *Config) applyConnection(cc *connection.Config) {
	if c.Connection.ConnectTimeout > 0 {
		cc.ConnectTimeout = c.Connection.ConnectTimeout
	}
	if c.Connection.MaxAttempts > 0 {
		cc.MaxAttempts = c.Connection.MaxAttempts
	}
	b := c.Connection.Backoff
	if b.Initial > 0 {
		cc.Backoff.Initial = b.Initial
	}
	if b.Max > 0 {
		cc.Backoff.Max = b.Max
	}
	if b.Multiplier > 0 {
		cc.Backoff.Multiplier = b.Multiplier
	}
	if b.Jitter > 0 {
		cc.Backoff.Jitter = b.Jitter
	}
}

// parseLogLevel maps a -log-level value to a slog level.
func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s (use: debug, info, warn, error)", s)
	}
}
