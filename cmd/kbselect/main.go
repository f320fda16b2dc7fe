// Command kbselect discovers attached keyboards and manages a single
// session with the one the user selects.
//
// Keyboards are found on two transports: USB serial ports (normal firmware)
// and raw USB bus devices (bootloader mode). Hot-plugged keyboards trigger a
// new discovery cycle.
//
// Usage:
//
//	kbselect [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-hardware string      YAML keyboard capability table (default: built-in)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-interactive          Enable interactive command mode
//	-state-dir string     Directory for persistent selection state
//	-reset                Clear persisted selection state before starting
//	-event-log string     Write the discovery and connection event trace (.klog)
//	-scan-timeout dur     Bound for a discovery cycle (default 10s)
//
// Flags set on the command line override values from -config.
//
// Examples:
//
//	# List keyboards once and exit
//	kbselect
//
//	# Interactive mode, remembering the last keyboard
//	kbselect -interactive -state-dir ~/.config/kbselect
//
//	# Record an event trace for kbselect-log
//	kbselect -interactive -event-log /tmp/kbselect.klog -log-level debug
//
// Interactive Commands:
//
//	scan        - Run a discovery cycle
//	list        - List discovered keyboards
//	select <n>  - Select a keyboard
//	connect [n] - Connect to the selected keyboard
//	disconnect  - Close the session
//	status      - Show state
//	quit        - Exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kbselect/kbselect-go/cmd/kbselect/interactive"
	"github.com/kbselect/kbselect-go/pkg/connection"
	"github.com/kbselect/kbselect-go/pkg/discovery"
	"github.com/kbselect/kbselect-go/pkg/hardware"
	klog "github.com/kbselect/kbselect-go/pkg/log"
	"github.com/kbselect/kbselect-go/pkg/persistence"
	"github.com/kbselect/kbselect-go/pkg/service"
	"github.com/kbselect/kbselect-go/pkg/transport/serialport"
	"github.com/kbselect/kbselect-go/pkg/transport/usbbus"
)

func main() {
	cfg, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "kbselect: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "kbselect: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs builds the configuration from the config file and flags.
func parseArgs(args []string, stderr io.Writer) (Config, error) {
	var flags Config
	fs := flag.NewFlagSet("kbselect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&flags.ConfigFile, "config", "", "YAML configuration file")
	fs.StringVar(&flags.HardwareFile, "hardware", "", "YAML keyboard capability table (default: built-in)")
	fs.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
	fs.StringVar(&flags.StateDir, "state-dir", "", "Directory for persistent selection state")
	fs.BoolVar(&flags.Reset, "reset", false, "Clear persisted selection state before starting")
	fs.StringVar(&flags.EventLog, "event-log", "", "Write the event trace to this .klog file")
	fs.DurationVar(&flags.ScanTimeout, "scan-timeout", discovery.DefaultScanTimeout, "Bound for a discovery cycle")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := defaultConfig()
	if flags.ConfigFile != "" {
		if err := loadConfigFile(flags.ConfigFile, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.ConfigFile = flags.ConfigFile
	cfg.Reset = flags.Reset

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hardware":
			cfg.HardwareFile = flags.HardwareFile
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "interactive":
			cfg.Interactive = flags.Interactive
		case "state-dir":
			cfg.StateDir = flags.StateDir
		case "event-log":
			cfg.EventLog = flags.EventLog
		case "scan-timeout":
			cfg.ScanTimeout = flags.ScanTimeout
		}
	})

	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func run(cfg Config) error {
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logOut := &switchWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	catalog := hardware.Default()
	if cfg.HardwareFile != "" {
		catalog, err = hardware.Load(cfg.HardwareFile)
		if err != nil {
			return err
		}
		logger.Info("loaded capability table", "path", cfg.HardwareFile)
	}

	var events klog.Logger
	if cfg.EventLog != "" {
		fl, err := klog.NewFileLogger(cfg.EventLog)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer fl.Close()
		events = fl
		if level <= slog.LevelDebug {
			events = klog.NewMultiLogger(fl, klog.NewSlogAdapter(logger))
		}
	}

	if cfg.Reset && cfg.StateDir != "" {
		logger.Info("resetting persisted selection state")
		if err := persistence.NewSelectionStore(cfg.statePath()).Clear(); err != nil {
			logger.Warn("failed to clear state", "error", err)
		}
	}

	serialCfg := serialport.DefaultConfig()
	if cfg.Serial.BaudRate > 0 {
		serialCfg.BaudRate = cfg.Serial.BaudRate
	}
	if cfg.Serial.CommandTimeout > 0 {
		serialCfg.CommandTimeout = cfg.Serial.CommandTimeout
	}
	if cfg.Serial.VersionCommand != "" {
		serialCfg.VersionCommand = cfg.Serial.VersionCommand
	}
	serialCfg.Logger = logger
	serialProvider := serialport.New(serialCfg)

	usbCfg := usbbus.DefaultConfig()
	if cfg.USB.SysfsRoot != "" {
		usbCfg.SysfsRoot = cfg.USB.SysfsRoot
	}
	if cfg.USB.DevRoot != "" {
		usbCfg.DevRoot = cfg.USB.DevRoot
	}
	usbCfg.Logger = logger
	busProvider := usbbus.New(usbCfg)
	defer busProvider.Close()

	svcCfg := service.DefaultConfig()
	svcCfg.Discovery.Catalog = catalog
	svcCfg.Discovery.Serial = serialProvider
	svcCfg.Discovery.Bus = busProvider
	cfg.applyDiscovery(&svcCfg.Discovery)
	svcCfg.Connection.Opener = connection.TransportOpener{Serial: serialProvider, Bus: busProvider}
	cfg.applyConnection(&svcCfg.Connection)
	svcCfg.StatePath = cfg.statePath()
	svcCfg.Logger = logger
	svcCfg.EventLogger = events

	svc, err := service.New(svcCfg)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !cfg.Interactive {
		return listOnce(ctx, svc, cfg.ScanTimeout, os.Stdout)
	}

	svc.OnEvent(func(event service.Event) { logEvent(logger, event) })
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	logger.Info("service started", "state", svc.State(), "state_dir", cfg.StateDir)

	console, err := interactive.New(svc)
	if err != nil {
		_ = svc.Stop()
		return err
	}
	// Log output goes through readline to keep the prompt intact.
	logOut.Set(console.Stdout())
	go console.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()
	if err := svc.Stop(); err != nil {
		logger.Error("error stopping service", "error", err)
	}
	return nil
}

// listOnce runs a single discovery cycle and prints the result.
func listOnce(ctx context.Context, svc *service.Service, timeout time.Duration, w io.Writer) error {
	defer svc.Stop()

	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	found, err := svc.Scan(ctx)
	if err != nil {
		return err
	}
	if res := svc.Result(); res.Err != nil {
		fmt.Fprintf(w, "Warning: %v\n", res.Err)
	}
	if !found {
		fmt.Fprintln(w, "No keyboard found")
		return nil
	}
	_, selected, _ := svc.Selected()
	for i, dev := range svc.Devices() {
		marker := " "
		if i == selected {
			marker = "*"
		}
		access := ""
		if !dev.Accessible {
			access = " [no access]"
		}
		fmt.Fprintf(w, "%s %d. %s (%s %s)%s\n", marker, i,
			dev.Label(), dev.Transport.Kind, dev.Identity.ID(), access)
	}
	return nil
}

func logEvent(logger *slog.Logger, event service.Event) {
	switch event.Type {
	case service.EventDevicesChanged:
		logger.Info("keyboards changed", "count", len(event.Result.Devices), "cycle", event.Result.Cycle, "selected", event.Selected)
	case service.EventConnecting:
		logger.Info("connecting", "device", event.Device.Identity)
	case service.EventConnected:
		logger.Info("connected", "device", event.Device.Identity, "bootloader", event.Device.Signature.Bootloader)
	case service.EventConnectFailed:
		logger.Warn("connect failed", "device", event.Device.Identity, "error", event.Error)
	case service.EventDisconnected:
		logger.Info("disconnected", "device", event.Device.Identity)
	case service.EventDeviceLost:
		logger.Warn("keyboard lost", "device", event.Device.Identity, "error", event.Error)
	}
}
