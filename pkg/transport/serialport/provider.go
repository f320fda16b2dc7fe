package serialport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/kbselect/kbselect-go/pkg/connection"
	"github.com/kbselect/kbselect-go/pkg/discovery"
	"github.com/kbselect/kbselect-go/pkg/hardware"
)

// Defaults.
const (
	DefaultBaudRate       = 9600
	DefaultCommandTimeout = 2 * time.Second
	DefaultReadTimeout    = 100 * time.Millisecond
	DefaultVersionCommand = "version"
)

// ListFunc enumerates serial ports.
type ListFunc func() ([]*enumerator.PortDetails, error)

// OpenFunc opens a serial port.
type OpenFunc func(path string, mode *serial.Mode) (serial.Port, error)

// Config configures a Provider.
type Config struct {
	BaudRate int

	// CommandTimeout bounds a firmware query.
	CommandTimeout time.Duration

	// ReadTimeout is the per-read timeout; it sets the polling granularity
	// of CommandTimeout.
	ReadTimeout time.Duration

	// VersionCommand is sent to query the firmware version.
	VersionCommand string

	// List and Open default to the go.bug.st/serial implementations.
	List ListFunc
	Open OpenFunc

	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaudRate:       DefaultBaudRate,
		CommandTimeout: DefaultCommandTimeout,
		ReadTimeout:    DefaultReadTimeout,
		VersionCommand: DefaultVersionCommand,
		List:           enumerator.GetDetailedPortsList,
		Open:           serial.Open,
	}
}

// Provider implements discovery.SerialProvider and connection.Opener.
type Provider struct {
	cfg    Config
	mode   *serial.Mode
	logger *slog.Logger
}

var (
	_ discovery.SerialProvider = (*Provider)(nil)
	_ connection.Opener        = (*Provider)(nil)
)

// New returns a Provider. Zero fields of cfg take defaults.
func New(cfg Config) *Provider {
	def := DefaultConfig()
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = def.BaudRate
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.VersionCommand == "" {
		cfg.VersionCommand = def.VersionCommand
	}
	if cfg.List == nil {
		cfg.List = def.List
	}
	if cfg.Open == nil {
		cfg.Open = def.Open
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{
		cfg: cfg,
		mode: &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: 8,
			StopBits: serial.OneStopBit,
			Parity:   serial.NoParity,
		},
		logger: logger,
	}
}

// FindDevices returns the USB serial ports whose vendor/product pair matches
// one of sigs.
func (p *Provider) FindDevices(ctx context.Context, sigs []hardware.Signature) ([]discovery.Device, error) {
	ports, err := p.cfg.List()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []discovery.Device
	for _, port := range ports {
		if port == nil || !port.IsUSB {
			continue
		}
		id, ok := portID(port)
		if !ok {
			p.logger.Debug("skipping port with unparsable usb ids", "port", port.Name, "vid", port.VID, "pid", port.PID)
			continue
		}
		sig, ok := match(sigs, id)
		if !ok {
			continue
		}
		out = append(out, discovery.Device{
			Identity: discovery.Identity{VendorID: id.VendorID, ProductID: id.ProductID, Path: port.Name},
			Transport: discovery.SerialTransport(discovery.SerialInfo{
				Path:         port.Name,
				SerialNumber: port.SerialNumber,
			}),
			DisplayName: sig.DisplayName,
			Signature:   sig,
		})
	}
	return out, nil
}

// CheckAccess opens and closes the port. It gives up when ctx ends, even
// if the open is still blocked.
func (p *Provider) CheckAccess(ctx context.Context, dev discovery.Device) error {
	port, err := p.openContext(ctx, dev)
	if err != nil {
		return err
	}
	return port.Close()
}

// CheckSupport asks the firmware for its version and compares it with the
// signature's FirmwarePrefix. An empty prefix accepts any firmware without
// querying it.
func (p *Provider) CheckSupport(ctx context.Context, dev discovery.Device) error {
	prefix := dev.Signature.FirmwarePrefix
	if prefix == "" {
		return nil
	}

	port, err := p.openContext(ctx, dev)
	if err != nil {
		return err
	}
	defer port.Close()

	reply, err := command(ctx, port, p.cfg.VersionCommand, p.cfg.CommandTimeout, p.cfg.ReadTimeout)
	if err != nil {
		return fmt.Errorf("%w: version query: %v", discovery.ErrUnsupportedDevice, err)
	}
	if !strings.HasPrefix(reply, prefix) {
		return fmt.Errorf("%w: firmware %q", discovery.ErrUnsupportedDevice, reply)
	}
	return nil
}

// OpenSession opens a session on the device's port.
func (p *Provider) OpenSession(ctx context.Context, dev discovery.Device) (connection.Session, error) {
	if dev.Transport.Kind != discovery.TransportSerial {
		return nil, fmt.Errorf("serialport: %s is not a serial device", dev.Identity)
	}
	port, err := p.openContext(ctx, dev)
	if err != nil {
		return nil, err
	}
	return &Session{
		port:           port,
		path:           dev.Path(),
		commandTimeout: p.cfg.CommandTimeout,
		readTimeout:    p.cfg.ReadTimeout,
	}, nil
}

// openContext is open bounded by ctx. A port that opens after ctx ended is
// closed.
func (p *Provider) openContext(ctx context.Context, dev discovery.Device) (serial.Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type outcome struct {
		port serial.Port
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		port, err := p.open(dev)
		ch <- outcome{port, err}
	}()

	select {
	case o := <-ch:
		return o.port, o.err
	case <-ctx.Done():
		go func() {
			if o := <-ch; o.err == nil {
				_ = o.port.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (p *Provider) open(dev discovery.Device) (serial.Port, error) {
	path := dev.Path()
	if path == "" {
		return nil, fmt.Errorf("serialport: %s has no path", dev.Identity)
	}
	port, err := p.cfg.Open(path, p.mode)
	if err != nil {
		return nil, classify(path, err)
	}
	return port, nil
}

// classify maps port errors onto the discovery and connection sentinels.
func classify(path string, err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case serial.PermissionDenied:
			return fmt.Errorf("open %s: %w", path, discovery.ErrPermissionDenied)
		case serial.PortNotFound:
			return fmt.Errorf("open %s: %w", path, connection.ErrDeviceGone)
		}
	}
	return fmt.Errorf("open %s: %w", path, err)
}

func portID(port *enumerator.PortDetails) (hardware.ID, bool) {
	vid, err := strconv.ParseUint(port.VID, 16, 16)
	if err != nil {
		return hardware.ID{}, false
	}
	pid, err := strconv.ParseUint(port.PID, 16, 16)
	if err != nil {
		return hardware.ID{}, false
	}
	return hardware.ID{VendorID: uint16(vid), ProductID: uint16(pid)}, true
}

func match(sigs []hardware.Signature, id hardware.ID) (hardware.Signature, bool) {
	for _, s := range sigs {
		if s.ID == id {
			return s, true
		}
	}
	return hardware.Signature{}, false
}
