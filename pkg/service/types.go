package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kbselect/kbselect-go/pkg/connection"
	"github.com/kbselect/kbselect-go/pkg/discovery"
	"github.com/kbselect/kbselect-go/pkg/log"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrStopped        = errors.New("service stopped")
	ErrNoSelection    = errors.New("no device selected")
	ErrInvalidIndex   = errors.New("device index out of range")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateRunning - service is running normally.
	StateRunning

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Service.
type Config struct {
	// Discovery configures the discovery manager. Serial and Bus must be set.
	Discovery discovery.Config

	// Connection configures the controller. Opener must be set.
	Connection connection.Config

	// StatePath is the selection state file. Empty disables persistence.
	StatePath string

	// Logger is the optional logger. It is passed to the discovery manager
	// and the controller unless they have their own.
	Logger *slog.Logger

	// EventLogger receives the event trace of both components unless they
	// have their own.
	EventLogger log.Logger
}

// DefaultConfig returns a Config with the component defaults. Providers and
// the opener must still be set.
func DefaultConfig() Config {
	return Config{
		Discovery:  discovery.DefaultConfig(),
		Connection: connection.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("%w: discovery: %v", ErrInvalidConfig, err)
	}
	if err := c.Connection.Validate(); err != nil {
		return fmt.Errorf("%w: connection: %v", ErrInvalidConfig, err)
	}
	return nil
}

// EventType identifies a service event.
type EventType uint8

const (
	// EventDevicesChanged - a discovery result was published.
	EventDevicesChanged EventType = iota

	// EventSelectionChanged - the selected index changed.
	EventSelectionChanged

	// EventConnecting - a connect started.
	EventConnecting

	// EventConnected - session established.
	EventConnected

	// EventConnectFailed - connect ended without a session.
	EventConnectFailed

	// EventDisconnected - session closed on request.
	EventDisconnected

	// EventDeviceLost - the connected device disappeared.
	EventDeviceLost
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventDevicesChanged:
		return "DEVICES_CHANGED"
	case EventSelectionChanged:
		return "SELECTION_CHANGED"
	case EventConnecting:
		return "CONNECTING"
	case EventConnected:
		return "CONNECTED"
	case EventConnectFailed:
		return "CONNECT_FAILED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventDeviceLost:
		return "DEVICE_LOST"
	default:
		return "UNKNOWN"
	}
}

// Event represents a service event.
type Event struct {
	// Type is the event type.
	Type EventType

	// Result is the published result (for EventDevicesChanged).
	Result discovery.Result

	// Selected is the selected index, -1 for none (for device and
	// selection events).
	Selected int

	// Device is the device concerned (for session events and
	// EventSelectionChanged).
	Device discovery.Device

	// Error is set for EventConnectFailed and EventDeviceLost.
	Error error
}

// EventHandler handles service events.
type EventHandler func(Event)
