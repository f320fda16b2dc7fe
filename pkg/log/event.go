package log

import (
	"time"
)

// Event is one entry of the trace.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// CorrelationID ties related events together: the discovery cycle ID for
	// scan and device events, the session ID for state events.
	CorrelationID string `cbor:"2,keyasint,omitempty"`

	// Category classifies the event type.
	Category Category `cbor:"3,keyasint"`

	// Transport is the transport the event concerns, if any.
	Transport Transport `cbor:"4,keyasint,omitempty"`

	// DeviceID is the device identity in "vvvv:pppp[@path]" form.
	DeviceID string `cbor:"5,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Scan        *ScanEvent        `cbor:"10,keyasint,omitempty"`
	Hotplug     *HotplugEvent     `cbor:"11,keyasint,omitempty"`
	Device      *DeviceEvent      `cbor:"12,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryScan indicates a discovery cycle event.
	CategoryScan Category = 0
	// CategoryHotplug indicates a bus attach/detach notification.
	CategoryHotplug Category = 1
	// CategoryDevice indicates a per-candidate evaluation.
	CategoryDevice Category = 2
	// CategoryState indicates a connection state change.
	CategoryState Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryScan:
		return "SCAN"
	case CategoryHotplug:
		return "HOTPLUG"
	case CategoryDevice:
		return "DEVICE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(s string) (Category, bool) {
	for c := CategoryScan; c <= CategoryError; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Transport identifies the transport an event concerns.
type Transport uint8

const (
	// TransportNone means the event is not tied to a transport.
	TransportNone Transport = 0
	// TransportSerial is the path-addressed serial transport.
	TransportSerial Transport = 1
	// TransportBus is the descriptor-addressed USB bus transport.
	TransportBus Transport = 2
)

// String returns the transport name.
func (t Transport) String() string {
	switch t {
	case TransportNone:
		return "-"
	case TransportSerial:
		return "SERIAL"
	case TransportBus:
		return "BUS"
	default:
		return "UNKNOWN"
	}
}

// ScanEvent describes a discovery cycle.
type ScanEvent struct {
	// Cycle is the monotonically increasing cycle number.
	Cycle uint64 `cbor:"1,keyasint"`

	// Phase is START or DONE.
	Phase ScanPhase `cbor:"2,keyasint"`

	// Trigger says what started the cycle (manual, hotplug, startup).
	Trigger string `cbor:"3,keyasint,omitempty"`

	// Found is the number of devices in the published result (DONE only).
	Found int `cbor:"4,keyasint,omitempty"`

	// Duration of the cycle (DONE only). Stored as nanoseconds.
	Duration time.Duration `cbor:"5,keyasint,omitempty"`

	// Stale is set when the result was discarded because a newer cycle
	// had already been published.
	Stale bool `cbor:"6,keyasint,omitempty"`

	// TimedOut is set when a probe exceeded the scan timeout.
	TimedOut bool `cbor:"7,keyasint,omitempty"`
}

// ScanPhase distinguishes the start and end of a cycle.
type ScanPhase uint8

const (
	// ScanStart marks the start of a cycle.
	ScanStart ScanPhase = 0
	// ScanDone marks the end of a cycle.
	ScanDone ScanPhase = 1
)

// String returns the phase name.
func (p ScanPhase) String() string {
	switch p {
	case ScanStart:
		return "START"
	case ScanDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// HotplugEvent describes a bus attach/detach notification.
type HotplugEvent struct {
	Action    HotplugAction `cbor:"1,keyasint"`
	VendorID  uint16        `cbor:"2,keyasint,omitempty"`
	ProductID uint16        `cbor:"3,keyasint,omitempty"`
	Node      string        `cbor:"4,keyasint,omitempty"`
}

// HotplugAction is attach or detach.
type HotplugAction uint8

const (
	// HotplugAttach indicates a device arrived.
	HotplugAttach HotplugAction = 0
	// HotplugDetach indicates a device left.
	HotplugDetach HotplugAction = 1
)

// String returns the action name.
func (a HotplugAction) String() string {
	switch a {
	case HotplugAttach:
		return "ATTACH"
	case HotplugDetach:
		return "DETACH"
	default:
		return "UNKNOWN"
	}
}

// DeviceEvent records the outcome of evaluating one candidate.
type DeviceEvent struct {
	Label      string `cbor:"1,keyasint,omitempty"`
	Accessible bool   `cbor:"2,keyasint"`
	Supported  bool   `cbor:"3,keyasint"`
	Included   bool   `cbor:"4,keyasint"`

	// Reason explains an inaccessible or unsupported verdict.
	Reason string `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures connection session transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures a failure.
type ErrorEventData struct {
	// Component that failed (e.g. "serial-probe", "controller").
	Component string `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
