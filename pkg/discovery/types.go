package discovery

import (
	"fmt"
	"time"

	"github.com/kbselect/kbselect-go/pkg/hardware"
	"github.com/kbselect/kbselect-go/pkg/log"
)

// TransportKind tags the transport a device was found on.
type TransportKind uint8

const (
	// TransportSerial is the path-addressed serial transport.
	TransportSerial TransportKind = iota + 1

	// TransportBus is the descriptor-addressed USB bus transport.
	TransportBus
)

// String returns the transport name.
func (k TransportKind) String() string {
	switch k {
	case TransportSerial:
		return "SERIAL"
	case TransportBus:
		return "BUS"
	default:
		return "UNKNOWN"
	}
}

// LogTransport maps k onto the event log's transport enum.
func (k TransportKind) LogTransport() log.Transport {
	switch k {
	case TransportSerial:
		return log.TransportSerial
	case TransportBus:
		return log.TransportBus
	default:
		return log.TransportNone
	}
}

// Identity is the de-duplication key of a device.
// Path is empty for devices that are not path-addressed.
type Identity struct {
	VendorID  uint16
	ProductID uint16
	Path      string
}

// ID returns the vendor/product pair.
func (i Identity) ID() hardware.ID {
	return hardware.ID{VendorID: i.VendorID, ProductID: i.ProductID}
}

// String returns "vvvv:pppp" or "vvvv:pppp@path".
func (i Identity) String() string {
	if i.Path == "" {
		return i.ID().String()
	}
	return i.ID().String() + "@" + i.Path
}

// SerialInfo holds serial transport fields.
type SerialInfo struct {
	// Path is the port name, e.g. /dev/ttyACM0 or COM3.
	Path string

	// SerialNumber is the USB iSerial string, if the OS reports it.
	SerialNumber string
}

// BusInfo holds USB bus transport fields.
type BusInfo struct {
	BusNumber uint8
	Address   uint8

	// SysfsPath is the device directory under /sys/bus/usb/devices (Linux).
	SysfsPath string

	// Node is the usbfs character device, e.g. /dev/bus/usb/001/004.
	Node string
}

// Transport is a tagged variant over the two transports. Exactly one of
// Serial and Bus is set, matching Kind.
type Transport struct {
	Kind   TransportKind
	Serial *SerialInfo
	Bus    *BusInfo
}

// SerialTransport builds a serial Transport.
func SerialTransport(info SerialInfo) Transport {
	return Transport{Kind: TransportSerial, Serial: &info}
}

// BusTransport builds a bus Transport.
func BusTransport(info BusInfo) Transport {
	return Transport{Kind: TransportBus, Bus: &info}
}

// Valid reports whether the variant tag matches the populated field.
func (t Transport) Valid() bool {
	switch t.Kind {
	case TransportSerial:
		return t.Serial != nil && t.Bus == nil
	case TransportBus:
		return t.Bus != nil && t.Serial == nil
	default:
		return false
	}
}

func (t Transport) clone() Transport {
	out := Transport{Kind: t.Kind}
	if t.Serial != nil {
		s := *t.Serial
		out.Serial = &s
	}
	if t.Bus != nil {
		b := *t.Bus
		out.Bus = &b
	}
	return out
}

// Device is a discovered candidate.
type Device struct {
	Identity  Identity
	Transport Transport

	// DisplayName is a human label, usually the catalog display name.
	DisplayName string

	// Accessible is set when the caller may open the device.
	Accessible bool

	// Supported is set when the device matches a supported hardware profile.
	// It is only evaluated for accessible devices and is false otherwise.
	Supported bool

	// Signature is the catalog entry the device matched.
	Signature hardware.Signature
}

// Path returns the serial path, or "" for bus devices.
func (d Device) Path() string {
	return d.Identity.Path
}

// Label returns "<display name> (<path>)", using "unknown" for a device
// without a path and the identity when there is no display name.
func (d Device) Label() string {
	name := d.DisplayName
	if name == "" {
		name = d.Identity.ID().String()
	}
	path := d.Identity.Path
	if path == "" {
		path = "unknown"
	}
	return fmt.Sprintf("%s (%s)", name, path)
}

// Clone returns a deep copy, so holders are isolated from later cycles.
func (d Device) Clone() Device {
	d.Transport = d.Transport.clone()
	return d
}

// Descriptor is a raw USB bus descriptor as listed by a BusProvider.
type Descriptor struct {
	VendorID  uint16
	ProductID uint16

	// Product is the iProduct string, if readable.
	Product string

	Bus BusInfo
}

// ID returns the vendor/product pair.
func (d Descriptor) ID() hardware.ID {
	return hardware.ID{VendorID: d.VendorID, ProductID: d.ProductID}
}

// Result is the outcome of one discovery cycle.
type Result struct {
	// Devices in transport scan order: serial first, then unmatched bus.
	Devices []Device

	// Cycle is the cycle number that produced the result (0 = none yet).
	Cycle uint64

	// ID correlates the cycle with the event log.
	ID string

	StartedAt   time.Time
	CompletedAt time.Time

	// Err joins the non-fatal *DiscoveryError values of the cycle.
	Err error
}

// Found reports whether any device was discovered.
func (r Result) Found() bool {
	return len(r.Devices) > 0
}

// Find returns the device with identity id.
func (r Result) Find(id Identity) (Device, bool) {
	for _, d := range r.Devices {
		if d.Identity == id {
			return d.Clone(), true
		}
	}
	return Device{}, false
}

// IndexOfPath returns the index of the device at path, or -1.
func (r Result) IndexOfPath(path string) int {
	if path == "" {
		return -1
	}
	for i, d := range r.Devices {
		if d.Identity.Path == path {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the result.
func (r Result) Clone() Result {
	out := r
	if r.Devices != nil {
		out.Devices = make([]Device, len(r.Devices))
		for i, d := range r.Devices {
			out.Devices[i] = d.Clone()
		}
	}
	return out
}
