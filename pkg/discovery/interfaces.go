package discovery

import (
	"context"

	"github.com/kbselect/kbselect-go/pkg/hardware"
)

// SerialProvider is the path-addressed transport.
type SerialProvider interface {
	// FindDevices returns the ports whose USB identity matches one of sigs.
	FindDevices(ctx context.Context, sigs []hardware.Signature) ([]Device, error)

	// CheckAccess returns nil when dev can be opened. It must not leave the
	// device open.
	CheckAccess(ctx context.Context, dev Device) error

	// CheckSupport returns nil when dev runs supported firmware. Only called
	// for accessible devices.
	CheckSupport(ctx context.Context, dev Device) error
}

// BusProvider is the descriptor-addressed transport.
type BusProvider interface {
	// ListAttachedDescriptors returns every attached USB device.
	ListAttachedDescriptors(ctx context.Context) ([]Descriptor, error)

	// OnAttach registers fn for device arrival notifications.
	OnAttach(fn func(Descriptor)) (Subscription, error)

	// OnDetach registers fn for device removal notifications.
	OnDetach(fn func(Descriptor)) (Subscription, error)
}

// BusAccessChecker is implemented by bus providers that can tell whether a
// raw USB device node may be opened. Bus devices from providers that do not
// implement it are reported as not accessible.
type BusAccessChecker interface {
	CheckBusAccess(ctx context.Context, info BusInfo) error
}

// Subscription is a registered listener. Close deregisters it; calling Close
// more than once is a no-op.
type Subscription interface {
	Close() error
}
