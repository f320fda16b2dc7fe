package discovery

import (
	"context"
	"sync"

	"github.com/kbselect/kbselect-go/pkg/hardware"
)

var (
	model01       = hardware.ID{VendorID: 0x1209, ProductID: 0x2301}
	model01Boot   = hardware.ID{VendorID: 0x1209, ProductID: 0x2300}
	raise         = hardware.ID{VendorID: 0x1209, ProductID: 0x2201}
	unknownDevice = hardware.ID{VendorID: 0x046d, ProductID: 0xc52b}
)

func serialDevice(id hardware.ID, path string) Device {
	return Device{
		Identity:  Identity{VendorID: id.VendorID, ProductID: id.ProductID, Path: path},
		Transport: SerialTransport(SerialInfo{Path: path}),
	}
}

func descriptor(id hardware.ID, bus, addr uint8) Descriptor {
	return Descriptor{
		VendorID:  id.VendorID,
		ProductID: id.ProductID,
		Bus:       BusInfo{BusNumber: bus, Address: addr},
	}
}

// fakeSerial is an in-memory SerialProvider.
type fakeSerial struct {
	mu          sync.Mutex
	devices     []Device
	findErr     error
	release     chan struct{}
	denied      map[string]error
	unsupported map[string]bool
	// accessGate, if set, is received from before each access check,
	// ignoring ctx.
	accessGate  chan struct{}
	supportHits int
}

func (f *fakeSerial) FindDevices(ctx context.Context, sigs []hardware.Signature) ([]Device, error) {
	f.mu.Lock()
	release, err := f.release, f.findErr
	devices := append([]Device(nil), f.devices...)
	f.mu.Unlock()

	if release != nil {
		// Ignores ctx until released.
		<-release
	}
	if err != nil {
		return nil, err
	}

	known := make(map[hardware.ID]bool, len(sigs))
	for _, s := range sigs {
		known[s.ID] = true
	}
	var out []Device
	for _, d := range devices {
		if known[d.Identity.ID()] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeSerial) CheckAccess(_ context.Context, dev Device) error {
	f.mu.Lock()
	gate := f.accessGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.denied[dev.Identity.Path]
}

func (f *fakeSerial) CheckSupport(_ context.Context, dev Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supportHits++
	if f.unsupported[dev.Identity.Path] {
		return ErrUnsupportedDevice
	}
	return nil
}

func (f *fakeSerial) set(devices ...Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

// fakeBus is an in-memory BusProvider with hotplug listeners.
type fakeBus struct {
	mu        sync.Mutex
	descs     []Descriptor
	listErr   error
	attachErr error
	detachErr error
	nextID    int
	attach    map[int]func(Descriptor)
	detach    map[int]func(Descriptor)
}

func newFakeBus(descs ...Descriptor) *fakeBus {
	return &fakeBus{
		descs:  descs,
		attach: make(map[int]func(Descriptor)),
		detach: make(map[int]func(Descriptor)),
	}
}

func (b *fakeBus) ListAttachedDescriptors(context.Context) ([]Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]Descriptor(nil), b.descs...), nil
}

func (b *fakeBus) OnAttach(fn func(Descriptor)) (Subscription, error) {
	return b.subscribe(b.attach, b.attachErr, fn)
}

func (b *fakeBus) OnDetach(fn func(Descriptor)) (Subscription, error) {
	return b.subscribe(b.detach, b.detachErr, fn)
}

func (b *fakeBus) subscribe(set map[int]func(Descriptor), failWith error, fn func(Descriptor)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if failWith != nil {
		return nil, failWith
	}
	b.nextID++
	id := b.nextID
	set[id] = fn
	return &fakeSub{close: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(set, id)
	}}, nil
}

func (b *fakeBus) listeners() (attach, detach int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.attach), len(b.detach)
}

func (b *fakeBus) plug(d Descriptor) {
	b.mu.Lock()
	b.descs = append(b.descs, d)
	fns := make([]func(Descriptor), 0, len(b.attach))
	for _, fn := range b.attach {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(d)
	}
}

func (b *fakeBus) unplug(id hardware.ID) {
	b.mu.Lock()
	var removed []Descriptor
	kept := b.descs[:0]
	for _, d := range b.descs {
		if d.ID() == id {
			removed = append(removed, d)
			continue
		}
		kept = append(kept, d)
	}
	b.descs = kept
	fns := make([]func(Descriptor), 0, len(b.detach))
	for _, fn := range b.detach {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, d := range removed {
		for _, fn := range fns {
			fn(d)
		}
	}
}

type fakeSub struct {
	once  sync.Once
	close func()
}

func (s *fakeSub) Close() error {
	s.once.Do(s.close)
	return nil
}

// accessibleBus adds BusAccessChecker to fakeBus.
type accessibleBus struct {
	*fakeBus
	denied map[uint8]error
}

func (b *accessibleBus) CheckBusAccess(_ context.Context, info BusInfo) error {
	return b.denied[info.Address]
}
