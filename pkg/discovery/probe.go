package discovery

import (
	"context"
	"errors"

	"github.com/kbselect/kbselect-go/pkg/hardware"
)

// SerialProbe queries the serial transport for known keyboards.
type SerialProbe struct {
	provider SerialProvider
	catalog  *hardware.Catalog
}

// NewSerialProbe returns a probe over provider.
func NewSerialProbe(provider SerialProvider, catalog *hardware.Catalog) *SerialProbe {
	return &SerialProbe{provider: provider, catalog: catalog}
}

// Probe returns the serial candidates. On failure it returns an empty slice
// and a *DiscoveryError.
func (p *SerialProbe) Probe(ctx context.Context) ([]Device, error) {
	devices, err := bounded(ctx, func(ctx context.Context) ([]Device, error) {
		return p.provider.FindDevices(ctx, p.catalog.SerialSignatures())
	})
	if err != nil {
		return []Device{}, &DiscoveryError{Transport: TransportSerial, Err: err}
	}

	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.Identity.Path == "" {
			// Not path-addressed; the bus probe owns such devices.
			continue
		}
		d.Transport.Kind = TransportSerial
		d.Transport.Bus = nil
		if d.Transport.Serial == nil {
			d.Transport.Serial = &SerialInfo{Path: d.Identity.Path}
		}
		if sig, ok := p.catalog.LookupSerial(d.Identity.ID()); ok {
			d.Signature = sig
			if d.DisplayName == "" {
				d.DisplayName = sig.DisplayName
			}
		}
		d.Accessible = false
		d.Supported = false
		out = append(out, d)
	}
	return out, nil
}

// BusProbe enumerates USB descriptors matching the catalog's bus identities.
type BusProbe struct {
	provider BusProvider
	catalog  *hardware.Catalog
}

// NewBusProbe returns a probe over provider.
func NewBusProbe(provider BusProvider, catalog *hardware.Catalog) *BusProbe {
	return &BusProbe{provider: provider, catalog: catalog}
}

// Descriptors returns every attached descriptor, unfiltered. On failure it
// returns an empty slice and a *DiscoveryError.
func (p *BusProbe) Descriptors(ctx context.Context) ([]Descriptor, error) {
	descs, err := bounded(ctx, p.provider.ListAttachedDescriptors)
	if err != nil {
		return []Descriptor{}, &DiscoveryError{Transport: TransportBus, Err: err}
	}
	return descs, nil
}

// Probe returns one Device per descriptor matching the catalog.
func (p *BusProbe) Probe(ctx context.Context) ([]Device, error) {
	descs, err := p.Descriptors(ctx)
	if err != nil {
		return []Device{}, err
	}
	out := make([]Device, 0, len(descs))
	for _, desc := range descs {
		if dev, ok := busDevice(desc, p.catalog); ok {
			out = append(out, dev)
		}
	}
	return out, nil
}

// busDevice converts a descriptor matching a catalog bus identity.
func busDevice(desc Descriptor, catalog *hardware.Catalog) (Device, bool) {
	sig, ok := catalog.LookupBus(desc.ID())
	if !ok {
		return Device{}, false
	}
	return Device{
		Identity:    Identity{VendorID: desc.VendorID, ProductID: desc.ProductID},
		Transport:   BusTransport(desc.Bus),
		DisplayName: sig.DisplayName,
		Signature:   sig,
	}, true
}

// bounded runs fn and gives up when ctx ends, so a provider that ignores its
// context cannot stall a cycle. A deadline is reported as ErrDiscoveryTimeout.
func bounded[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{v, err}
	}()

	var zero T
	select {
	case o := <-ch:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return zero, errors.Join(ErrDiscoveryTimeout, o.err)
		}
		return o.val, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrDiscoveryTimeout
		}
		return zero, ctx.Err()
	}
}
