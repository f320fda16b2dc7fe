package discovery

import (
	"sync"

	"github.com/kbselect/kbselect-go/pkg/hardware"
)

// Merge builds the discovery list from the filtered serial candidates and the
// raw bus descriptors.
//
// Serial devices come first, in order. A bus descriptor matching a catalog
// bus identity is appended unless an entry with the same vendor/product pair
// is already present, which is typically the serial view of the same unit.
// The check is a nested scan, O(n·m) in candidate counts; those are tens at
// most.
//
// The result never holds two entries with equal Identity.
func Merge(serial []Device, descs []Descriptor, catalog *hardware.Catalog) []Device {
	out := make([]Device, 0, len(serial)+len(descs))
	seen := make(map[Identity]struct{}, len(serial))

	for _, d := range serial {
		if _, dup := seen[d.Identity]; dup {
			continue
		}
		seen[d.Identity] = struct{}{}
		out = append(out, d)
	}

	for _, desc := range descs {
		dev, ok := busDevice(desc, catalog)
		if !ok {
			continue
		}
		if representedBy(out, desc.VendorID, desc.ProductID) {
			continue
		}
		out = append(out, dev)
	}
	return out
}

func representedBy(devices []Device, vendorID, productID uint16) bool {
	for _, d := range devices {
		if d.Identity.VendorID == vendorID && d.Identity.ProductID == productID {
			return true
		}
	}
	return false
}

// Registry holds the last published discovery result.
type Registry struct {
	mu      sync.RWMutex
	current Result
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Publish replaces the current result if res comes from a newer cycle than
// the one currently published. It reports whether res was accepted.
func (r *Registry) Publish(res Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Cycle <= r.current.Cycle {
		return false
	}
	r.current = res.Clone()
	return true
}

// Result returns a copy of the current result.
func (r *Registry) Result() Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Clone()
}
