package hardware

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog errors.
var (
	ErrInvalidID      = errors.New("invalid usb id")
	ErrDuplicateID    = errors.New("duplicate usb id")
	ErrEmptyCatalog   = errors.New("catalog has no entries")
	ErrMissingDisplay = errors.New("missing display name")
)

// ID is a USB vendor/product pair.
type ID struct {
	VendorID  uint16
	ProductID uint16
}

// String returns the lsusb-style "vvvv:pppp" form.
func (id ID) String() string {
	return fmt.Sprintf("%04x:%04x", id.VendorID, id.ProductID)
}

// ParseID parses a "vvvv:pppp" hexadecimal pair. A "0x" prefix on either half
// is accepted.
func ParseID(s string) (ID, error) {
	vendor, product, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	vid, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(vendor), "0x"), 16, 16)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: vendor: %v", ErrInvalidID, s, err)
	}
	pid, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(product), "0x"), 16, 16)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: product: %v", ErrInvalidID, s, err)
	}
	return ID{VendorID: uint16(vid), ProductID: uint16(pid)}, nil
}

// UnmarshalYAML decodes an ID from its "vvvv:pppp" string form.
func (id *ID) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalYAML encodes an ID in its "vvvv:pppp" string form.
func (id ID) MarshalYAML() (any, error) {
	return id.String(), nil
}

// Signature describes one supported keyboard model as seen on one transport.
type Signature struct {
	ID          ID     `yaml:"id"`
	Vendor      string `yaml:"vendor"`
	Product     string `yaml:"product"`
	DisplayName string `yaml:"display_name"`

	// FirmwarePrefix, when set, must prefix the firmware's version reply for
	// an accessible serial device to count as supported.
	FirmwarePrefix string `yaml:"firmware_prefix,omitempty"`

	// Bootloader marks bus entries that represent a keyboard in flashing mode.
	Bootloader bool `yaml:"bootloader,omitempty"`
}

// Catalog is the static capability table.
type Catalog struct {
	serial []Signature
	bus    []Signature
}

type catalogFile struct {
	Serial []Signature `yaml:"serial"`
	Bus    []Signature `yaml:"bus"`
}

// New builds a catalog from serial and bus signature lists.
func New(serial, bus []Signature) (*Catalog, error) {
	c := &Catalog{
		serial: append([]Signature(nil), serial...),
		bus:    append([]Signature(nil), bus...),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that every entry has a display name and that no ID appears
// twice on the same transport.
func (c *Catalog) Validate() error {
	if len(c.serial) == 0 && len(c.bus) == 0 {
		return ErrEmptyCatalog
	}
	for _, list := range [][]Signature{c.serial, c.bus} {
		seen := make(map[ID]struct{}, len(list))
		for _, sig := range list {
			if sig.DisplayName == "" {
				return fmt.Errorf("%w: %s", ErrMissingDisplay, sig.ID)
			}
			if _, dup := seen[sig.ID]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateID, sig.ID)
			}
			seen[sig.ID] = struct{}{}
		}
	}
	return nil
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a catalog from YAML bytes.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse hardware catalog: %w", err)
	}
	return New(f.Serial, f.Bus)
}

// Marshal encodes the catalog in the YAML format accepted by Parse.
func (c *Catalog) Marshal() ([]byte, error) {
	return yaml.Marshal(catalogFile{Serial: c.serial, Bus: c.bus})
}

// SerialSignatures returns the signatures probed on the serial transport.
func (c *Catalog) SerialSignatures() []Signature {
	return append([]Signature(nil), c.serial...)
}

// BusSignatures returns the signatures matched on the bus transport.
func (c *Catalog) BusSignatures() []Signature {
	return append([]Signature(nil), c.bus...)
}

// BusIdentities returns the vendor/product pairs matched on the bus transport.
func (c *Catalog) BusIdentities() []ID {
	ids := make([]ID, 0, len(c.bus))
	for _, sig := range c.bus {
		ids = append(ids, sig.ID)
	}
	return ids
}

// LookupSerial finds the serial signature for id.
func (c *Catalog) LookupSerial(id ID) (Signature, bool) {
	return lookup(c.serial, id)
}

// LookupBus finds the bus signature for id.
func (c *Catalog) LookupBus(id ID) (Signature, bool) {
	return lookup(c.bus, id)
}

func lookup(list []Signature, id ID) (Signature, bool) {
	for _, sig := range list {
		if sig.ID == id {
			return sig, true
		}
	}
	return Signature{}, false
}
