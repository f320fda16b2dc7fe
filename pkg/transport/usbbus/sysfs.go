package usbbus

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kbselect/kbselect-go/pkg/discovery"
)

// scan reads every USB device below root. Hub ports ("usb1") and interface
// entries ("1-1:1.0") are skipped, as are entries that cannot be parsed.
func scan(root, devRoot string) ([]discovery.Descriptor, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var out []discovery.Descriptor
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}
		desc, err := parseDevice(filepath.Join(root, name), devRoot)
		if err != nil {
			continue
		}
		out = append(out, desc)
	}
	return out, nil
}

func parseDevice(dir, devRoot string) (discovery.Descriptor, error) {
	var desc discovery.Descriptor

	bus, err := readUint8(filepath.Join(dir, "busnum"))
	if err != nil {
		return desc, err
	}
	addr, err := readUint8(filepath.Join(dir, "devnum"))
	if err != nil {
		return desc, err
	}
	vid, err := readHexUint16(filepath.Join(dir, "idVendor"))
	if err != nil {
		return desc, err
	}
	pid, err := readHexUint16(filepath.Join(dir, "idProduct"))
	if err != nil {
		return desc, err
	}

	desc.VendorID = vid
	desc.ProductID = pid
	desc.Product, _ = readString(filepath.Join(dir, "product"))
	desc.Bus = discovery.BusInfo{
		BusNumber: bus,
		Address:   addr,
		SysfsPath: dir,
		Node:      nodePath(devRoot, bus, addr),
	}
	return desc, nil
}

// nodePath returns the usbfs node, devRoot/BBB/DDD.
func nodePath(devRoot string, bus, addr uint8) string {
	return filepath.Join(devRoot, fmt.Sprintf("%03d", bus), fmt.Sprintf("%03d", addr))
}

// parseNode is the inverse of nodePath.
func parseNode(devRoot, path string) (bus, addr uint8, ok bool) {
	rel, err := filepath.Rel(devRoot, path)
	if err != nil {
		return 0, 0, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	b, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return 0, 0, false
	}
	a, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return 0, 0, false
	}
	return uint8(b), uint8(a), true
}

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUint8(path string) (uint8, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

func readHexUint16(path string) (uint16, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
