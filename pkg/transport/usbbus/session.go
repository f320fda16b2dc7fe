package usbbus

import (
	"os"
	"sync"

	"github.com/kbselect/kbselect-go/pkg/discovery"
)

// Session holds an open usbfs node, typically of a keyboard in its
// bootloader.
type Session struct {
	mu   sync.Mutex
	file *os.File
	info discovery.BusInfo
}

// Info returns the bus location of the device.
func (s *Session) Info() discovery.BusInfo { return s.info }

// File returns the open node for ioctl-level access.
func (s *Session) File() *os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// Close releases the node. Later calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
