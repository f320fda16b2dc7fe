package discovery

import (
	"errors"
	"fmt"
)

// Discovery errors.
var (
	ErrDiscoveryTimeout  = errors.New("discovery timed out")
	ErrUnsupportedDevice = errors.New("unsupported device")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrClosed            = errors.New("discovery closed")
	ErrInvalidConfig     = errors.New("invalid discovery configuration")
)

// DiscoveryError reports a failed transport enumeration. It never aborts a
// cycle; the probe's contribution is simply empty.
type DiscoveryError struct {
	Transport TransportKind
	Err       error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery: %s: %v", e.Transport, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// AccessibilityError reports that a device cannot be opened by the caller.
// During a scan it only shows up as Accessible=false on the device.
type AccessibilityError struct {
	Device Identity
	Err    error
}

func (e *AccessibilityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device %s is not accessible", e.Device)
	}
	return fmt.Sprintf("device %s is not accessible: %v", e.Device, e.Err)
}

func (e *AccessibilityError) Unwrap() error { return e.Err }
