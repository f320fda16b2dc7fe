package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/kbselect/kbselect-go/pkg/discovery"
)

// Connection errors.
var (
	ErrAlreadyConnected   = errors.New("already connected to this device")
	ErrConnectedElsewhere = errors.New("connected to another device")
	ErrBusy               = errors.New("connection state change in progress")
	ErrNotConnected       = errors.New("not connected")
	ErrDeviceGone         = errors.New("device disappeared")
	ErrConnectTimeout     = errors.New("connection timeout")
	ErrAborted            = errors.New("connect aborted")
	ErrClosed             = errors.New("controller closed")
	ErrInvalidConfig      = errors.New("invalid connection configuration")
)

// ConnectionError reports a failed Connect.
type ConnectionError struct {
	Device discovery.Identity
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Device, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// retryable reports whether an open failure is worth another attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrDeviceGone),
		errors.Is(err, ErrAborted),
		errors.Is(err, discovery.ErrPermissionDenied),
		errors.Is(err, discovery.ErrUnsupportedDevice),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
