package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbselect/kbselect-go/pkg/discovery"
	"github.com/kbselect/kbselect-go/pkg/log"
)

// Controller defaults.
const (
	// DefaultConnectTimeout bounds a single open attempt.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultMaxAttempts is the number of open attempts per Connect.
	DefaultMaxAttempts = 3
)

// State represents the session state.
type State uint8

const (
	// StateIdle indicates no session.
	StateIdle State = iota

	// StateConnecting indicates an open is in progress.
	StateConnecting

	// StateConnected indicates an active session.
	StateConnected

	// StateDisconnecting indicates the session is being closed.
	StateDisconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Session is an open device handle.
type Session interface {
	Close() error
}

// Opener opens sessions to discovered devices.
type Opener interface {
	OpenSession(ctx context.Context, dev discovery.Device) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, dev discovery.Device) (Session, error)

// OpenSession calls f.
func (f OpenerFunc) OpenSession(ctx context.Context, dev discovery.Device) (Session, error) {
	return f(ctx, dev)
}

// StateChange describes one transition.
type StateChange struct {
	Old    State
	New    State
	Device discovery.Device

	// SessionID correlates the transitions of one Connect.
	SessionID string

	// Err is set on a failed connect and on device loss.
	Err error
}

// Config configures a Controller.
type Config struct {
	// Opener opens sessions. Required.
	Opener Opener

	// ConnectTimeout bounds each open attempt.
	ConnectTimeout time.Duration

	// MaxAttempts is the number of open attempts per Connect.
	MaxAttempts int

	// Backoff is the delay schedule between attempts.
	Backoff BackoffConfig

	// Logger for operational output (optional).
	Logger *slog.Logger

	// EventLogger receives STATE and ERROR events (optional).
	EventLogger log.Logger
}

// DefaultConfig returns a Config with default timings. Opener must be set.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		MaxAttempts:    DefaultMaxAttempts,
		Backoff:        DefaultBackoffConfig(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Opener == nil {
		return fmt.Errorf("%w: opener is required", ErrInvalidConfig)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Controller is the exclusive owner of the active Session.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	events log.Logger

	mu         sync.Mutex
	state      State
	device     discovery.Device
	session    Session
	sessionID  string
	lastErr    error
	cancelOpen context.CancelCauseFunc
	closed     bool
	handlers   []func(StateChange)
}

// NewController creates a Controller in StateIdle.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		cfg:    cfg,
		logger: logger,
		events: log.OrNoop(cfg.EventLogger),
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if a session is active.
func (c *Controller) IsConnected() bool {
	return c.State() == StateConnected
}

// Device returns the device being connected to or connected.
func (c *Controller) Device() (discovery.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting && c.state != StateConnected {
		return discovery.Device{}, false
	}
	return c.device.Clone(), true
}

// SessionID returns the ID of the active session, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastError returns the error of the last failed connect. It is cleared by
// the next Connect.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OnStateChange registers a handler called after every transition.
func (c *Controller) OnStateChange(fn func(StateChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Connect opens a session to dev.
func (c *Controller) Connect(ctx context.Context, dev discovery.Device) error {
	if !dev.Accessible {
		return &discovery.AccessibilityError{Device: dev.Identity, Err: discovery.ErrPermissionDenied}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateConnected:
		same := c.device.Identity == dev.Identity
		c.mu.Unlock()
		if same {
			return ErrAlreadyConnected
		}
		return ErrConnectedElsewhere
	case StateConnecting, StateDisconnecting:
		c.mu.Unlock()
		return ErrBusy
	}

	dev = dev.Clone()
	openCtx, cancel := context.WithCancelCause(ctx)
	c.device = dev
	c.lastErr = nil
	c.cancelOpen = cancel
	sessionID := uuid.NewString()
	c.sessionID = sessionID
	change := c.transitionLocked(StateConnecting, nil)
	c.mu.Unlock()
	c.notify(change, "connect requested")

	c.logger.Info("connecting", "device", dev.Label(), "session", sessionID)
	session, err := c.open(openCtx, dev)
	if err == nil {
		// An Abort or Close that landed after the opener returned still wins.
		if cause := context.Cause(openCtx); errors.Is(cause, ErrAborted) || errors.Is(cause, ErrClosed) {
			_ = session.Close()
			session, err = nil, cause
		} else if c.isClosed() {
			_ = session.Close()
			session, err = nil, ErrClosed
		}
	}
	if err != nil && errors.Is(err, context.Canceled) {
		if cause := context.Cause(openCtx); cause != nil && !errors.Is(cause, context.Canceled) {
			err = cause
		}
	}
	cancel(nil)

	c.mu.Lock()
	c.cancelOpen = nil
	if err != nil {
		cerr := &ConnectionError{Device: dev.Identity, Err: err}
		c.lastErr = cerr
		change := c.transitionLocked(StateIdle, cerr)
		c.sessionID = ""
		c.mu.Unlock()

		c.logger.Warn("connect failed", "device", dev.Label(), "error", err)
		c.logError("connect", cerr, sessionID)
		c.notify(change, err.Error())
		return cerr
	}

	c.session = session
	change = c.transitionLocked(StateConnected, nil)
	c.mu.Unlock()

	c.logger.Info("connected", "device", dev.Label(), "session", sessionID)
	c.notify(change, "session open")
	return nil
}

// open runs the attempts of one Connect.
func (c *Controller) open(ctx context.Context, dev discovery.Device) (Session, error) {
	backoff := NewBackoffWithConfig(c.cfg.Backoff)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff.Next()
			c.logger.Debug("retrying open", "device", dev.Label(), "attempt", attempt, "delay", delay, "error", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		session, err := c.openOnce(ctx, dev)
		if err == nil {
			return session, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// openOnce performs one bounded open. If the opener returns after the
// deadline anyway, the late session is closed.
func (c *Controller) openOnce(ctx context.Context, dev discovery.Device) (Session, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	type outcome struct {
		session Session
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		s, err := c.cfg.Opener.OpenSession(attemptCtx, dev)
		ch <- outcome{s, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.Join(ErrConnectTimeout, o.err)
		}
		return o.session, o.err
	case <-attemptCtx.Done():
		go func() {
			if o := <-ch; o.err == nil && o.session != nil {
				_ = o.session.Close()
			}
		}()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrConnectTimeout
	}
}

// Abort cancels an in-flight Connect, which then fails with ErrAborted.
// It reports whether there was one.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting || c.cancelOpen == nil {
		return false
	}
	c.cancelOpen(ErrAborted)
	return true
}

// Disconnect closes the active session. From Connected it always ends in
// StateIdle; a failing Session.Close is logged, not returned. If ctx ends
// before Close returns, the controller stops waiting for it.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	session, dev, sessionID := c.session, c.device, c.sessionID
	change := c.transitionLocked(StateDisconnecting, nil)
	c.mu.Unlock()
	c.notify(change, "disconnect requested")

	if err := closeSession(ctx, session); err != nil {
		c.logger.Warn("session close failed", "device", dev.Label(), "error", err)
		c.logError("disconnect", err, sessionID)
	}

	c.mu.Lock()
	c.session = nil
	change = c.transitionLocked(StateIdle, nil)
	c.sessionID = ""
	c.mu.Unlock()

	c.logger.Info("disconnected", "device", dev.Label(), "session", sessionID)
	c.notify(change, "session closed")
	return nil
}

// DeviceLost tears down the session if it belongs to id. The loss is carried
// by the StateChange (ErrDeviceGone), not by LastError, which only records
// failed connects. It reports whether a session was dropped.
func (c *Controller) DeviceLost(id discovery.Identity) bool {
	c.mu.Lock()
	if c.state != StateConnected || c.device.Identity != id {
		c.mu.Unlock()
		return false
	}
	session, dev, sessionID := c.session, c.device, c.sessionID
	cerr := &ConnectionError{Device: id, Err: ErrDeviceGone}
	change := c.transitionLocked(StateDisconnecting, cerr)
	c.mu.Unlock()
	c.notify(change, "device gone")

	// The handle is dead; close only releases the descriptor.
	_ = session.Close()

	c.mu.Lock()
	c.session = nil
	change = c.transitionLocked(StateIdle, cerr)
	c.sessionID = ""
	c.mu.Unlock()

	c.logger.Warn("device lost", "device", dev.Label(), "session", sessionID)
	c.logError("session", cerr, sessionID)
	c.notify(change, "device gone")
	return true
}

// Close aborts an in-flight Connect, closes an active session and rejects
// further Connect calls.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancelOpen != nil {
		c.cancelOpen(ErrClosed)
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		return c.Disconnect(context.Background())
	}
	return nil
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// transitionLocked sets the state and returns the change to deliver once the
// lock is released.
func (c *Controller) transitionLocked(to State, err error) StateChange {
	change := StateChange{Old: c.state, New: to, Device: c.device.Clone(), SessionID: c.sessionID, Err: err}
	c.state = to
	return change
}

func (c *Controller) notify(change StateChange, reason string) {
	c.events.Log(log.Event{
		Timestamp:     time.Now(),
		CorrelationID: change.SessionID,
		Category:      log.CategoryState,
		Transport:     change.Device.Transport.Kind.LogTransport(),
		DeviceID:      change.Device.Identity.String(),
		StateChange: &log.StateChangeEvent{
			OldState: change.Old.String(),
			NewState: change.New.String(),
			Reason:   reason,
		},
	})

	c.mu.Lock()
	handlers := append(([]func(StateChange))(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(change)
	}
}

func (c *Controller) logError(op string, err error, sessionID string) {
	c.events.Log(log.Event{
		Timestamp:     time.Now(),
		CorrelationID: sessionID,
		Category:      log.CategoryError,
		Error: &log.ErrorEventData{
			Component: "controller",
			Message:   err.Error(),
			Context:   op,
		},
	})
}

func closeSession(ctx context.Context, s Session) error {
	if s == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("close abandoned: %w", ctx.Err())
	}
}
