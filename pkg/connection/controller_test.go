package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kbselect/kbselect-go/pkg/discovery"
	"github.com/kbselect/kbselect-go/pkg/log"
)

type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) OpenSession(ctx context.Context, dev discovery.Device) (Session, error) {
	args := m.Called(ctx, dev)
	s, _ := args.Get(0).(Session)
	return s, args.Error(1)
}

type fakeSession struct {
	closed   atomic.Int32
	closeErr error
}

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return s.closeErr
}

func keyboard(path string) discovery.Device {
	return discovery.Device{
		Identity:    discovery.Identity{VendorID: 0x1209, ProductID: 0x2301, Path: path},
		Transport:   discovery.SerialTransport(discovery.SerialInfo{Path: path}),
		DisplayName: "Keyboardio Model 01",
		Accessible:  true,
		Supported:   true,
	}
}

func newTestController(t *testing.T, opener Opener, opts ...func(*Config)) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Opener = opener
	cfg.ConnectTimeout = time.Second
	cfg.Backoff = BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := NewController(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type recorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *recorder) record(ch StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, ch)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.changes))
	for _, ch := range r.changes {
		out = append(out, ch.New)
	}
	return out
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "DISCONNECTING", StateDisconnecting.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.Opener = OpenerFunc(func(context.Context, discovery.Device) (Session, error) { return &fakeSession{}, nil })
	assert.NoError(t, cfg.Validate())

	cfg.MaxAttempts = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.MaxAttempts = 1
	cfg.ConnectTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestControllerConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("InitialState", func(t *testing.T) {
		c := newTestController(t, &mockOpener{})
		assert.Equal(t, StateIdle, c.State())
		assert.False(t, c.IsConnected())
		assert.NoError(t, c.LastError())
		_, ok := c.Device()
		assert.False(t, ok)
	})

	t.Run("Success", func(t *testing.T) {
		opener := &mockOpener{}
		session := &fakeSession{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(session, nil).Once()

		c := newTestController(t, opener)
		rec := &recorder{}
		c.OnStateChange(rec.record)

		require.NoError(t, c.Connect(ctx, keyboard("/dev/ttyACM0")))

		assert.Equal(t, StateConnected, c.State())
		assert.NotEmpty(t, c.SessionID())
		dev, ok := c.Device()
		require.True(t, ok)
		assert.Equal(t, "/dev/ttyACM0", dev.Path())
		assert.Equal(t, []State{StateConnecting, StateConnected}, rec.states())
		opener.AssertExpectations(t)
	})

	t.Run("InaccessibleNeverOpens", func(t *testing.T) {
		opener := &mockOpener{}
		c := newTestController(t, opener)

		dev := keyboard("/dev/ttyACM0")
		dev.Accessible = false
		err := c.Connect(ctx, dev)

		var accErr *discovery.AccessibilityError
		require.ErrorAs(t, err, &accErr)
		assert.Equal(t, dev.Identity, accErr.Device)
		assert.Equal(t, StateIdle, c.State())
		assert.NoError(t, c.LastError())
		opener.AssertNotCalled(t, "OpenSession", mock.Anything, mock.Anything)
	})

	t.Run("SameDeviceTwice", func(t *testing.T) {
		opener := &mockOpener{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(&fakeSession{}, nil).Once()
		c := newTestController(t, opener)

		require.NoError(t, c.Connect(ctx, keyboard("/dev/ttyACM0")))
		assert.ErrorIs(t, c.Connect(ctx, keyboard("/dev/ttyACM0")), ErrAlreadyConnected)
		assert.Equal(t, StateConnected, c.State())
		opener.AssertNumberOfCalls(t, "OpenSession", 1)
	})

	t.Run("OtherDeviceWhileConnected", func(t *testing.T) {
		opener := &mockOpener{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(&fakeSession{}, nil).Once()
		c := newTestController(t, opener)

		require.NoError(t, c.Connect(ctx, keyboard("/dev/ttyACM0")))
		assert.ErrorIs(t, c.Connect(ctx, keyboard("/dev/ttyACM1")), ErrConnectedElsewhere)

		dev, _ := c.Device()
		assert.Equal(t, "/dev/ttyACM0", dev.Path())
	})

	t.Run("FailureReturnsToIdle", func(t *testing.T) {
		opener := &mockOpener{}
		openErr := errors.New("resource busy")
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(nil, openErr)
		c := newTestController(t, opener)
		rec := &recorder{}
		c.OnStateChange(rec.record)

		err := c.Connect(ctx, keyboard("/dev/ttyACM0"))

		var cerr *ConnectionError
		require.ErrorAs(t, err, &cerr)
		assert.ErrorIs(t, err, openErr)
		assert.Equal(t, "/dev/ttyACM0", cerr.Device.Path)
		assert.Equal(t, StateIdle, c.State())
		assert.Equal(t, err, c.LastError())
		assert.Empty(t, c.SessionID())
		assert.Equal(t, []State{StateConnecting, StateIdle}, rec.states())
		opener.AssertNumberOfCalls(t, "OpenSession", DefaultMaxAttempts)
	})

	t.Run("TransientFailureRetried", func(t *testing.T) {
		opener := &mockOpener{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(nil, errors.New("EAGAIN")).Once()
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(&fakeSession{}, nil).Once()
		c := newTestController(t, opener)

		require.NoError(t, c.Connect(ctx, keyboard("/dev/ttyACM0")))
		assert.NoError(t, c.LastError())
		opener.AssertNumberOfCalls(t, "OpenSession", 2)
	})

	t.Run("PermissionDeniedNotRetried", func(t *testing.T) {
		opener := &mockOpener{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(nil, discovery.ErrPermissionDenied)
		c := newTestController(t, opener)

		err := c.Connect(ctx, keyboard("/dev/ttyACM0"))
		assert.ErrorIs(t, err, discovery.ErrPermissionDenied)
		opener.AssertNumberOfCalls(t, "OpenSession", 1)
	})

	t.Run("DeviceGoneMidOpen", func(t *testing.T) {
		opener := &mockOpener{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(nil, ErrDeviceGone)
		c := newTestController(t, opener)

		err := c.Connect(ctx, keyboard("/dev/ttyACM0"))
		var cerr *ConnectionError
		require.ErrorAs(t, err, &cerr)
		assert.ErrorIs(t, err, ErrDeviceGone)
		assert.Equal(t, StateIdle, c.State())
		opener.AssertNumberOfCalls(t, "OpenSession", 1)
	})

	t.Run("ReconnectAfterFailure", func(t *testing.T) {
		opener := &mockOpener{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(nil, ErrDeviceGone).Once()
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(&fakeSession{}, nil).Once()
		c := newTestController(t, opener)

		require.Error(t, c.Connect(ctx, keyboard("/dev/ttyACM0")))
		require.NoError(t, c.Connect(ctx, keyboard("/dev/ttyACM0")))
		assert.NoError(t, c.LastError(), "a new connect clears the last error")
	})

	t.Run("OpenerIgnoringContextTimesOut", func(t *testing.T) {
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		late := &fakeSession{}
		opener := OpenerFunc(func(context.Context, discovery.Device) (Session, error) {
			<-release
			return late, nil
		})
		c := newTestController(t, opener, func(cfg *Config) {
			cfg.ConnectTimeout = 20 * time.Millisecond
			cfg.MaxAttempts = 1
		})

		err := c.Connect(ctx, keyboard("/dev/ttyACM0"))
		assert.ErrorIs(t, err, ErrConnectTimeout)
		assert.Equal(t, StateIdle, c.State())
	})
}

func TestControllerBusy(t *testing.T) {
	entered := make(chan struct{})
	opener := OpenerFunc(func(ctx context.Context, _ discovery.Device) (Session, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := newTestController(t, opener, func(cfg *Config) {
		cfg.ConnectTimeout = time.Minute
	})

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background(), keyboard("/dev/ttyACM0")) }()
	<-entered

	assert.Equal(t, StateConnecting, c.State())
	assert.ErrorIs(t, c.Connect(context.Background(), keyboard("/dev/ttyACM1")), ErrBusy)
	assert.ErrorIs(t, c.Disconnect(context.Background()), ErrNotConnected)

	require.True(t, c.Abort())
	select {
	case err := <-done:
		var cerr *ConnectionError
		require.ErrorAs(t, err, &cerr)
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("abort did not unblock Connect")
	}
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.Abort(), "nothing left to abort")
}

func TestControllerDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("NotConnected", func(t *testing.T) {
		c := newTestController(t, &mockOpener{})
		assert.ErrorIs(t, c.Disconnect(ctx), ErrNotConnected)
	})

	t.Run("ReturnsToIdle", func(t *testing.T) {
		session := &fakeSession{}
		opener := &mockOpener{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(session, nil)
		c := newTestController(t, opener)
		rec := &recorder{}

		require.NoError(t, c.Connect(ctx, keyboard("/dev/ttyACM0")))
		c.OnStateChange(rec.record)
		require.NoError(t, c.Disconnect(ctx))

		assert.Equal(t, StateIdle, c.State())
		assert.Equal(t, int32(1), session.closed.Load())
		assert.Empty(t, c.SessionID())
		assert.Equal(t, []State{StateDisconnecting, StateIdle}, rec.states())
	})

	t.Run("CloseErrorIsSwallowed", func(t *testing.T) {
		session := &fakeSession{closeErr: errors.New("EIO")}
		opener := &mockOpener{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(session, nil)
		c := newTestController(t, opener)

		require.NoError(t, c.Connect(ctx, keyboard("/dev/ttyACM0")))
		assert.NoError(t, c.Disconnect(ctx))
		assert.Equal(t, StateIdle, c.State())
	})

	t.Run("ConnectAgainAfterDisconnect", func(t *testing.T) {
		opener := &mockOpener{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(&fakeSession{}, nil)
		c := newTestController(t, opener)

		require.NoError(t, c.Connect(ctx, keyboard("/dev/ttyACM0")))
		require.NoError(t, c.Disconnect(ctx))
		require.NoError(t, c.Connect(ctx, keyboard("/dev/ttyACM1")))
	})
}

func TestControllerDeviceLost(t *testing.T) {
	ctx := context.Background()
	session := &fakeSession{}
	opener := &mockOpener{}
	opener.On("OpenSession", mock.Anything, mock.Anything).Return(session, nil)
	c := newTestController(t, opener)
	rec := &recorder{}
	c.OnStateChange(rec.record)

	dev := keyboard("/dev/ttyACM0")
	require.NoError(t, c.Connect(ctx, dev))

	other := keyboard("/dev/ttyACM1")
	assert.False(t, c.DeviceLost(other.Identity))
	assert.Equal(t, StateConnected, c.State())

	assert.True(t, c.DeviceLost(dev.Identity))
	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.LastError(), "only a failed connect sets the last error")
	assert.Equal(t, int32(1), session.closed.Load())

	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnecting, StateIdle}, rec.states())
	rec.mu.Lock()
	last := rec.changes[len(rec.changes)-1]
	rec.mu.Unlock()
	assert.Equal(t, StateDisconnecting, last.Old)
	assert.ErrorIs(t, last.Err, ErrDeviceGone)
}

func TestControllerClose(t *testing.T) {
	ctx := context.Background()

	t.Run("ClosesActiveSession", func(t *testing.T) {
		session := &fakeSession{}
		opener := &mockOpener{}
		opener.On("OpenSession", mock.Anything, mock.Anything).Return(session, nil)
		c := newTestController(t, opener)

		require.NoError(t, c.Connect(ctx, keyboard("/dev/ttyACM0")))
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		assert.Equal(t, StateIdle, c.State())
		assert.Equal(t, int32(1), session.closed.Load())
		assert.ErrorIs(t, c.Connect(ctx, keyboard("/dev/ttyACM0")), ErrClosed)
	})

	t.Run("AbortsInFlightConnect", func(t *testing.T) {
		entered := make(chan struct{})
		opener := OpenerFunc(func(ctx context.Context, _ discovery.Device) (Session, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		c := newTestController(t, opener, func(cfg *Config) { cfg.ConnectTimeout = time.Minute })

		done := make(chan error, 1)
		go func() { done <- c.Connect(ctx, keyboard("/dev/ttyACM0")) }()
		<-entered

		require.NoError(t, c.Close())
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("Close did not abort Connect")
		}
	})
}

func TestControllerAbort(t *testing.T) {
	ctx := context.Background()

	t.Run("NothingInFlight", func(t *testing.T) {
		c := newTestController(t, &mockOpener{})
		assert.False(t, c.Abort())
	})

	t.Run("WinsOverLateSuccess", func(t *testing.T) {
		session := &fakeSession{}
		var (
			c       *Controller
			aborted atomic.Bool
		)
		// The open succeeds, but Abort lands before Connect commits it.
		opener := OpenerFunc(func(context.Context, discovery.Device) (Session, error) {
			aborted.Store(c.Abort())
			return session, nil
		})
		c = newTestController(t, opener)

		err := c.Connect(ctx, keyboard("/dev/ttyACM0"))
		assert.ErrorIs(t, err, ErrAborted)
		assert.Equal(t, StateIdle, c.State())
		assert.ErrorIs(t, c.LastError(), ErrAborted)
		assert.Eventually(t, func() bool {
			return aborted.Load() && session.closed.Load() == 1
		}, time.Second, 5*time.Millisecond)
	})
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestControllerEvents(t *testing.T) {
	events := &captureLogger{}
	opener := &mockOpener{}
	opener.On("OpenSession", mock.Anything, mock.Anything).Return(&fakeSession{}, nil)
	c := newTestController(t, opener, func(cfg *Config) { cfg.EventLogger = events })

	require.NoError(t, c.Connect(context.Background(), keyboard("/dev/ttyACM0")))
	id := c.SessionID()
	require.NoError(t, c.Disconnect(context.Background()))

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.events, 4)

	want := []string{"CONNECTING", "CONNECTED", "DISCONNECTING", "IDLE"}
	for i, e := range events.events {
		assert.Equal(t, log.CategoryState, e.Category)
		assert.Equal(t, want[i], e.StateChange.NewState)
		assert.Equal(t, id, e.CorrelationID)
		assert.Equal(t, log.TransportSerial, e.Transport)
		assert.Equal(t, "1209:2301@/dev/ttyACM0", e.DeviceID)
	}
}
