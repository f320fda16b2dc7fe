package interactive

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbselect/kbselect-go/pkg/connection"
	"github.com/kbselect/kbselect-go/pkg/discovery"
	"github.com/kbselect/kbselect-go/pkg/service"
)

// lockedBuffer is written from background connects.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeService struct {
	mu         sync.Mutex
	result     discovery.Result
	scanErr    error
	selected   int
	connected  bool
	connectErr error
	connects   int
	aborted    bool
	handlers   []service.EventHandler
}

func newFakeService(devs ...discovery.Device) *fakeService {
	return &fakeService{
		result:   discovery.Result{Devices: devs, Cycle: 1},
		selected: -1,
	}
}

func (f *fakeService) OnEvent(h service.EventHandler) { f.handlers = append(f.handlers, h) }

func (f *fakeService) Scan(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return false, f.scanErr
	}
	f.result.Cycle++
	return len(f.result.Devices) > 0, nil
}

func (f *fakeService) ScanFeedback() (bool, bool) { return len(f.result.Devices) > 0, true }
func (f *fakeService) Refresh()                   {}

func (f *fakeService) Result() discovery.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *fakeService) Select(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.result.Devices) {
		return service.ErrInvalidIndex
	}
	f.selected = index
	return nil
}

func (f *fakeService) Selected() (discovery.Device, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selected < 0 {
		return discovery.Device{}, -1, false
	}
	return f.result.Devices[f.selected], f.selected, true
}

func (f *fakeService) ConnectSelected(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeService) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return connection.ErrNotConnected
	}
	f.connected = false
	return nil
}

func (f *fakeService) Abort() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	return false
}

func (f *fakeService) ConnectionState() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return connection.StateConnected
	}
	return connection.StateIdle
}

func (f *fakeService) Connected() (discovery.Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected || f.selected < 0 {
		return discovery.Device{}, false
	}
	return f.result.Devices[f.selected], true
}

func (f *fakeService) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func keyboard(path string, accessible bool) discovery.Device {
	return discovery.Device{
		Identity:    discovery.Identity{VendorID: 0x1209, ProductID: 0x2301, Path: path},
		Transport:   discovery.SerialTransport(discovery.SerialInfo{Path: path}),
		DisplayName: "Keyboardio Model 01",
		Accessible:  accessible,
		Supported:   accessible,
	}
}

func setup(t *testing.T, devs ...discovery.Device) (*Console, *fakeService, *lockedBuffer) {
	t.Helper()
	svc := newFakeService(devs...)
	out := &lockedBuffer{}
	return newConsole(svc, out), svc, out
}

func TestConsoleRegistersEventHandler(t *testing.T) {
	_, svc, out := setup(t)
	require.Len(t, svc.handlers, 1)

	svc.handlers[0](service.Event{Type: service.EventConnected, Device: keyboard("/dev/ttyACM0", true)})
	assert.Contains(t, out.String(), "Connected to 1209:2301@/dev/ttyACM0")
}

func TestConsoleScanAndList(t *testing.T) {
	c, _, out := setup(t, keyboard("/dev/ttyACM0", true), keyboard("/dev/ttyACM1", false))

	quit := c.Execute(context.Background(), "scan")
	assert.False(t, quit)

	text := out.String()
	assert.Contains(t, text, "Keyboard found")
	assert.Contains(t, text, "0. Keyboardio Model 01 (/dev/ttyACM0)")
	assert.Contains(t, text, "1. Keyboardio Model 01 (/dev/ttyACM1)")
	assert.Contains(t, text, "[no access]")
}

func TestConsoleScanEmpty(t *testing.T) {
	c, _, out := setup(t)
	c.Execute(context.Background(), "scan")
	assert.Contains(t, out.String(), "No keyboard found")
	assert.Contains(t, out.String(), "No keyboards.")
}

func TestConsoleScanError(t *testing.T) {
	c, svc, out := setup(t)
	svc.scanErr = service.ErrStopped
	c.Execute(context.Background(), "scan")
	assert.Contains(t, out.String(), "Scan failed: service stopped")
}

func TestConsoleSelect(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"select 0", "Selected 0: 1209:2301@/dev/ttyACM0"},
		{"select 5", "Select failed: device index out of range"},
		{"select x", "Invalid index: x"},
		{"select", "Usage: select <n>"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, _, out := setup(t, keyboard("/dev/ttyACM0", true))
			c.Execute(context.Background(), tt.line)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestConsoleConnect(t *testing.T) {
	t.Run("with index", func(t *testing.T) {
		c, svc, out := setup(t, keyboard("/dev/ttyACM0", true))
		c.Execute(context.Background(), "connect 0")
		c.Wait()

		assert.Equal(t, 1, svc.connects)
		assert.Contains(t, out.String(), "Connecting to 1209:2301@/dev/ttyACM0")
		assert.Equal(t, connection.StateConnected, svc.ConnectionState())
	})

	t.Run("without selection", func(t *testing.T) {
		c, svc, out := setup(t, keyboard("/dev/ttyACM0", true))
		c.Execute(context.Background(), "connect")
		c.Wait()

		assert.Zero(t, svc.connects)
		assert.Contains(t, out.String(), "No keyboard selected")
	})

	t.Run("inaccessible", func(t *testing.T) {
		c, svc, out := setup(t, keyboard("/dev/ttyACM0", false))
		c.Execute(context.Background(), "connect 0")
		c.Wait()

		assert.Zero(t, svc.connects)
		assert.Contains(t, out.String(), "No access to")
	})

	t.Run("failure", func(t *testing.T) {
		c, svc, out := setup(t, keyboard("/dev/ttyACM0", true))
		svc.connectErr = fmt.Errorf("boom")
		c.Execute(context.Background(), "connect 0")
		c.Wait()

		assert.Contains(t, out.String(), "Connect failed: boom")
	})
}

func TestConsoleDisconnect(t *testing.T) {
	c, _, out := setup(t, keyboard("/dev/ttyACM0", true))
	ctx := context.Background()

	c.Execute(ctx, "disconnect")
	assert.Contains(t, out.String(), "Not connected")

	c.Execute(ctx, "connect 0")
	c.Wait()
	c.Execute(ctx, "disconnect")
	assert.Contains(t, out.String(), "Disconnected")
}

func TestConsoleStatus(t *testing.T) {
	c, _, out := setup(t, keyboard("/dev/ttyACM0", true))
	ctx := context.Background()

	c.Execute(ctx, "status")
	assert.Contains(t, out.String(), "Selected:   none")
	assert.Contains(t, out.String(), "Connection: IDLE")

	c.Execute(ctx, "connect 0")
	c.Wait()
	c.Execute(ctx, "status")
	assert.Contains(t, out.String(), "Connection: CONNECTED")
	assert.Contains(t, out.String(), "Device:     1209:2301@/dev/ttyACM0")
}

func TestConsoleQuit(t *testing.T) {
	c, svc, out := setup(t)
	assert.True(t, c.Execute(context.Background(), "quit"))
	assert.True(t, svc.aborted)
	assert.Contains(t, out.String(), "Exiting...")
}

func TestConsoleUnknownAndBlank(t *testing.T) {
	c, _, out := setup(t)
	assert.False(t, c.Execute(context.Background(), "   "))
	assert.Empty(t, out.String())

	assert.False(t, c.Execute(context.Background(), "flash"))
	assert.Contains(t, out.String(), "Unknown command: flash")
}
