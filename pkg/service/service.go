package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kbselect/kbselect-go/pkg/connection"
	"github.com/kbselect/kbselect-go/pkg/discovery"
	"github.com/kbselect/kbselect-go/pkg/persistence"
)

// Service is the keyboard selection service.
type Service struct {
	cfg        Config
	logger     *slog.Logger
	manager    *discovery.Manager
	controller *connection.Controller
	store      *persistence.SelectionStore

	mu        sync.RWMutex
	state     ServiceState
	selected  int
	selection discovery.Identity
	lastPath  string
	handlers  []EventHandler
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Discovery.Logger == nil {
		cfg.Discovery.Logger = cfg.Logger
	}
	if cfg.Discovery.EventLogger == nil {
		cfg.Discovery.EventLogger = cfg.EventLogger
	}
	if cfg.Connection.Logger == nil {
		cfg.Connection.Logger = cfg.Logger
	}
	if cfg.Connection.EventLogger == nil {
		cfg.Connection.EventLogger = cfg.EventLogger
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	manager, err := discovery.NewManager(cfg.Discovery)
	if err != nil {
		return nil, err
	}
	controller, err := connection.NewController(cfg.Connection)
	if err != nil {
		_ = manager.Close()
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		logger:     logger,
		manager:    manager,
		controller: controller,
		selected:   -1,
	}
	if cfg.StatePath != "" {
		s.store = persistence.NewSelectionStore(cfg.StatePath)
		path, err := s.store.LastPath()
		if err != nil {
			logger.Warn("ignoring unreadable selection state", "path", cfg.StatePath, "error", err)
		}
		s.lastPath = path
	}

	manager.OnResult(s.handleResult)
	controller.OnStateChange(s.handleStateChange)
	return s, nil
}

// Start enables hot-plug tracking and runs the first discovery cycle in the
// background.
func (s *Service) Start() error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case StateStopped:
		s.mu.Unlock()
		return ErrStopped
	}
	s.state = StateRunning
	s.mu.Unlock()

	if err := s.manager.Start(); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}
	s.logger.Info("keyboard service started")
	return nil
}

// Stop closes the session and stops discovery.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	s.mu.Unlock()

	ctrlErr := s.controller.Close()
	mgrErr := s.manager.Close()
	s.logger.Info("keyboard service stopped")
	if ctrlErr != nil {
		return ctrlErr
	}
	return mgrErr
}

// State returns the service state.
func (s *Service) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnEvent registers an event handler.
func (s *Service) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Scan runs a discovery cycle and reports whether any keyboard was found.
func (s *Service) Scan(ctx context.Context) (bool, error) {
	if s.State() == StateStopped {
		return false, ErrStopped
	}
	res, err := s.manager.Scan(ctx)
	if err != nil {
		return false, err
	}
	return res.Found(), nil
}

// ScanFeedback returns the outcome of the last Scan while it is fresh.
func (s *Service) ScanFeedback() (found, ok bool) {
	return s.manager.ScanFeedback()
}

// Refresh schedules a discovery cycle without waiting for it.
func (s *Service) Refresh() {
	s.manager.Trigger()
}

// Result returns the current discovery result.
func (s *Service) Result() discovery.Result {
	return s.manager.Result()
}

// Devices returns the current device list.
func (s *Service) Devices() []discovery.Device {
	return s.manager.Result().Devices
}

// Select sets the selected index into the current device list.
func (s *Service) Select(index int) error {
	res := s.manager.Result()
	if index < 0 || index >= len(res.Devices) {
		return ErrInvalidIndex
	}

	s.mu.Lock()
	changed := s.selected != index
	s.selected = index
	s.selection = res.Devices[index].Identity
	s.mu.Unlock()

	if changed {
		s.emit(Event{Type: EventSelectionChanged, Selected: index, Device: res.Devices[index]})
	}
	return nil
}

// Selected returns the selected device and its index.
func (s *Service) Selected() (discovery.Device, int, bool) {
	res := s.manager.Result()

	s.mu.RLock()
	idx := s.selected
	s.mu.RUnlock()

	if idx < 0 || idx >= len(res.Devices) {
		return discovery.Device{}, -1, false
	}
	return res.Devices[idx], idx, true
}

// Connect opens a session to dev.
func (s *Service) Connect(ctx context.Context, dev discovery.Device) error {
	if s.State() == StateStopped {
		return ErrStopped
	}
	return s.controller.Connect(ctx, dev)
}

// ConnectSelected connects to the selected device.
func (s *Service) ConnectSelected(ctx context.Context) error {
	dev, _, ok := s.Selected()
	if !ok {
		return ErrNoSelection
	}
	return s.Connect(ctx, dev)
}

// Disconnect closes the active session.
func (s *Service) Disconnect(ctx context.Context) error {
	return s.controller.Disconnect(ctx)
}

// Abort cancels an in-flight connect.
func (s *Service) Abort() bool {
	return s.controller.Abort()
}

// ConnectionState returns the session state.
func (s *Service) ConnectionState() connection.State {
	return s.controller.State()
}

// Connected returns the connected device.
func (s *Service) Connected() (discovery.Device, bool) {
	if !s.controller.IsConnected() {
		return discovery.Device{}, false
	}
	return s.controller.Device()
}

// LastError returns the error of the last failed connect. Device loss is
// reported through EventDeviceLost.
func (s *Service) LastError() error {
	return s.controller.LastError()
}

// handleResult updates the selection and drops a session whose device is
// gone.
func (s *Service) handleResult(res discovery.Result) {
	connected, isConnected := s.Connected()
	if isConnected {
		if _, present := res.Find(connected.Identity); !present {
			s.controller.DeviceLost(connected.Identity)
			isConnected = false
		}
	}

	s.mu.Lock()
	prev := s.selected
	next := -1
	switch {
	case isConnected:
		next = indexOf(res, connected.Identity)
	case prev >= 0 && indexOf(res, s.selection) >= 0:
		next = indexOf(res, s.selection)
	case s.lastPath != "" && res.IndexOfPath(s.lastPath) >= 0:
		next = res.IndexOfPath(s.lastPath)
		// Preselect the remembered device only once.
		s.lastPath = ""
	case len(res.Devices) > 0:
		next = 0
	}
	s.selected = next
	if next >= 0 {
		s.selection = res.Devices[next].Identity
	}
	s.mu.Unlock()

	s.emit(Event{Type: EventDevicesChanged, Result: res, Selected: next})
	if next != prev && next >= 0 {
		s.emit(Event{Type: EventSelectionChanged, Selected: next, Device: res.Devices[next]})
	}
}

func (s *Service) handleStateChange(ch connection.StateChange) {
	ev := Event{Device: ch.Device, Error: ch.Err}
	switch {
	case ch.New == connection.StateConnecting:
		ev.Type = EventConnecting
	case ch.New == connection.StateConnected:
		ev.Type = EventConnected
		s.remember(ch.Device)
	case ch.New == connection.StateIdle && ch.Old == connection.StateConnecting:
		ev.Type = EventConnectFailed
	case ch.New == connection.StateIdle && ch.Err != nil:
		ev.Type = EventDeviceLost
	case ch.New == connection.StateIdle:
		ev.Type = EventDisconnected
	default:
		return
	}
	s.emit(ev)
}

func (s *Service) remember(dev discovery.Device) {
	if s.store == nil {
		return
	}
	rec := persistence.DeviceRecord{
		VendorID:    dev.Identity.VendorID,
		ProductID:   dev.Identity.ProductID,
		Path:        dev.Identity.Path,
		DisplayName: dev.DisplayName,
		Transport:   dev.Transport.Kind.String(),
	}
	if err := s.store.RecordConnected(rec); err != nil {
		s.logger.Warn("failed to save selection state", "path", s.store.Path(), "error", err)
	}
}

// emit sends an event to all registered handlers.
func (s *Service) emit(event Event) {
	s.mu.RLock()
	handlers := append([]EventHandler(nil), s.handlers...)
	s.mu.RUnlock()
	for _, handler := range handlers {
		go handler(event)
	}
}

func indexOf(res discovery.Result, id discovery.Identity) int {
	for i, d := range res.Devices {
		if d.Identity == id {
			return i
		}
	}
	return -1
}
