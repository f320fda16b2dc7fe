package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kbselect/kbselect-go/pkg/hardware"
	"github.com/kbselect/kbselect-go/pkg/log"
)

// Discovery timing defaults.
const (
	// DefaultScanTimeout bounds a single cycle.
	DefaultScanTimeout = 10 * time.Second

	// DefaultFeedbackWindow is how long ScanFeedback reports the outcome of
	// the last Scan.
	DefaultFeedbackWindow = 1 * time.Second

	// DefaultHotplugSettle delays a hotplug-triggered cycle so that the tty
	// node of a newly attached keyboard has time to appear.
	DefaultHotplugSettle = 200 * time.Millisecond

	// DefaultProbeConcurrency bounds parallel accessibility checks.
	DefaultProbeConcurrency = 4
)

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerHotplug Trigger = "hotplug"
	TriggerStartup Trigger = "startup"
)

// Config configures a Manager.
type Config struct {
	// Catalog is the capability table. Required.
	Catalog *hardware.Catalog

	// Serial is the path-addressed transport. Required.
	Serial SerialProvider

	// Bus is the descriptor-addressed transport. Required. If it also
	// implements BusAccessChecker, bus devices are checked for access.
	Bus BusProvider

	// ScanTimeout bounds each cycle. A probe still running at the deadline
	// contributes nothing and the cycle reports ErrDiscoveryTimeout.
	ScanTimeout time.Duration

	// FeedbackWindow is how long ScanFeedback holds the last Scan outcome.
	FeedbackWindow time.Duration

	// HotplugSettle delays hotplug-triggered cycles.
	HotplugSettle time.Duration

	// ProbeConcurrency bounds parallel accessibility checks.
	ProbeConcurrency int

	// Logger for operational output (optional).
	Logger *slog.Logger

	// EventLogger receives the discovery event trace (optional).
	EventLogger log.Logger

	// Reporter surfaces non-fatal failures. Defaults to a LogReporter over
	// Logger and EventLogger.
	Reporter ErrorReporter
}

// DefaultConfig returns a Config with the built-in catalog and default
// timings. Providers must still be set.
func DefaultConfig() Config {
	return Config{
		Catalog:          hardware.Default(),
		ScanTimeout:      DefaultScanTimeout,
		FeedbackWindow:   DefaultFeedbackWindow,
		HotplugSettle:    DefaultHotplugSettle,
		ProbeConcurrency: DefaultProbeConcurrency,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Catalog == nil || c.Serial == nil || c.Bus == nil {
		return ErrInvalidConfig
	}
	if c.ScanTimeout <= 0 || c.FeedbackWindow < 0 || c.HotplugSettle < 0 {
		return ErrInvalidConfig
	}
	if c.ProbeConcurrency < 1 {
		return ErrInvalidConfig
	}
	return nil
}

// ResultHandler is called after a result is published.
type ResultHandler func(Result)

// Manager runs discovery cycles and publishes their results.
type Manager struct {
	cfg      Config
	serial   *SerialProbe
	bus      *BusProbe
	checker  *Checker
	registry *Registry
	logger   *slog.Logger
	events   log.Logger
	reporter ErrorReporter

	cycles atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	triggerCh chan Trigger

	mu       sync.Mutex
	started  bool
	closed   bool
	watcher  *Watcher
	handlers []ResultHandler

	feedback      *bool
	feedbackGen   uint64
	feedbackTimer *time.Timer

	// deliverMu orders handler calls; delivered is the newest cycle handed
	// to them.
	deliverMu sync.Mutex
	delivered uint64
}

// NewManager creates a Manager. Call Start to enable hotplug tracking.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	events := log.OrNoop(cfg.EventLogger)
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = NewLogReporter(logger, events)
	}
	busAccess, _ := cfg.Bus.(BusAccessChecker)

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		serial:    NewSerialProbe(cfg.Serial, cfg.Catalog),
		bus:       NewBusProbe(cfg.Bus, cfg.Catalog),
		checker:   NewChecker(cfg.Serial, busAccess, cfg.ProbeConcurrency, logger),
		registry:  NewRegistry(),
		logger:    logger,
		events:    events,
		reporter:  reporter,
		ctx:       ctx,
		cancel:    cancel,
		triggerCh: make(chan Trigger, 1),
	}, nil
}

// Start subscribes to hotplug notifications and schedules an initial cycle.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.started {
		return nil
	}

	w, err := NewWatcher(m.cfg.Bus, m.logHotplug)
	if err != nil {
		return err
	}
	m.watcher = w
	m.started = true

	m.wg.Add(1)
	go m.loop(w.Pending())

	m.trigger(TriggerStartup)
	return nil
}

// Close cancels in-flight cycles, releases the hotplug subscription and
// waits for the background loop to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	w := m.watcher
	if m.feedbackTimer != nil {
		m.feedbackTimer.Stop()
	}
	m.mu.Unlock()

	m.cancel()

	var err error
	if w != nil {
		err = w.Close()
	}
	m.wg.Wait()
	return err
}

// OnResult registers a handler called after every published result. Handlers
// see cycles in increasing order, one at a time; a result overtaken by a
// newer one before delivery is skipped. A handler must not call Scan.
func (m *Manager) OnResult(fn ResultHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Result returns the last published result.
func (m *Manager) Result() Result {
	return m.registry.Result()
}

// Trigger schedules an asynchronous cycle. Requests made while one is
// already queued are coalesced. Before Start the request stays queued.
func (m *Manager) Trigger() {
	m.trigger(TriggerManual)
}

func (m *Manager) trigger(t Trigger) {
	select {
	case m.triggerCh <- t:
	default:
	}
}

// Scan runs a cycle synchronously and returns the published result, which is
// this cycle's result unless a newer cycle finished first. The outcome is
// also held for FeedbackWindow, see ScanFeedback.
func (m *Manager) Scan(ctx context.Context) (Result, error) {
	if m.isClosed() {
		return Result{}, ErrClosed
	}
	m.runCycle(ctx, TriggerManual)
	if m.isClosed() {
		return Result{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return m.Result(), err
	}

	res := m.Result()
	m.setFeedback(res.Found())
	return res, nil
}

// ScanFeedback returns whether the last Scan found devices. ok is false
// once FeedbackWindow has elapsed since that Scan.
func (m *Manager) ScanFeedback() (found, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feedback == nil {
		return false, false
	}
	return *m.feedback, true
}

func (m *Manager) setFeedback(found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feedbackGen++
	gen := m.feedbackGen
	m.feedback = &found
	if m.feedbackTimer != nil {
		m.feedbackTimer.Stop()
	}
	m.feedbackTimer = time.AfterFunc(m.cfg.FeedbackWindow, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.feedbackGen == gen {
			m.feedback = nil
		}
	})
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) loop(pending <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case t := <-m.triggerCh:
			m.runCycle(m.ctx, t)
		case <-pending:
			if m.cfg.HotplugSettle > 0 {
				timer := time.NewTimer(m.cfg.HotplugSettle)
				select {
				case <-m.ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			m.runCycle(m.ctx, TriggerHotplug)
		}
	}
}

// runCycle performs one probe, filter and merge pass. It reports whether the
// result was published.
func (m *Manager) runCycle(parent context.Context, trigger Trigger) (Result, bool) {
	cycle := m.cycles.Add(1)
	id := uuid.NewString()
	started := time.Now()

	ctx, cancel := context.WithTimeout(parent, m.cfg.ScanTimeout)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	m.events.Log(log.Event{
		Timestamp:     started,
		CorrelationID: id,
		Category:      log.CategoryScan,
		Scan:          &log.ScanEvent{Cycle: cycle, Phase: log.ScanStart, Trigger: string(trigger)},
	})
	m.logger.Debug("discovery cycle started", "cycle", cycle, "trigger", trigger)

	var (
		serialDevs []Device
		descs      []Descriptor
		serialErr  error
		busErr     error
		wg         sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		serialDevs, serialErr = m.serial.Probe(ctx)
	}()
	go func() {
		defer wg.Done()
		descs, busErr = m.bus.Descriptors(ctx)
	}()
	wg.Wait()

	included := make([]Device, 0, len(serialDevs))
	for _, v := range m.checker.EvaluateAll(ctx, serialDevs) {
		m.logVerdict(id, v)
		if v.Included {
			included = append(included, v.Device)
		}
	}

	devices := Merge(included, descs, m.cfg.Catalog)
	var (
		busIdx  []int
		busDevs []Device
	)
	for i, d := range devices {
		if d.Transport.Kind == TransportBus {
			busIdx = append(busIdx, i)
			busDevs = append(busDevs, d)
		}
	}
	for j, v := range m.checker.EvaluateAll(ctx, busDevs) {
		m.logVerdict(id, v)
		devices[busIdx[j]] = v.Device
	}

	if serialErr != nil {
		m.reporter.Report("serial-probe", serialErr)
	}
	if busErr != nil {
		m.reporter.Report("bus-probe", busErr)
	}
	// Checks cut short by the deadline left devices marked inaccessible.
	var checkErr error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) &&
		!errors.Is(serialErr, ErrDiscoveryTimeout) && !errors.Is(busErr, ErrDiscoveryTimeout) {
		checkErr = ErrDiscoveryTimeout
		m.reporter.Report("access-check", checkErr)
	}

	res := Result{
		Devices:     devices,
		Cycle:       cycle,
		ID:          id,
		StartedAt:   started,
		CompletedAt: time.Now(),
		Err:         errors.Join(serialErr, busErr, checkErr),
	}

	// A cancelled cycle (teardown or caller abort) is partial; drop it.
	if errors.Is(ctx.Err(), context.Canceled) {
		m.logger.Debug("discovery cycle cancelled", "cycle", cycle)
		return res, false
	}

	published := m.registry.Publish(res)
	m.events.Log(log.Event{
		Timestamp:     res.CompletedAt,
		CorrelationID: id,
		Category:      log.CategoryScan,
		Scan: &log.ScanEvent{
			Cycle:    cycle,
			Phase:    log.ScanDone,
			Trigger:  string(trigger),
			Found:    len(devices),
			Duration: res.CompletedAt.Sub(started),
			Stale:    !published,
			TimedOut: errors.Is(res.Err, ErrDiscoveryTimeout),
		},
	})
	if !published {
		m.logger.Debug("discarding stale discovery result", "cycle", cycle)
		return res, false
	}

	m.logger.Info("discovery cycle completed",
		"cycle", cycle, "trigger", trigger, "found", len(devices),
		"duration", res.CompletedAt.Sub(started))

	m.deliver(res)
	return res, true
}

// deliver hands res to the handlers unless a newer cycle got there first.
func (m *Manager) deliver(res Result) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	if res.Cycle <= m.delivered {
		m.logger.Debug("skipping overtaken discovery result", "cycle", res.Cycle, "delivered", m.delivered)
		return
	}
	m.delivered = res.Cycle

	m.mu.Lock()
	handlers := append([]ResultHandler(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(res.Clone())
	}
}

func (m *Manager) logVerdict(cycleID string, v Verdict) {
	ev := &log.DeviceEvent{
		Label:      v.Device.Label(),
		Accessible: v.Device.Accessible,
		Supported:  v.Device.Supported,
		Included:   v.Included,
	}
	if v.Reason != nil {
		ev.Reason = v.Reason.Error()
	}
	m.events.Log(log.Event{
		Timestamp:     time.Now(),
		CorrelationID: cycleID,
		Category:      log.CategoryDevice,
		Transport:     v.Device.Transport.Kind.LogTransport(),
		DeviceID:      v.Device.Identity.String(),
		Device:        ev,
	})
}

func (m *Manager) logHotplug(ev HotplugEvent) {
	action := log.HotplugAttach
	if ev.Action == HotplugDetach {
		action = log.HotplugDetach
	}
	m.logger.Debug("hotplug notification",
		"action", ev.Action, "id", ev.Descriptor.ID().String(), "node", ev.Descriptor.Bus.Node)
	m.events.Log(log.Event{
		Timestamp: ev.At,
		Category:  log.CategoryHotplug,
		Transport: log.TransportBus,
		Hotplug: &log.HotplugEvent{
			Action:    action,
			VendorID:  ev.Descriptor.VendorID,
			ProductID: ev.Descriptor.ProductID,
			Node:      ev.Descriptor.Bus.Node,
		},
	})
}
