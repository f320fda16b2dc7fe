package usbbus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/kbselect/kbselect-go/pkg/connection"
	"github.com/kbselect/kbselect-go/pkg/discovery"
)

// Default roots on Linux.
const (
	DefaultSysfsRoot = "/sys/bus/usb/devices"
	DefaultDevRoot   = "/dev/bus/usb"
)

// Config configures a Provider.
type Config struct {
	SysfsRoot string
	DevRoot   string
	Logger    *slog.Logger
}

// DefaultConfig returns the Linux defaults.
func DefaultConfig() Config {
	return Config{
		SysfsRoot: DefaultSysfsRoot,
		DevRoot:   DefaultDevRoot,
	}
}

// Provider implements discovery.BusProvider, discovery.BusAccessChecker and
// connection.Opener.
type Provider struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	nextID int
	attach map[int]func(discovery.Descriptor)
	detach map[int]func(discovery.Descriptor)
	watch  *watcher
	known  map[string]discovery.Descriptor
}

var (
	_ discovery.BusProvider      = (*Provider)(nil)
	_ discovery.BusAccessChecker = (*Provider)(nil)
	_ connection.Opener          = (*Provider)(nil)
)

// New returns a Provider. Empty roots take the Linux defaults.
func New(cfg Config) *Provider {
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = DefaultSysfsRoot
	}
	if cfg.DevRoot == "" {
		cfg.DevRoot = DefaultDevRoot
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{
		cfg:    cfg,
		logger: logger,
		attach: make(map[int]func(discovery.Descriptor)),
		detach: make(map[int]func(discovery.Descriptor)),
		known:  make(map[string]discovery.Descriptor),
	}
}

// ListAttachedDescriptors returns every device in sysfs.
func (p *Provider) ListAttachedDescriptors(ctx context.Context) ([]discovery.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	descs, err := scan(p.cfg.SysfsRoot, p.cfg.DevRoot)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.cfg.SysfsRoot, err)
	}

	p.mu.Lock()
	for _, d := range descs {
		p.known[d.Bus.Node] = d
	}
	p.mu.Unlock()
	return descs, nil
}

// OnAttach registers fn for device arrivals.
func (p *Provider) OnAttach(fn func(discovery.Descriptor)) (discovery.Subscription, error) {
	return p.subscribe(true, fn)
}

// OnDetach registers fn for device removals.
func (p *Provider) OnDetach(fn func(discovery.Descriptor)) (discovery.Subscription, error) {
	return p.subscribe(false, fn)
}

func (p *Provider) subscribe(attach bool, fn func(discovery.Descriptor)) (discovery.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, discovery.ErrClosed
	}
	if p.watch == nil {
		w, err := newWatcher(p.cfg.DevRoot, p.logger, p.handleNode)
		if err != nil {
			return nil, err
		}
		p.watch = w
		// Seed the node cache so the first detach can be resolved.
		if descs, err := scan(p.cfg.SysfsRoot, p.cfg.DevRoot); err == nil {
			for _, d := range descs {
				p.known[d.Bus.Node] = d
			}
		}
	}

	p.nextID++
	id := p.nextID
	set := p.detach
	if attach {
		set = p.attach
	}
	set[id] = fn

	return &subscription{release: func() { p.unsubscribe(set, id) }}, nil
}

func (p *Provider) unsubscribe(set map[int]func(discovery.Descriptor), id int) {
	p.mu.Lock()
	delete(set, id)
	var w *watcher
	if len(p.attach) == 0 && len(p.detach) == 0 {
		w, p.watch = p.watch, nil
	}
	p.mu.Unlock()

	if w != nil {
		if err := w.Close(); err != nil {
			p.logger.Warn("closing usb watcher", "error", err)
		}
	}
}

// handleNode resolves a node event and fans it out to the listeners.
func (p *Provider) handleNode(path string, created bool) {
	bus, addr, ok := parseNode(p.cfg.DevRoot, path)
	if !ok {
		return
	}

	var desc discovery.Descriptor
	if created {
		d, err := p.lookup(bus, addr)
		if err != nil {
			p.logger.Debug("attached node has no sysfs entry", "node", path, "error", err)
			d = discovery.Descriptor{Bus: discovery.BusInfo{BusNumber: bus, Address: addr, Node: path}}
		}
		desc = d
	} else {
		p.mu.Lock()
		d, ok := p.known[path]
		delete(p.known, path)
		p.mu.Unlock()
		if !ok {
			d = discovery.Descriptor{Bus: discovery.BusInfo{BusNumber: bus, Address: addr, Node: path}}
		}
		desc = d
	}

	p.mu.Lock()
	if created && desc.VendorID != 0 {
		p.known[path] = desc
	}
	set := p.detach
	if created {
		set = p.attach
	}
	fns := make([]func(discovery.Descriptor), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(desc)
	}
}

// lookup finds the sysfs entry for bus/addr.
func (p *Provider) lookup(bus, addr uint8) (discovery.Descriptor, error) {
	descs, err := scan(p.cfg.SysfsRoot, p.cfg.DevRoot)
	if err != nil {
		return discovery.Descriptor{}, err
	}
	for _, d := range descs {
		if d.Bus.BusNumber == bus && d.Bus.Address == addr {
			return d, nil
		}
	}
	return discovery.Descriptor{}, fs.ErrNotExist
}

// CheckBusAccess opens and closes the usbfs node read-write.
func (p *Provider) CheckBusAccess(_ context.Context, info discovery.BusInfo) error {
	f, err := openNode(info)
	if err != nil {
		return err
	}
	return f.Close()
}

// OpenSession opens the usbfs node of a bus device.
func (p *Provider) OpenSession(_ context.Context, dev discovery.Device) (connection.Session, error) {
	if dev.Transport.Kind != discovery.TransportBus || dev.Transport.Bus == nil {
		return nil, fmt.Errorf("usbbus: %s is not a bus device", dev.Identity)
	}
	f, err := openNode(*dev.Transport.Bus)
	if err != nil {
		return nil, err
	}
	return &Session{file: f, info: *dev.Transport.Bus}, nil
}

// Close stops the watcher and drops all listeners.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	w := p.watch
	p.watch = nil
	clear(p.attach)
	clear(p.detach)
	p.mu.Unlock()

	if w != nil {
		return w.Close()
	}
	return nil
}

func openNode(info discovery.BusInfo) (*os.File, error) {
	if info.Node == "" {
		return nil, fmt.Errorf("usbbus: %d-%d has no device node", info.BusNumber, info.Address)
	}
	f, err := os.OpenFile(info.Node, os.O_RDWR, 0)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("open %s: %w", info.Node, discovery.ErrPermissionDenied)
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("open %s: %w", info.Node, connection.ErrDeviceGone)
	default:
		return nil, fmt.Errorf("open %s: %w", info.Node, err)
	}
}

type subscription struct {
	once    sync.Once
	release func()
}

func (s *subscription) Close() error {
	s.once.Do(s.release)
	return nil
}
