package discovery

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Verdict is the outcome of evaluating one candidate.
type Verdict struct {
	Device   Device
	Included bool

	// Reason is the access or support failure, if any.
	Reason error
}

// Checker evaluates accessibility and support of candidates.
type Checker struct {
	serial      SerialProvider
	bus         BusAccessChecker
	concurrency int
	logger      *slog.Logger
}

// NewChecker returns a Checker. bus may be nil, in which case bus devices
// are never accessible. concurrency bounds parallel serial checks.
func NewChecker(serial SerialProvider, bus BusAccessChecker, concurrency int, logger *slog.Logger) *Checker {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Checker{serial: serial, bus: bus, concurrency: concurrency, logger: logger}
}

// Include is the inclusion rule: keep accessible+supported devices and every
// inaccessible device; drop accessible devices that are not supported.
func Include(d Device) bool {
	if !d.Accessible {
		return true
	}
	return d.Supported
}

// Evaluate sets Accessible and, for accessible devices only, Supported.
func (c *Checker) Evaluate(ctx context.Context, d Device) Verdict {
	d.Accessible = false
	d.Supported = false

	switch d.Transport.Kind {
	case TransportSerial:
		if err := c.serial.CheckAccess(ctx, d); err != nil {
			c.logger.Debug("device not accessible", "device", d.Identity.String(), "error", err)
			return Verdict{Device: d, Included: true, Reason: &AccessibilityError{Device: d.Identity, Err: err}}
		}
		d.Accessible = true
		if err := c.serial.CheckSupport(ctx, d); err != nil {
			if !errors.Is(err, ErrUnsupportedDevice) {
				err = errors.Join(ErrUnsupportedDevice, err)
			}
			c.logger.Debug("device not supported", "device", d.Identity.String(), "error", err)
			return Verdict{Device: d, Included: false, Reason: err}
		}
		d.Supported = true

	case TransportBus:
		// Bus candidates already matched a catalog identity, so support
		// follows accessibility.
		if c.bus == nil || d.Transport.Bus == nil {
			return Verdict{Device: d, Included: true, Reason: &AccessibilityError{Device: d.Identity}}
		}
		if err := c.bus.CheckBusAccess(ctx, *d.Transport.Bus); err != nil {
			return Verdict{Device: d, Included: true, Reason: &AccessibilityError{Device: d.Identity, Err: err}}
		}
		d.Accessible = true
		d.Supported = true
	}

	return Verdict{Device: d, Included: Include(d)}
}

// EvaluateAll evaluates devices with bounded parallelism. The returned
// verdicts keep the input order. Each evaluation is bounded by ctx: a device
// whose checks have not finished when ctx ends is kept as inaccessible, with
// ErrDiscoveryTimeout as the reason on a deadline.
func (c *Checker) EvaluateAll(ctx context.Context, devices []Device) []Verdict {
	verdicts := make([]Verdict, len(devices))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, d := range devices {
		g.Go(func() error {
			verdicts[i] = c.evaluateBounded(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
	return verdicts
}

func (c *Checker) evaluateBounded(ctx context.Context, d Device) Verdict {
	v, err := bounded(ctx, func(ctx context.Context) (Verdict, error) {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}
		return c.Evaluate(ctx, d), nil
	})
	if err != nil {
		d.Accessible = false
		d.Supported = false
		c.logger.Debug("device check abandoned", "device", d.Identity.String(), "error", err)
		return Verdict{Device: d, Included: true, Reason: &AccessibilityError{Device: d.Identity, Err: err}}
	}
	return v
}

// Filter evaluates devices and returns those passing the inclusion rule.
func (c *Checker) Filter(ctx context.Context, devices []Device) []Device {
	out := make([]Device, 0, len(devices))
	for _, v := range c.EvaluateAll(ctx, devices) {
		if v.Included {
			out = append(out, v.Device)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
