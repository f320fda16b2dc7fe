package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event as a single "event" record.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
	}
	if event.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", event.CorrelationID))
	}
	if event.Transport != TransportNone {
		attrs = append(attrs, slog.String("transport", event.Transport.String()))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}

	switch {
	case event.Scan != nil:
		attrs = append(attrs,
			slog.Uint64("cycle", event.Scan.Cycle),
			slog.String("phase", event.Scan.Phase.String()),
		)
		if event.Scan.Trigger != "" {
			attrs = append(attrs, slog.String("trigger", event.Scan.Trigger))
		}
		if event.Scan.Phase == ScanDone {
			attrs = append(attrs,
				slog.Int("found", event.Scan.Found),
				slog.Duration("duration", event.Scan.Duration),
				slog.Bool("stale", event.Scan.Stale),
				slog.Bool("timed_out", event.Scan.TimedOut),
			)
		}
	case event.Hotplug != nil:
		attrs = append(attrs,
			slog.String("action", event.Hotplug.Action.String()),
			slog.String("node", event.Hotplug.Node),
		)
	case event.Device != nil:
		attrs = append(attrs,
			slog.String("label", event.Device.Label),
			slog.Bool("accessible", event.Device.Accessible),
			slog.Bool("supported", event.Device.Supported),
			slog.Bool("included", event.Device.Included),
		)
		if event.Device.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Device.Reason))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("component", event.Error.Component),
			slog.String("error", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "event", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
