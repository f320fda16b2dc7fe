package discovery

import (
	"log/slog"
	"time"

	"github.com/kbselect/kbselect-go/pkg/log"
)

// ErrorReporter surfaces failures that must not stop discovery.
type ErrorReporter interface {
	Report(component string, err error)
}

// ReporterFunc adapts a function to ErrorReporter.
type ReporterFunc func(component string, err error)

// Report calls f.
func (f ReporterFunc) Report(component string, err error) { f(component, err) }

// LogReporter reports to slog at Warn level and to the event log.
type LogReporter struct {
	logger *slog.Logger
	events log.Logger
}

// NewLogReporter returns a reporter. Nil arguments disable the respective
// sink.
func NewLogReporter(logger *slog.Logger, events log.Logger) *LogReporter {
	if logger == nil {
		logger = discardLogger()
	}
	return &LogReporter{logger: logger, events: log.OrNoop(events)}
}

// Report logs err.
func (r *LogReporter) Report(component string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("discovery degraded", "component", component, "error", err)
	r.events.Log(log.Event{
		Timestamp: time.Now(),
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Component: component,
			Message:   err.Error(),
			Context:   "discovery",
		},
	})
}
