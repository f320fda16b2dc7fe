package log

// Logger receives discovery and connection events.
// Pass NoopLogger to disable the trace.
type Logger interface {
	// Log records an event. Implementations must be safe for concurrent use
	// and must not block the caller for long.
	Log(event Event)
}

// NoopLogger discards all events. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}

// OrNoop returns l, or NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
