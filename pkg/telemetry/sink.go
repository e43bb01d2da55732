package telemetry

// Sink receives flushed telemetry events. Implementations must be safe for
// use from the single consumer goroutine.
type Sink interface {
	// Write persists one event.
	Write(e *Event) error
	// Close flushes and releases the sink.
	Close() error
}
