package telemetry

import (
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// DefaultQueueCapacity bounds the in-memory event buffer.
	DefaultQueueCapacity = 1024
	// DefaultEnqueueTimeout bounds how long a high-priority producer may
	// block on a full queue before the event is counted as dropped.
	DefaultEnqueueTimeout = 250 * time.Millisecond
)

// Queue is the bounded, thread-safe buffer between session workers and the
// telemetry consumer. Producers never block indefinitely: low-priority
// events are dropped immediately when the queue is full, high-priority ones
// (BLOCK, SESSION_END) wait a short bounded interval first. Every drop
// increments a counter.
type Queue struct {
	ch             chan *Event
	enqueueTimeout time.Duration
	dropped        atomic.Int64
	logger         *slog.Logger
}

// QueueOption customizes queue construction.
type QueueOption func(*Queue)

// WithEnqueueTimeout overrides the bounded wait for high-priority events.
func WithEnqueueTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.enqueueTimeout = d }
}

// NewQueue creates a bounded queue. capacity <= 0 selects the default.
func NewQueue(capacity int, opts ...QueueOption) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &Queue{
		ch:             make(chan *Event, capacity),
		enqueueTimeout: DefaultEnqueueTimeout,
		logger:         slog.With("component", "telemetry"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue offers an event to the queue. Returns false if the event was
// dropped because the queue was full.
func (q *Queue) Enqueue(e *Event) bool {
	if e == nil {
		return false
	}
	select {
	case q.ch <- e:
		metricEnqueued.WithLabelValues(string(e.Kind)).Inc()
		return true
	default:
	}

	if e.Kind.Priority() > 0 {
		timer := time.NewTimer(q.enqueueTimeout)
		defer timer.Stop()
		select {
		case q.ch <- e:
			metricEnqueued.WithLabelValues(string(e.Kind)).Inc()
			return true
		case <-timer.C:
		}
	}

	q.dropped.Add(1)
	metricDropped.WithLabelValues(string(e.Kind)).Inc()
	q.logger.Warn("event_dropped", "kind", e.Kind, "source_ip", e.SourceIP)
	return false
}

// C exposes the consumer side of the queue.
func (q *Queue) C() <-chan *Event {
	return q.ch
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped reports how many events have been dropped since creation.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
