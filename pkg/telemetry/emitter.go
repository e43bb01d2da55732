package telemetry

import "time"

// Emitter stamps events with identity and provenance before they enter the
// queue. Session workers hold one shared Emitter; it is safe for concurrent
// use because the queue is.
type Emitter struct {
	sensorID string
	queue    *Queue
	now      func() time.Time
}

// NewEmitter creates an emitter that stamps events for the given sensor.
func NewEmitter(sensorID string, queue *Queue) *Emitter {
	return &Emitter{
		sensorID: sensorID,
		queue:    queue,
		now:      time.Now,
	}
}

// Emit stamps and enqueues one event. Missing ID, timestamp, and sensor ID
// fields are filled in; populated fields are left alone so replayed events
// keep their identity. Returns false if the queue dropped the event.
func (em *Emitter) Emit(e *Event) bool {
	if e == nil {
		return false
	}
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = em.now().UTC()
	}
	if e.SensorID == "" {
		e.SensorID = em.sensorID
	}
	return em.queue.Enqueue(e)
}

// SensorID returns the sensor identity this emitter stamps.
func (em *Emitter) SensorID() string {
	return em.sensorID
}
