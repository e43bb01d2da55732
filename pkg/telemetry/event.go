// Package telemetry defines the append-only event model shared by edge
// sensors and the control plane, the bounded queue session workers emit
// into, and the consumer that flushes events to durable sinks and forwards
// them upstream.
package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a telemetry event.
type Kind string

const (
	KindLoginAttempt Kind = "LOGIN_ATTEMPT"
	KindLoginSuccess Kind = "LOGIN_SUCCESS"
	KindCommand      Kind = "COMMAND"
	KindVerdict      Kind = "VERDICT"
	KindSessionEnd   Kind = "SESSION_END"
	KindBlock        Kind = "BLOCK"
)

// Detail keys used in Event.Details. Reports and the analyzer read these
// back, so producers must use the constants rather than ad hoc strings.
const (
	DetailCommand        = "command"
	DetailOutput         = "output"
	DetailClassification = "classification"
	DetailLatencyMS      = "latency_ms"
	DetailFailOpen       = "fail_open"
	DetailReason         = "reason"
	DetailMode           = "mode"
	DetailDuration       = "duration_seconds"
	DetailCommandCount   = "command_count"
	DetailDecoyPath      = "decoy_path"
	DetailRiskScore      = "risk_score"
)

// Event is one immutable telemetry record. Events are append-only: once
// emitted they are never mutated, and the control plane deduplicates them
// by ID on ingestion.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"ts"`
	Kind      Kind              `json:"kind"`
	SensorID  string            `json:"sensor_id"`
	SessionID string            `json:"session_id,omitempty"`
	SourceIP  string            `json:"source_ip"`
	Username  string            `json:"username,omitempty"`
	Password  string            `json:"password,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Priority returns the drop-ordering class of an event kind. Higher values
// survive queue pressure longer; BLOCK and SESSION_END records carry state
// the control plane cannot reconstruct, so they outrank the rest.
func (k Kind) Priority() int {
	switch k {
	case KindBlock:
		return 2
	case KindSessionEnd:
		return 1
	default:
		return 0
	}
}

// NewID returns a fresh event identifier.
func NewID() string {
	return uuid.New().String()
}
