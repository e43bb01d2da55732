package sensor

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voslund/decoynet/pkg/api"
)

// State is a session's position in its lifecycle:
//
//	Connecting → Authenticating → {Rejected, Admitted}
//	Admitted → InteractiveShell → {Disconnected, Blocked, TimedOut}
type State string

const (
	StateConnecting       State = "Connecting"
	StateAuthenticating   State = "Authenticating"
	StateRejected         State = "Rejected"
	StateAdmitted         State = "Admitted"
	StateInteractiveShell State = "InteractiveShell"
	StateDisconnected     State = "Disconnected"
	StateBlocked          State = "Blocked"
	StateTimedOut         State = "TimedOut"
)

// Terminal reports whether no transition can leave the state.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateDisconnected, StateBlocked, StateTimedOut:
		return true
	}
	return false
}

// Session records one connection's walk through the sensor: admission
// bookkeeping while authenticating, then the shell's command trail.
type Session struct {
	ID         string
	RemoteAddr string
	SourceIP   string
	StartedAt  time.Time

	// Written only by the connection's handler goroutine.
	Mode      Mode
	Strikes   int
	RiskScore int
	Attempts  []api.Credential
	Commands  []string

	// state and endedAt move under mu: the watchdog races the handler
	// to the first terminal transition.
	mu      sync.Mutex
	state   State
	endedAt time.Time
}

func newSession(conn net.Conn) *Session {
	return &Session{
		ID:         "sess-" + uuid.New().String()[:8],
		RemoteAddr: conn.RemoteAddr().String(),
		SourceIP:   remoteIP(conn),
		StartedAt:  time.Now(),
		state:      StateConnecting,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves to a non-terminal state. It is a no-op once the session
// is terminal, so a late transition cannot resurrect a finished session.
func (s *Session) advance(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.state = to
	}
}

// finish resolves the session to a terminal state and stamps its end
// time. The first caller wins; later calls return the recorded outcome,
// so a watchdog timeout is not overwritten by the disconnect it causes.
func (s *Session) finish(to State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return s.state
	}
	s.state = to
	s.endedAt = time.Now()
	return to
}

// EndedAt returns when the session reached a terminal state, zero while
// it is live.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Duration is the session's wall-clock length so far; fixed once the
// session is terminal.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

// endReason labels a terminal state for session-end telemetry.
func endReason(s State) string {
	switch s {
	case StateTimedOut:
		return "timed_out"
	case StateBlocked:
		return "blocked"
	default:
		return "disconnect"
	}
}
