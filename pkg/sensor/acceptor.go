// Package sensor owns the edge listener: per-connection admission control,
// strike-based blocking, the session watchdog and the handoff into the
// deception shell for admitted connections.
package sensor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/voslund/decoynet/internal/errx"
	"github.com/voslund/decoynet/pkg/api"
	"github.com/voslund/decoynet/pkg/blockset"
	"github.com/voslund/decoynet/pkg/decoy"
	"github.com/voslund/decoynet/pkg/logging"
	"github.com/voslund/decoynet/pkg/shell"
	"github.com/voslund/decoynet/pkg/telemetry"
	"github.com/voslund/decoynet/pkg/verdict"
	"github.com/voslund/decoynet/pkg/vfs"
)

// DefaultHandshakeTimeout bounds the greeting and credential exchange of a
// fresh connection. Admitted sessions switch to the watchdog ceiling.
const DefaultHandshakeTimeout = 30 * time.Second

type Config struct {
	ListenAddr       string
	Policy           *api.PolicyConfig
	MaxSessions      int
	SessionTimeout   time.Duration
	HandshakeTimeout time.Duration
	// BlockTTL is how long verdict- and strike-triggered blocks last.
	// Zero uses the repository default.
	BlockTTL   time.Duration
	Gate       *verdict.Gate
	Emitter    *telemetry.Emitter
	Blocks     *blockset.Repository
	Transport  Transport
	Blueprints *decoy.Blueprints
}

// Acceptor listens for connections and walks each one through admission:
// capacity check, credential exchange, mode selection. Admitted connections
// get a decoy-populated filesystem and a shell session. Wire details stay in
// the Transport; the acceptor only answers its Handler callbacks.
type Acceptor struct {
	cfg    Config
	ln     net.Listener
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	active int
	conns  map[string]map[net.Conn]struct{}

	wg sync.WaitGroup
}

func NewAcceptor(cfg Config) (*Acceptor, error) {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = api.DefaultMaxConcurrentSessions
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = api.DefaultSessionTimeoutSeconds * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = LineTransport{}
	}
	if cfg.Blocks == nil {
		cfg.Blocks = blockset.NewRepository()
	}
	if cfg.Gate == nil {
		cfg.Gate = verdict.NewGate("")
	}
	if cfg.Blueprints == nil {
		cfg.Blueprints = decoy.Builtin()
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, errx.With(ErrListen, " on %s: %w", cfg.ListenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{
		cfg:    cfg,
		ln:     ln,
		logger: logging.WithComponent("sensor"),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound listen address.
func (a *Acceptor) Addr() net.Addr {
	return a.ln.Addr()
}

func (a *Acceptor) Start() {
	a.logResources()
	a.wg.Add(1)
	go a.acceptLoop()
	a.logger.Info("sensor_listening", "addr", a.ln.Addr().String(), "max_sessions", a.cfg.MaxSessions)
}

// Close stops accepting, then drains active sessions until ctx expires and
// force-closes whatever is left.
func (a *Acceptor) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	err := a.ln.Close()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.cancel()
		a.closeAllConns()
		<-done
	}
	a.cancel()
	return err
}

func (a *Acceptor) acceptLoop() {
	defer a.wg.Done()

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if a.isClosed() {
				return
			}
			continue
		}
		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

func (a *Acceptor) handleConn(conn net.Conn) {
	defer a.wg.Done()
	defer conn.Close()

	sess := newSession(conn)
	if !a.acquire(sess.SourceIP, conn) {
		metricConnections.WithLabelValues("capacity").Inc()
		a.logger.Warn("connection_rejected", "addr", sess.SourceIP, "reason", RejectCapacity)
		return
	}
	defer a.release(sess.SourceIP, conn)

	_ = conn.SetDeadline(time.Now().Add(a.cfg.HandshakeTimeout))
	sess.advance(StateAuthenticating)

	err := a.cfg.Transport.Serve(conn, &connHandler{a: a, conn: conn, sess: sess})
	if err != nil && sess.State() == StateAuthenticating {
		// Died mid-handshake, before any admission decision.
		metricConnections.WithLabelValues("error").Inc()
	}
}

// connHandler binds one connection's session record to the acceptor so the
// transport's callbacks can reach both.
type connHandler struct {
	a    *Acceptor
	conn net.Conn
	sess *Session
}

var _ Handler = (*connHandler)(nil)

func (h *connHandler) OnAuthenticate(username, password string) bool {
	a, sess := h.a, h.sess
	cred := api.Credential{Username: username, Password: password}
	sess.Attempts = append(sess.Attempts, cred)

	a.emit(&telemetry.Event{
		Kind:      telemetry.KindLoginAttempt,
		SessionID: sess.ID,
		SourceIP:  sess.SourceIP,
		Username:  username,
		Password:  password,
	})
	a.logger.Info("login_attempt", "addr", sess.SourceIP, "username", username)

	d := selectMode(a.cfg.Policy, cred, a.cfg.Blocks.Contains(sess.SourceIP))
	if !d.Admit {
		h.reject(d)
		return false
	}

	sess.Mode = d.Mode
	sess.advance(StateAdmitted)
	metricConnections.WithLabelValues("admitted").Inc()

	a.emit(&telemetry.Event{
		Kind:      telemetry.KindLoginSuccess,
		SessionID: sess.ID,
		SourceIP:  sess.SourceIP,
		Username:  username,
		Password:  password,
		Details:   map[string]string{telemetry.DetailMode: string(sess.Mode)},
	})
	a.logger.Info("session_admitted", "session_id", sess.ID, "addr", sess.SourceIP, "username", username, "mode", sess.Mode)
	return true
}

func (h *connHandler) OnInteractiveSessionOpen(stream io.ReadWriter) {
	a, sess := h.a, h.sess
	logger := a.logger.With("session_id", sess.ID, "addr", sess.SourceIP)

	sess.advance(StateInteractiveShell)
	_ = h.conn.SetDeadline(time.Time{})

	fs := vfs.DefaultTree()
	values := decoy.NewValues(rand.New(rand.NewSource(rand.Int63())))
	if err := decoy.Populate(fs, a.cfg.Blueprints, values); err != nil {
		logger.Warn("decoy_populate_failed", "error", err)
	}

	shellSess := shell.NewSession(stream, shell.NewInterpreter(fs), shell.Config{
		SessionID: sess.ID,
		SourceIP:  sess.SourceIP,
		Gate:      a.cfg.Gate,
		Emitter:   a.cfg.Emitter,
		Blocks:    a.cfg.Blocks,
		BlockTTL:  a.cfg.BlockTTL,
	})

	// Hard wall-clock ceiling. Whoever reaches a terminal state first owns
	// the outcome; the timer closes the connection and the session's
	// blocked read surfaces the error.
	watchdog := time.AfterFunc(a.cfg.SessionTimeout, func() {
		if sess.finish(StateTimedOut) == StateTimedOut {
			metricForcedCloses.Inc()
			_ = h.conn.Close()
		}
	})
	defer watchdog.Stop()

	err := shellSess.Run(a.ctx)

	outcome := StateDisconnected
	if errors.Is(err, shell.ErrSessionBlocked) {
		outcome = StateBlocked
	}
	final := sess.finish(outcome)
	sess.Commands = shellSess.History()
	sess.RiskScore = shellSess.RiskScore()

	details := map[string]string{
		telemetry.DetailDuration:     strconv.FormatFloat(sess.Duration().Seconds(), 'f', 2, 64),
		telemetry.DetailCommandCount: strconv.Itoa(len(sess.Commands)),
		telemetry.DetailMode:         string(sess.Mode),
		telemetry.DetailReason:       endReason(final),
	}
	if sess.RiskScore > 0 {
		details[telemetry.DetailRiskScore] = strconv.Itoa(sess.RiskScore)
	}
	a.emit(&telemetry.Event{
		Kind:      telemetry.KindSessionEnd,
		SessionID: sess.ID,
		SourceIP:  sess.SourceIP,
		Details:   details,
	})
	logger.Info("session_ended", "reason", endReason(final), "duration", sess.Duration(), "commands", len(sess.Commands))
}

// reject books the refusal; the denial wording on the wire is the
// transport's business.
func (h *connHandler) reject(d Decision) {
	a, sess := h.a, h.sess
	switch d.Reject {
	case RejectBlocked:
		metricConnections.WithLabelValues("blocked").Inc()
		a.logger.Info("connection_rejected", "addr", sess.SourceIP, "reason", d.Reject)
	case RejectCredentials:
		metricConnections.WithLabelValues("credentials").Inc()
		if d.Strike {
			sess.Strikes++
			count, blocked := a.cfg.Blocks.Strike(sess.SourceIP)
			a.logger.Info("login_rejected", "addr", sess.SourceIP, "strikes", count)
			if blocked {
				reason := ""
				if e, ok := a.cfg.Blocks.Lookup(sess.SourceIP); ok {
					reason = e.Reason
				}
				a.emit(&telemetry.Event{
					Kind:     telemetry.KindBlock,
					SourceIP: sess.SourceIP,
					Details:  map[string]string{telemetry.DetailReason: reason},
				})
				a.forceClose(sess.SourceIP, h.conn)
			}
		}
	}
	sess.finish(StateRejected)
}

func (a *Acceptor) acquire(addr string, conn net.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.active >= a.cfg.MaxSessions {
		return false
	}
	a.active++
	metricActiveSessions.Set(float64(a.active))
	if a.conns[addr] == nil {
		a.conns[addr] = make(map[net.Conn]struct{})
	}
	a.conns[addr][conn] = struct{}{}
	return true
}

func (a *Acceptor) release(addr string, conn net.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active--
	metricActiveSessions.Set(float64(a.active))
	delete(a.conns[addr], conn)
	if len(a.conns[addr]) == 0 {
		delete(a.conns, addr)
	}
}

// forceClose closes every other open connection from addr. Called when the
// address crosses the strike threshold; the triggering connection is closed
// by its own handler.
func (a *Acceptor) forceClose(addr string, except net.Conn) {
	a.mu.Lock()
	conns := make([]net.Conn, 0, len(a.conns[addr]))
	for c := range a.conns[addr] {
		if c != except {
			conns = append(conns, c)
		}
	}
	a.mu.Unlock()

	for _, c := range conns {
		metricForcedCloses.Inc()
		_ = c.Close()
	}
	if len(conns) > 0 {
		a.logger.Warn("sessions_force_closed", "addr", addr, "count", len(conns))
	}
}

func (a *Acceptor) closeAllConns() {
	a.mu.Lock()
	var conns []net.Conn
	for _, set := range a.conns {
		for c := range set {
			conns = append(conns, c)
		}
	}
	a.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (a *Acceptor) emit(e *telemetry.Event) {
	if a.cfg.Emitter == nil {
		return
	}
	a.cfg.Emitter.Emit(e)
}

func (a *Acceptor) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Acceptor) logResources() {
	if lim, err := nofileLimit(); err == nil {
		// one descriptor per session plus oracle and control-plane clients
		need := uint64(a.cfg.MaxSessions*2 + 32)
		if lim < need {
			a.logger.Warn("fd_limit_low", "nofile_soft", lim, "recommended", need)
		}
	}
	if mem, err := totalMemoryMB(); err == nil {
		a.logger.Info("host_resources", "total_memory_mb", mem)
	}
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
