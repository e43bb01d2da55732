package shell

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/voslund/decoynet/pkg/blockset"
	"github.com/voslund/decoynet/pkg/decoy"
	"github.com/voslund/decoynet/pkg/logging"
	"github.com/voslund/decoynet/pkg/telemetry"
	"github.com/voslund/decoynet/pkg/verdict"
)

const outputPreviewLen = 50

// terminationNotice is shown before a verdict-blocked session is cut.
const terminationNotice = "\r\nConnection terminated by security policy.\r\n"

// Config wires one interactive session.
type Config struct {
	SessionID string
	SourceIP  string
	Gate      *verdict.Gate
	Emitter   *telemetry.Emitter
	Blocks    *blockset.Repository
	BlockTTL  time.Duration
}

// Session drives the interactive loop for one admitted connection: echo,
// line editing, verdict gating, decoy injection and command telemetry.
type Session struct {
	cfg     Config
	it      *Interpreter
	rw      io.ReadWriter
	rng     *rand.Rand
	history []string
	risk    int
	logger  *slog.Logger
}

// NewSession binds an interpreter to a connection's byte stream.
func NewSession(rw io.ReadWriter, it *Interpreter, cfg Config) *Session {
	return &Session{
		cfg: cfg,
		it:  it,
		rw:  rw,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logging.WithComponent("shell").With(
			"session_id", cfg.SessionID,
			"addr", cfg.SourceIP),
	}
}

// Commands returns how many command lines the session executed.
func (s *Session) Commands() int {
	return len(s.history)
}

// History returns the command trail in execution order.
func (s *Session) History() []string {
	return append([]string(nil), s.history...)
}

// RiskScore returns the highest risk the oracle reported for any command
// in this session.
func (s *Session) RiskScore() int {
	return s.risk
}

// Run serves the shell until the attacker exits, disconnects, or a
// verdict terminates the session. A nil return is a clean end; a verdict
// termination returns ErrSessionBlocked; read errors (including watchdog
// deadline expiry surfaced by the connection) pass through.
func (s *Session) Run(ctx context.Context) error {
	s.write(WelcomeBanner + "\r\n\r\n")
	s.write(s.it.Prompt())

	buf := make([]byte, 1024)
	var line []byte
	lastCR := false

	for {
		n, err := s.rw.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' && lastCR {
				// second half of CRLF, already handled
				lastCR = false
				continue
			}
			lastCR = b == '\r'

			switch {
			case b == '\r' || b == '\n':
				s.write("\r\n")
				cmd := strings.TrimSpace(string(line))
				line = line[:0]
				exit, herr := s.handleLine(ctx, cmd)
				if herr != nil {
					return herr
				}
				if exit {
					return nil
				}
				s.write(s.it.Prompt())
			case b == 0x7f || b == 0x08:
				if len(line) > 0 {
					line = line[:len(line)-1]
					s.write("\x08 \x08")
				}
			default:
				line = append(line, b)
				s.rw.Write([]byte{b})
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s *Session) handleLine(ctx context.Context, cmd string) (exit bool, err error) {
	if cmd == "" {
		return false, nil
	}
	s.history = append(s.history, cmd)
	s.logger.Info("command_received", "command", cmd)

	v := s.cfg.Gate.Evaluate(ctx, verdict.Request{
		SourceIP: s.cfg.SourceIP,
		Command:  cmd,
		History:  s.History(),
		Cwd:      s.it.Cwd(),
		Listing:  s.it.Listing(),
	})
	if v.RiskScore > s.risk {
		s.risk = v.RiskScore
	}

	if v.Classification == verdict.ClassificationDeceive && v.Decoy == nil {
		// The oracle wants deception but sent nothing to plant; fabricate
		// a credential-looking file where the attacker is looking.
		tpl := decoy.Fallback(s.rng, s.it.Cwd())
		v.Decoy = &verdict.Decoy{Path: tpl.Path, Content: tpl.Content}
	}

	if s.cfg.Gate.Enabled() {
		details := map[string]string{
			telemetry.DetailCommand:        cmd,
			telemetry.DetailClassification: v.Classification,
			telemetry.DetailLatencyMS:      strconv.FormatInt(v.Latency.Milliseconds(), 10),
			telemetry.DetailFailOpen:       strconv.FormatBool(v.FailOpen),
			telemetry.DetailRiskScore:      strconv.Itoa(v.RiskScore),
		}
		if v.Reason != "" {
			details[telemetry.DetailReason] = v.Reason
		}
		if v.Decoy != nil {
			details[telemetry.DetailDecoyPath] = v.Decoy.Path
		}
		s.emit(telemetry.KindVerdict, details)
	}

	// Every submitted command leaves a COMMAND record, blocked or not.
	record := map[string]string{
		telemetry.DetailCommand:        cmd,
		telemetry.DetailClassification: v.Classification,
		telemetry.DetailLatencyMS:      strconv.FormatInt(v.Latency.Milliseconds(), 10),
		telemetry.DetailFailOpen:       strconv.FormatBool(v.FailOpen),
	}

	if v.Classification == verdict.ClassificationBlock {
		s.write(terminationNotice)
		s.emit(telemetry.KindCommand, record)
		reason := v.Reason
		if reason == "" {
			reason = "verdict block for command: " + cmd
		}
		s.cfg.Blocks.Block(s.cfg.SourceIP, reason, s.cfg.BlockTTL)
		s.emit(telemetry.KindBlock, map[string]string{
			telemetry.DetailReason:  reason,
			telemetry.DetailCommand: cmd,
		})
		s.logger.Warn("session_blocked", "command", cmd, "reason", reason)
		return false, ErrSessionBlocked
	}

	if v.Decoy != nil {
		if derr := decoy.Place(s.it.FS(), v.Decoy.Path, v.Decoy.Content); derr != nil {
			s.logger.Warn("decoy_deploy_failed", "path", v.Decoy.Path, "error", derr)
		} else {
			s.logger.Info("decoy_deployed", "path", v.Decoy.Path)
		}
	}

	output, exit := s.it.Execute(cmd)

	record[telemetry.DetailOutput] = preview(output)
	s.emit(telemetry.KindCommand, record)

	if output != "" {
		s.write(strings.ReplaceAll(output, "\n", "\r\n") + "\r\n")
	}
	return exit, nil
}

func (s *Session) emit(kind telemetry.Kind, details map[string]string) {
	s.cfg.Emitter.Emit(&telemetry.Event{
		Kind:      kind,
		SessionID: s.cfg.SessionID,
		SourceIP:  s.cfg.SourceIP,
		Details:   details,
	})
}

func (s *Session) write(str string) {
	// write failures surface as read errors on the next loop turn
	io.WriteString(s.rw, str)
}

func preview(output string) string {
	if len(output) <= outputPreviewLen {
		return output
	}
	return output[:outputPreviewLen] + "..."
}
