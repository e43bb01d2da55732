// Package verdict asks an external oracle to classify shell commands in
// real time. The call is bounded by a hard deadline; any failure, timeout
// or malformed answer resolves to an ALLOW marked fail-open, so a slow or
// dead oracle can never stall or break a session.
package verdict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voslund/decoynet/pkg/logging"
)

// Classifications the oracle may return.
const (
	ClassificationAllow   = "ALLOW"
	ClassificationDeceive = "DECEIVE"
	ClassificationBlock   = "BLOCK"
)

// DefaultDeadline bounds one oracle round trip, sized for a local model
// inference plus transport overhead.
const DefaultDeadline = 5500 * time.Millisecond

const apiKeyHeader = "X-API-Key"

// Request is the context sent to the oracle for one command.
type Request struct {
	SensorID string   `json:"sensor_id,omitempty"`
	SourceIP string   `json:"source_ip"`
	Command  string   `json:"command"`
	History  []string `json:"history"`
	Cwd      string   `json:"cwd"`
	Listing  []string `json:"listing"`
}

// Decoy describes a file the oracle wants injected into the session tree.
type Decoy struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Verdict is the resolved decision for one command. FailOpen marks
// defaults substituted for an unreachable or late oracle.
type Verdict struct {
	Command        string
	Classification string
	Confidence     float64
	Reason         string
	RiskScore      int
	Decoy          *Decoy
	Latency        time.Duration
	FailOpen       bool
}

type wireResponse struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
	RiskScore      int     `json:"risk_score"`
	Decoy          *Decoy  `json:"decoy,omitempty"`
}

// Gate evaluates commands against the oracle endpoint. A Gate with an
// empty URL is disabled and allows everything without marking fail-open.
type Gate struct {
	url      string
	apiKey   string
	sensorID string
	deadline time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// GateOption customizes Gate construction.
type GateOption func(*Gate)

// WithDeadline overrides the per-evaluation deadline.
func WithDeadline(d time.Duration) GateOption {
	return func(g *Gate) { g.deadline = d }
}

// WithAPIKey sets the credential sent on each evaluation.
func WithAPIKey(key string) GateOption {
	return func(g *Gate) { g.apiKey = key }
}

// WithSensorID stamps every request with the sensor's identity so the
// oracle can correlate across sessions from the same edge.
func WithSensorID(id string) GateOption {
	return func(g *Gate) { g.sensorID = id }
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(c *http.Client) GateOption {
	return func(g *Gate) { g.client = c }
}

// NewGate creates a gate pointed at the oracle's evaluate endpoint.
func NewGate(url string, opts ...GateOption) *Gate {
	g := &Gate{
		url:      url,
		deadline: DefaultDeadline,
		// no transport timeout: the context deadline is the single
		// authority on how long an evaluation may take
		client: &http.Client{},
		logger: logging.WithComponent("verdict"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether an oracle endpoint is configured.
func (g *Gate) Enabled() bool {
	return g.url != ""
}

// Evaluate resolves exactly one verdict for the command. It never returns
// an error and makes exactly one attempt: retries would blow the latency
// budget a shell response is allowed.
func (g *Gate) Evaluate(ctx context.Context, req Request) Verdict {
	if !g.Enabled() {
		return Verdict{
			Command:        req.Command,
			Classification: ClassificationAllow,
			Reason:         "oracle disabled",
		}
	}

	if req.SensorID == "" {
		req.SensorID = g.sensorID
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return g.failOpen(req.Command, start, fmt.Sprintf("encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(cctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return g.failOpen(req.Command, start, fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.failOpen(req.Command, start, fmt.Sprintf("oracle unreachable: %v", err))
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return g.failOpen(req.Command, start, fmt.Sprintf("oracle status %d", resp.StatusCode))
	}

	var wire wireResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&wire); err != nil {
		return g.failOpen(req.Command, start, fmt.Sprintf("decode response: %v", err))
	}

	latency := time.Since(start)
	v := Verdict{
		Command:        req.Command,
		Classification: wire.Classification,
		Confidence:     wire.Confidence,
		Reason:         wire.Reason,
		RiskScore:      wire.RiskScore,
		Decoy:          wire.Decoy,
		Latency:        latency,
	}

	switch v.Classification {
	case ClassificationAllow, ClassificationDeceive, ClassificationBlock:
	default:
		v.Classification = ClassificationAllow
		v.Reason = fmt.Sprintf("unrecognized classification %q", wire.Classification)
	}
	// A payload without a path is unusable; the shell substitutes its own
	// decoy for a bare DECEIVE.
	if v.Decoy != nil && v.Decoy.Path == "" {
		v.Decoy = nil
	}

	metricEvaluations.WithLabelValues(v.Classification).Inc()
	metricLatency.Observe(latency.Seconds())
	return v
}

func (g *Gate) failOpen(command string, start time.Time, reason string) Verdict {
	latency := time.Since(start)
	g.logger.Warn("verdict_fail_open",
		"command", command,
		"reason", reason,
		"latency_ms", latency.Milliseconds())
	metricEvaluations.WithLabelValues(ClassificationAllow).Inc()
	metricFailOpen.Inc()
	metricLatency.Observe(latency.Seconds())
	return Verdict{
		Command:        command,
		Classification: ClassificationAllow,
		Reason:         reason,
		Latency:        latency,
		FailOpen:       true,
	}
}
