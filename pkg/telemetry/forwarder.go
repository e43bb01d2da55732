package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voslund/decoynet/internal/errx"
)

const (
	// DefaultBatchSize is the maximum events per ingest request.
	DefaultBatchSize = 64
	// DefaultFlushInterval bounds how long a partial batch may wait.
	DefaultFlushInterval = 2 * time.Second
	// DefaultForwardTimeout is the per-request HTTP client timeout.
	DefaultForwardTimeout = 10 * time.Second

	forwardBackoffInitial = 1 * time.Second
	forwardBackoffMax     = 32 * time.Second

	// APIKeyHeader carries the shared credential on control-plane calls.
	APIKeyHeader = "X-API-Key"
)

// ForwarderConfig configures the telemetry consumer.
type ForwarderConfig struct {
	// BaseURL is the control plane base URL. Empty disables forwarding;
	// events still reach local sinks.
	BaseURL string
	// APIKey authenticates ingest requests.
	APIKey string
	// BatchSize caps events per request. <= 0 selects the default.
	BatchSize int
	// FlushInterval bounds batch latency. <= 0 selects the default.
	FlushInterval time.Duration
	// Timeout is the HTTP client timeout. <= 0 selects the default.
	Timeout time.Duration
}

// ingestRequest is the wire body for POST /ingest.
type ingestRequest struct {
	Events []*Event `json:"events"`
}

// Forwarder is the single consumer of the telemetry queue. It writes every
// event to the local sinks, then forwards batches to the control plane.
// Delivery failures spill to the spool; spooled batches drain first once
// the control plane answers again.
type Forwarder struct {
	cfg    ForwarderConfig
	queue  *Queue
	spool  *Spool
	sinks  []Sink
	client *http.Client
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	backoff time.Duration
	retryAt time.Time
}

// NewForwarder wires the consumer. spool may be nil, in which case failed
// batches are dropped with a warning.
func NewForwarder(cfg ForwarderConfig, queue *Queue, spool *Spool, sinks ...Sink) *Forwarder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultForwardTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Forwarder{
		cfg:     cfg,
		queue:   queue,
		spool:   spool,
		sinks:   sinks,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  slog.With("component", "telemetry"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		backoff: forwardBackoffInitial,
	}
}

// Start launches the consumer goroutine.
func (f *Forwarder) Start() {
	go f.run()
}

// Stop flushes remaining events and closes the sinks. It waits for the
// consumer to finish or for ctx to expire.
func (f *Forwarder) Stop(ctx context.Context) error {
	close(f.stopCh)
	select {
	case <-f.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) run() {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, f.cfg.BatchSize)
	for {
		select {
		case <-f.stopCh:
			batch = f.drainRemaining(batch)
			f.flush(batch)
			f.closeSinks()
			return
		case e := <-f.queue.C():
			batch = append(batch, e)
			if len(batch) >= f.cfg.BatchSize {
				f.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				f.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// drainRemaining empties whatever is still buffered in the queue at
// shutdown without blocking on producers.
func (f *Forwarder) drainRemaining(batch []*Event) []*Event {
	for {
		select {
		case e := <-f.queue.C():
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

func (f *Forwarder) flush(batch []*Event) {
	if len(batch) == 0 {
		return
	}
	for _, e := range batch {
		for _, sink := range f.sinks {
			if err := sink.Write(e); err != nil {
				f.logger.Warn("sink_write_failed", "error", err, "kind", e.Kind)
			}
		}
	}
	f.deliver(batch)
}

// deliver forwards one batch upstream, honoring the failure backoff and
// draining the spool ahead of live traffic.
func (f *Forwarder) deliver(batch []*Event) {
	if f.cfg.BaseURL == "" {
		return
	}
	if time.Now().Before(f.retryAt) {
		f.toSpool(batch)
		return
	}
	if f.spool != nil && f.spool.Len() > 0 {
		if !f.drainSpool() {
			f.toSpool(batch)
			return
		}
	}
	if err := f.post(batch); err != nil {
		f.deliveryFailed(err)
		f.toSpool(batch)
		return
	}
	f.deliverySucceeded(len(batch))
}

// drainSpool replays spooled batches in order. Returns false if delivery
// failed partway; undelivered batches are re-spooled.
func (f *Forwarder) drainSpool() bool {
	batches, err := f.spool.Drain()
	if err != nil {
		f.logger.Warn("spool_drain_failed", "error", err)
		return false
	}
	for i, b := range batches {
		if err := f.post(b); err != nil {
			f.deliveryFailed(err)
			for _, rest := range batches[i:] {
				f.toSpool(rest)
			}
			return false
		}
		f.deliverySucceeded(len(b))
	}
	return true
}

func (f *Forwarder) toSpool(batch []*Event) {
	if f.spool == nil {
		for _, e := range batch {
			metricDropped.WithLabelValues(string(e.Kind)).Inc()
		}
		f.logger.Warn("batch_dropped_no_spool", "events", len(batch))
		return
	}
	if err := f.spool.Append(batch); err != nil {
		f.logger.Warn("spool_append_failed", "error", err, "events", len(batch))
	}
}

func (f *Forwarder) deliveryFailed(err error) {
	metricForwardFailures.Inc()
	f.retryAt = time.Now().Add(f.backoff)
	f.logger.Warn("forward_failed", "error", err, "retry_in", f.backoff.String())
	f.backoff *= 2
	if f.backoff > forwardBackoffMax {
		f.backoff = forwardBackoffMax
	}
}

func (f *Forwarder) deliverySucceeded(n int) {
	metricForwarded.Add(float64(n))
	f.backoff = forwardBackoffInitial
	f.retryAt = time.Time{}
}

func (f *Forwarder) post(batch []*Event) error {
	body, err := json.Marshal(ingestRequest{Events: batch})
	if err != nil {
		return errx.Wrap(ErrForward, err)
	}
	req, err := http.NewRequest(http.MethodPost, f.cfg.BaseURL+"/ingest", bytes.NewReader(body))
	if err != nil {
		return errx.Wrap(ErrForward, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.cfg.APIKey != "" {
		req.Header.Set(APIKeyHeader, f.cfg.APIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return errx.Wrap(ErrForward, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errx.Wrap(ErrForward, fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

func (f *Forwarder) closeSinks() {
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			f.logger.Warn("sink_close_failed", "error", err)
		}
	}
}
