// Package syncer keeps an edge sensor's block repository converged with
// the control plane. It pulls the global set on a fixed interval and
// merges it by union; a failed pull keeps the last-known set and backs
// off, and the admission path never waits on a sync.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voslund/decoynet/internal/errx"
	"github.com/voslund/decoynet/pkg/api"
	"github.com/voslund/decoynet/pkg/blockset"
	"github.com/voslund/decoynet/pkg/logging"
	"github.com/voslund/decoynet/pkg/telemetry"
)

const (
	// DefaultInterval is the pull cadence when none is configured.
	DefaultInterval = api.DefaultSyncIntervalSeconds * time.Second
	// DefaultPullTimeout is the per-request HTTP client timeout.
	DefaultPullTimeout = 5 * time.Second

	// backoffCap bounds the failure backoff to this many intervals.
	backoffCap = 8

	maxSetBytes = 8 << 20
)

// Config configures the synchronizer.
type Config struct {
	// BaseURL is the control plane base URL.
	BaseURL string
	// APIKey authenticates blocklist pulls.
	APIKey string
	// Interval is the pull cadence. <= 0 selects the default.
	Interval time.Duration
	// Timeout is the HTTP client timeout. <= 0 selects the default.
	Timeout time.Duration
}

// Syncer periodically pulls the global blocklist into a Repository.
type Syncer struct {
	cfg    Config
	repo   *blockset.Repository
	client *http.Client
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	// delay is the wait before the next pull; it doubles on failure up
	// to backoffCap intervals and resets on success.
	delay time.Duration
}

// NewSyncer wires a synchronizer onto the given repository.
func NewSyncer(cfg Config, repo *blockset.Repository) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPullTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Syncer{
		cfg:    cfg,
		repo:   repo,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.WithComponent("syncer"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		delay:  cfg.Interval,
	}
}

// Start launches the pull loop.
func (s *Syncer) Start() {
	go s.run()
}

// Stop halts the loop. It waits for the loop to finish or for ctx to
// expire.
func (s *Syncer) Stop(ctx context.Context) error {
	close(s.stopCh)
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Syncer) run() {
	defer close(s.doneCh)

	// First pull fires immediately so a restarted sensor converges
	// without waiting out a full interval.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
		}

		if err := s.pull(); err != nil {
			s.delay *= 2
			if limit := s.cfg.Interval * backoffCap; s.delay > limit {
				s.delay = limit
			}
			metricPullFailures.Inc()
			s.logger.Warn("blocklist_sync_failed", "error", err, "retry_in", s.delay.String())
		} else {
			s.delay = s.cfg.Interval
		}
		timer.Reset(s.delay)
	}
}

// pull fetches the global set and applies it. A set whose version is not
// newer than the current one is a successful no-op.
func (s *Syncer) pull() error {
	req, err := http.NewRequest(http.MethodGet, s.cfg.BaseURL+"/blocklist", nil)
	if err != nil {
		return errx.Wrap(ErrPull, err)
	}
	if s.cfg.APIKey != "" {
		req.Header.Set(telemetry.APIKeyHeader, s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errx.Wrap(ErrPull, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return errx.Wrap(ErrPull, fmt.Errorf("status %d", resp.StatusCode))
	}

	var set blockset.GlobalSet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSetBytes)).Decode(&set); err != nil {
		return errx.Wrap(ErrPull, err)
	}
	if s.repo.ApplyGlobal(set) {
		metricAppliedVersion.Set(float64(set.Version))
	}
	return nil
}
