// Package controlplane is the central aggregator: it ingests sensor
// telemetry into a durable event log, maintains the versioned global
// blocklist, proxies real-time verdict evaluations to the oracle and
// serves the derived intelligence surfaces (digest, feed, live events).
package controlplane

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/voslund/decoynet/internal/errx"
	"github.com/voslund/decoynet/pkg/analyzer"
	"github.com/voslund/decoynet/pkg/api"
	"github.com/voslund/decoynet/pkg/logging"
)

// DefaultOracleTimeout bounds one proxied oracle round trip. Slightly
// under the edge gate's deadline so the proxy times out first and the
// sensor sees a clean fail-open response.
const DefaultOracleTimeout = 5 * time.Second

type Config struct {
	ListenAddr string
	StorePath  string
	// IngestKey authenticates sensors (ingest, evaluate).
	IngestKey string
	// BlocklistKey authenticates blocklist consumers and dashboards.
	BlocklistKey  string
	OracleURL     string
	OracleTimeout time.Duration
	// RiskThreshold is the analyzer score at which an address is
	// blocked centrally. <= 0 selects the default.
	RiskThreshold int
	Analyzer      analyzer.Config
}

type Server struct {
	cfg    Config
	store  *Store
	hub    *eventHub
	oracle *http.Client
	logger *slog.Logger

	ln  net.Listener
	srv *http.Server

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultOracleTimeout
	}
	if cfg.RiskThreshold <= 0 {
		cfg.RiskThreshold = api.DefaultRiskThreshold
	}
	if cfg.Analyzer == (analyzer.Config{}) {
		cfg.Analyzer = analyzer.DefaultConfig()
	}

	store, err := OpenStore(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		store.Close()
		return nil, errx.With(ErrListen, " on %s: %w", cfg.ListenAddr, err)
	}

	logger := logging.WithComponent("controlplane")
	s := &Server{
		cfg:    cfg,
		store:  store,
		hub:    newEventHub(logger),
		oracle: &http.Client{Timeout: cfg.OracleTimeout},
		logger: logger,
		ln:     ln,
	}
	s.srv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.IngestKey == "" || cfg.BlocklistKey == "" {
		logger.Warn("api_key_missing", "detail", "endpoints without a configured key accept unauthenticated requests")
	}
	if n, err := store.BlockCount(); err == nil {
		metricBlocklistSize.Set(float64(n))
	}
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("serve_failed", "error", err)
		}
	}()
	s.logger.Info("control_plane_listening", "addr", s.ln.Addr().String())
}

// Close drains in-flight requests until ctx expires, drops live feed
// clients and closes the store.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.srv.Shutdown(ctx)
	if err != nil {
		s.srv.Close()
	}
	s.hub.closeAll()
	s.wg.Wait()
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
