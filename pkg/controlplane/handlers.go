package controlplane

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voslund/decoynet/pkg/analyzer"
	"github.com/voslund/decoynet/pkg/report"
	"github.com/voslund/decoynet/pkg/telemetry"
	"github.com/voslund/decoynet/pkg/verdict"
)

const maxBodyBytes = 4 << 20

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ingest", s.requireKey(s.cfg.IngestKey, s.handleIngest))
	mux.HandleFunc("/evaluate", s.requireKey(s.cfg.IngestKey, s.handleEvaluate))
	mux.HandleFunc("/blocklist", s.requireKey(s.cfg.BlocklistKey, s.handleBlocklist))
	mux.HandleFunc("/unblock/", s.requireKey(s.cfg.BlocklistKey, s.handleUnblock))
	mux.HandleFunc("/api/metrics", s.requireKey(s.cfg.BlocklistKey, s.handleDigest))
	mux.HandleFunc("/api/feed", s.requireKey(s.cfg.BlocklistKey, s.handleFeed))
	mux.HandleFunc("/api/events/live", s.requireKey(s.cfg.BlocklistKey, s.hub.handle))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// requireKey gates a handler behind an X-API-Key check. An empty
// configured key disables the check for that handler.
func (s *Server) requireKey(key string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key != "" {
			got := r.Header.Get(telemetry.APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeErrorJSON(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeJSONOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

func writeErrorJSON(w http.ResponseWriter, status int, errorCode, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req struct {
		Events []telemetry.Event `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Events) == 0 {
		writeErrorJSON(w, http.StatusBadRequest, "empty_batch", "no events in request")
		return
	}
	for i := range req.Events {
		if err := validateEvent(&req.Events[i]); err != nil {
			writeErrorJSON(w, http.StatusBadRequest, "invalid_event", fmt.Sprintf("event %d: %v", i, err))
			return
		}
	}

	inserted, err := s.store.InsertEvents(req.Events)
	if err != nil {
		s.logger.Error("ingest_failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "store_error", "failed to persist events")
		return
	}
	s.applyIngestSideEffects(inserted)

	writeJSONOK(w, map[string]any{"status": "success", "inserted": len(inserted)})
}

func validateEvent(e *telemetry.Event) error {
	switch {
	case e.ID == "":
		return errors.New("missing id")
	case e.Kind == "":
		return errors.New("missing kind")
	case e.SensorID == "":
		return errors.New("missing sensor_id")
	case e.SourceIP == "":
		return errors.New("missing source_ip")
	case e.Timestamp.IsZero():
		return errors.New("missing ts")
	}
	return nil
}

// applyIngestSideEffects runs orchestration for events that were actually
// new: broadcast, blocklist updates from edge BLOCKs, feed rows for ended
// sessions, and the centralized risk pass.
func (s *Server) applyIngestSideEffects(inserted []telemetry.Event) {
	riskCandidates := make(map[string]bool)
	for _, e := range inserted {
		metricIngested.WithLabelValues(string(e.Kind)).Inc()
		s.hub.Broadcast(e)

		switch e.Kind {
		case telemetry.KindBlock:
			reason := e.Details[telemetry.DetailReason]
			if reason == "" {
				reason = "blocked by " + e.SensorID
			}
			s.applyBlock(e.SourceIP, reason)
		case telemetry.KindSessionEnd:
			if err := s.store.AppendFeed(sessionEndFeedEntry(e)); err != nil {
				s.logger.Warn("feed_append_failed", "error", err)
			}
		case telemetry.KindLoginAttempt:
			riskCandidates[e.SourceIP] = true
		}
	}
	for addr := range riskCandidates {
		s.evaluateRisk(addr)
	}
}

func (s *Server) applyBlock(addr, reason string) bool {
	added, err := s.store.AddBlock(addr, reason)
	if err != nil {
		s.logger.Error("block_failed", "addr", addr, "error", err)
		return false
	}
	if !added {
		return false
	}
	if n, err := s.store.BlockCount(); err == nil {
		metricBlocklistSize.Set(float64(n))
	}
	s.logger.Info("global_block_added", "addr", addr, "reason", reason)
	return true
}

// evaluateRisk re-scores one address against its full history and blocks
// it centrally when the score crosses the threshold.
func (s *Server) evaluateRisk(addr string) {
	events, err := s.store.EventsBySource(addr)
	if err != nil {
		s.logger.Warn("risk_evaluation_failed", "addr", addr, "error", err)
		return
	}
	profile := analyzer.Analyze(s.cfg.Analyzer, events)
	if profile == nil || profile.RiskScore < s.cfg.RiskThreshold {
		return
	}
	reason := fmt.Sprintf("risk score %d (threshold %d)", profile.RiskScore, s.cfg.RiskThreshold)
	if !s.applyBlock(addr, reason) {
		return
	}
	s.logger.Warn("risk_block", "addr", addr, "risk_score", profile.RiskScore,
		"patterns", strings.Join(profile.Patterns, ","))

	blockEv := telemetry.Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Kind:      telemetry.KindBlock,
		SensorID:  "control-plane",
		SourceIP:  addr,
		Details: map[string]string{
			telemetry.DetailReason:    reason,
			telemetry.DetailRiskScore: strconv.Itoa(profile.RiskScore),
		},
	}
	if ins, err := s.store.InsertEvents([]telemetry.Event{blockEv}); err == nil && len(ins) > 0 {
		s.hub.Broadcast(blockEv)
	}
}

func (s *Server) handleBlocklist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	set, err := s.store.Blocklist()
	if err != nil {
		s.logger.Error("blocklist_read_failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "store_error", "failed to read blocklist")
		return
	}
	writeJSONOK(w, set)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	addr := strings.TrimPrefix(r.URL.Path, "/unblock/")
	if addr == "" || strings.Contains(addr, "/") {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_address", "expected /unblock/{address}")
		return
	}

	removed, err := s.store.RemoveBlock(addr)
	if err != nil {
		s.logger.Error("unblock_failed", "addr", addr, "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "store_error", "failed to remove block")
		return
	}
	if removed {
		if n, err := s.store.BlockCount(); err == nil {
			metricBlocklistSize.Set(float64(n))
		}
		s.logger.Info("global_block_removed", "addr", addr)
	}
	writeJSONOK(w, map[string]any{"status": "success", "address": addr, "removed": removed})
}

// evaluateDecision mirrors the oracle's verdict wire shape so sensors can
// point their gate at /evaluate instead of the oracle directly.
type evaluateDecision struct {
	Classification string         `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Reason         string         `json:"reason"`
	RiskScore      int            `json:"risk_score"`
	Decoy          *verdict.Decoy `json:"decoy,omitempty"`
}

func failOpenDecision(reason string) evaluateDecision {
	return evaluateDecision{Classification: verdict.ClassificationAllow, Reason: reason}
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	var req verdict.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.SourceIP == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "missing source_ip")
		return
	}

	if s.cfg.OracleURL == "" {
		metricEvaluations.WithLabelValues("disabled").Inc()
		writeJSONOK(w, failOpenDecision("no oracle configured"))
		return
	}

	start := time.Now()
	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.cfg.OracleURL, bytes.NewReader(body))
	if err != nil {
		metricEvaluations.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusBadGateway, failOpenDecision("oracle request invalid, fail open"))
		return
	}
	upstream.Header.Set("Content-Type", "application/json")

	resp, err := s.oracle.Do(upstream)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) && uerr.Timeout() {
			metricEvaluations.WithLabelValues("timeout").Inc()
			s.logger.Warn("oracle_timeout", "addr", req.SourceIP)
			writeJSON(w, http.StatusGatewayTimeout, failOpenDecision("oracle timeout, fail open"))
			return
		}
		metricEvaluations.WithLabelValues("error").Inc()
		s.logger.Warn("oracle_unreachable", "error", err)
		writeJSON(w, http.StatusBadGateway, failOpenDecision("oracle unreachable, fail open"))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		metricEvaluations.WithLabelValues("error").Inc()
		s.logger.Warn("oracle_error", "status", resp.StatusCode)
		writeJSON(w, http.StatusBadGateway, failOpenDecision(fmt.Sprintf("oracle status %d, fail open", resp.StatusCode)))
		return
	}
	var decision evaluateDecision
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&decision); err != nil {
		metricEvaluations.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusBadGateway, failOpenDecision("oracle response undecodable, fail open"))
		return
	}
	latency := time.Since(start)

	outcome := strings.ToLower(decision.Classification)
	if outcome == "" {
		outcome = "unknown"
	}
	metricEvaluations.WithLabelValues(outcome).Inc()

	if decision.Classification == verdict.ClassificationBlock {
		reason := decision.Reason
		if reason == "" {
			reason = "oracle verdict"
		}
		s.logger.Warn("verdict_block", "addr", req.SourceIP, "reason", reason)
		s.applyBlock(req.SourceIP, reason)
	}

	if !isFeedNoise(req.Command) {
		entry := FeedEntry{
			Timestamp:   time.Now().UTC(),
			AttackerIP:  req.SourceIP,
			Geolocation: locate(req.SourceIP),
			Command:     strings.TrimSpace(req.Command),
			Decision:    decision.Classification,
			Reason:      decision.Reason,
			RiskScore:   decision.RiskScore,
			Latency:     math.Round(latency.Seconds()*100) / 100,
			Summary:     commandSummary(req.Command),
		}
		if err := s.store.AppendFeed(entry); err != nil {
			s.logger.Warn("feed_append_failed", "error", err)
		}
	}

	writeJSONOK(w, decision)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	events, err := s.store.LoadEvents()
	if err != nil {
		s.logger.Error("digest_failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "store_error", "failed to load events")
		return
	}
	writeJSONOK(w, report.Build(s.cfg.Analyzer, events))
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.store.Feed()
	if err != nil {
		s.logger.Error("feed_read_failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "store_error", "failed to read feed")
		return
	}
	if entries == nil {
		entries = []FeedEntry{}
	}
	writeJSONOK(w, entries)
}
