package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureServer struct {
	mu       sync.Mutex
	events   []*Event
	failing  atomic.Bool
	requests atomic.Int64
}

func (c *captureServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.requests.Add(1)
		assert.Equal(t, "/ingest", r.URL.Path)
		assert.Equal(t, "test-ingest-key", r.Header.Get(APIKeyHeader))
		if c.failing.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		var req ingestRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		c.mu.Lock()
		c.events = append(c.events, req.Events...)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *captureServer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestForwarderDeliversBatches(t *testing.T) {
	capture := &captureServer{}
	srv := httptest.NewServer(capture.handler(t))
	defer srv.Close()

	q := NewQueue(32)
	fw := NewForwarder(ForwarderConfig{
		BaseURL:       srv.URL,
		APIKey:        "test-ingest-key",
		FlushInterval: 50 * time.Millisecond,
	}, q, nil)
	fw.Start()

	em := NewEmitter("sensor-test", q)
	for i := 0; i < 5; i++ {
		require.True(t, em.Emit(&Event{Kind: KindLoginAttempt, SourceIP: "10.0.0.2"}))
	}

	require.Eventually(t, func() bool { return capture.count() == 5 },
		3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fw.Stop(ctx))
}

func TestForwarderSpoolsOnFailureAndRedelivers(t *testing.T) {
	capture := &captureServer{}
	capture.failing.Store(true)
	srv := httptest.NewServer(capture.handler(t))
	defer srv.Close()

	spool, err := NewSpool(filepath.Join(t.TempDir(), "spool.cbor"), 16)
	require.NoError(t, err)

	q := NewQueue(32)
	fw := NewForwarder(ForwarderConfig{
		BaseURL:       srv.URL,
		APIKey:        "test-ingest-key",
		FlushInterval: 50 * time.Millisecond,
	}, q, spool)
	fw.Start()

	em := NewEmitter("sensor-test", q)
	require.True(t, em.Emit(&Event{Kind: KindBlock, SourceIP: "10.0.0.3"}))

	require.Eventually(t, func() bool { return spool.Len() > 0 },
		3*time.Second, 20*time.Millisecond, "failed batch should land in the spool")
	assert.Zero(t, capture.count())

	capture.failing.Store(false)
	require.True(t, em.Emit(&Event{Kind: KindCommand, SourceIP: "10.0.0.3"}))

	require.Eventually(t, func() bool { return capture.count() == 2 },
		10*time.Second, 50*time.Millisecond, "spooled batch should drain before live traffic")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fw.Stop(ctx))
}

func TestForwarderWritesSinksWithoutUpstream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := NewJSONLWriter(path)
	require.NoError(t, err)

	q := NewQueue(8)
	fw := NewForwarder(ForwarderConfig{FlushInterval: 20 * time.Millisecond}, q, nil, sink)
	fw.Start()

	em := NewEmitter("sensor-test", q)
	require.True(t, em.Emit(&Event{Kind: KindSessionEnd, SourceIP: "10.0.0.4"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fw.Stop(ctx))

	events, skipped, err := ReadJSONL(path)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, events, 1)
	assert.Equal(t, KindSessionEnd, events[0].Kind)
}
