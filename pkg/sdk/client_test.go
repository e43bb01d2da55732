package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voslund/decoynet/pkg/blockset"
	"github.com/voslund/decoynet/pkg/telemetry"
)

func TestClientBlocklist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/blocklist", r.URL.Path)
		assert.Equal(t, "sekrit", r.Header.Get(telemetry.APIKeyHeader))
		json.NewEncoder(w).Encode(blockset.GlobalSet{
			Version: 4,
			Entries: map[string]blockset.Entry{
				"203.0.113.9": {Addr: "203.0.113.9", Origin: blockset.OriginGlobal, Reason: "5 failed attempts"},
			},
		})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, WithAPIKey("sekrit"))
	set, err := client.Blocklist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), set.Version)
	assert.Contains(t, set.Entries, "203.0.113.9")
	assert.Equal(t, "5 failed attempts", set.Entries["203.0.113.9"].Reason)
}

func TestClientUnblock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/unblock/203.0.113.9", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "address": "203.0.113.9", "removed": true})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL)
	removed, err := client.Unblock(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestClientUnblockRejectsBadAddress(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")

	for _, addr := range []string{"", "a/b"} {
		_, err := client.Unblock(context.Background(), addr)
		assert.ErrorIs(t, err, ErrRequest)
	}
}

func TestClientIngest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ingest", r.URL.Path)
		var req struct {
			Events []telemetry.Event `json:"events"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Events, 2)
		assert.Equal(t, "edge-1", req.Events[0].SensorID)
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "inserted": 2})
	}))
	t.Cleanup(srv.Close)

	events := []telemetry.Event{
		{ID: "a", Kind: telemetry.KindLoginAttempt, SensorID: "edge-1", SourceIP: "198.51.100.7", Timestamp: time.Now()},
		{ID: "b", Kind: telemetry.KindBlock, SensorID: "edge-1", SourceIP: "198.51.100.7", Timestamp: time.Now()},
	}
	inserted, err := NewClient(srv.URL).Ingest(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
}

func TestClientFeedAndDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/feed":
			json.NewEncoder(w).Encode([]FeedEntry{
				{AttackerIP: "185.2.3.4", Decision: "BLOCK", RiskScore: 95, Summary: "Attacker executed: wget..."},
			})
		case "/api/metrics":
			json.NewEncoder(w).Encode(map[string]any{"total_events": 7})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL)

	entries, err := client.Feed(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BLOCK", entries[0].Decision)
	assert.Equal(t, 95, entries[0].RiskScore)

	digest, err := client.Digest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, digest.TotalEvents)
}

func TestClientHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	t.Cleanup(srv.Close)

	assert.NoError(t, NewClient(srv.URL).Health(context.Background()))
}

func TestClientSurfacesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": "missing or invalid API key"})
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL).Blocklist(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus))
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))
	err := client.Health(context.Background())
	assert.ErrorIs(t, err, ErrRequest)
}
