//go:build acceptance

package acceptance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voslund/decoynet/pkg/api"
	"github.com/voslund/decoynet/pkg/telemetry"
)

func TestLiveEventStreamDeliversAttackerActivity(t *testing.T) {
	s := launchStack(t, stackOptions{
		policy: &api.PolicyConfig{AllowAllCreds: true},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := s.client.LiveEvents(ctx)
	require.NoError(t, err)
	// Let the hub register the subscriber before telemetry flows.
	time.Sleep(200 * time.Millisecond)

	a := dialAttacker(t, s)
	a.login("svc_backup", "Xj9kL-reuse")
	a.readUntil(testPrompt)
	a.send("exit")
	a.expectClosed()

	var success *telemetry.Event
	deadline := time.After(5 * time.Second)
	for success == nil {
		select {
		case e, ok := <-events:
			require.True(t, ok, "stream closed before LOGIN_SUCCESS arrived")
			if e.Kind == telemetry.KindLoginSuccess {
				success = &e
			}
		case <-deadline:
			t.Fatal("no LOGIN_SUCCESS event arrived on the live stream")
		}
	}
	assert.Equal(t, "svc_backup", success.Username, "allow-all admits non-bait credentials")
	assert.Equal(t, "sensor-e2e", success.SensorID)
	assert.Equal(t, "127.0.0.1", success.SourceIP)

	cancel()
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 3*time.Second, 50*time.Millisecond, "stream should close after cancel")
}

func TestIngestDeduplicatesByEventID(t *testing.T) {
	s := launchStack(t, stackOptions{})

	batch := []telemetry.Event{
		{
			ID:        "e2e-dup-1",
			Timestamp: time.Now().UTC(),
			Kind:      telemetry.KindLoginAttempt,
			SensorID:  "sensor-import",
			SourceIP:  "198.51.100.4",
			Username:  "oracle",
			Password:  "oracle123",
		},
		{
			ID:        "e2e-dup-2",
			Timestamp: time.Now().UTC(),
			Kind:      telemetry.KindSessionEnd,
			SensorID:  "sensor-import",
			SourceIP:  "198.51.100.4",
			Details:   map[string]string{telemetry.DetailReason: "disconnect"},
		},
	}

	inserted, err := s.client.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Replaying the same log adds nothing.
	inserted, err = s.client.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	digest, err := s.client.Digest(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, digest.TotalEvents, 2)
}
