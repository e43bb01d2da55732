package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/voslund/decoynet/internal/errx"
	"github.com/voslund/decoynet/pkg/telemetry"
)

const liveEventBuffer = 64

// LiveEvents subscribes to the control plane's event stream. The channel
// delivers every event the control plane ingests from the moment of
// subscription and closes when the server drops the connection or ctx is
// cancelled.
func (c *Client) LiveEvents(ctx context.Context) (<-chan telemetry.Event, error) {
	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set(telemetry.APIKeyHeader, c.apiKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, errx.With(ErrSubscribe, ": status %d: %w", resp.StatusCode, err)
		}
		return nil, errx.Wrap(ErrSubscribe, err)
	}

	ch := make(chan telemetry.Event, liveEventBuffer)
	done := make(chan struct{})

	// Cancellation has to close the connection to unblock the reader.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(ch)
		defer close(done)
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var e telemetry.Event
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func websocketURL(baseURL string) (string, error) {
	switch {
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/api/events/live", nil
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/api/events/live", nil
	default:
		return "", errx.With(ErrSubscribe, ": base URL %q is not http(s)", baseURL)
	}
}
