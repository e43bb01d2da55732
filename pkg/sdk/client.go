// Package sdk provides a typed client for a decoynet control plane.
//
// Operator tooling and tests use it instead of hand-rolled HTTP calls:
//
//	client := sdk.NewClient("http://127.0.0.1:8080", sdk.WithAPIKey(key))
//
//	set, err := client.Blocklist(ctx)
//	removed, err := client.Unblock(ctx, "203.0.113.9")
//
//	events, err := client.LiveEvents(ctx)
//	for e := range events {
//	    fmt.Println(e.Kind, e.SourceIP)
//	}
//
// All methods are safe for concurrent use.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voslund/decoynet/internal/errx"
	"github.com/voslund/decoynet/pkg/blockset"
	"github.com/voslund/decoynet/pkg/report"
	"github.com/voslund/decoynet/pkg/telemetry"
)

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 8 << 20

// Client talks to one control plane.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option adjusts client construction.
type Option func(*Client)

// WithAPIKey authenticates every request with the shared key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the control plane at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks that the control plane is up and answering.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

// Blocklist fetches the current global block set, version included.
func (c *Client) Blocklist(ctx context.Context) (blockset.GlobalSet, error) {
	var set blockset.GlobalSet
	err := c.do(ctx, http.MethodGet, "/blocklist", nil, &set)
	return set, err
}

// Unblock removes one address from the global blocklist. It reports
// whether an entry was actually removed; unblocking an address that was
// never blocked is not an error.
func (c *Client) Unblock(ctx context.Context, addr string) (bool, error) {
	if addr == "" || strings.Contains(addr, "/") {
		return false, errx.With(ErrRequest, ": invalid address %q", addr)
	}
	var out struct {
		Removed bool `json:"removed"`
	}
	err := c.do(ctx, http.MethodPost, "/unblock/"+addr, nil, &out)
	return out.Removed, err
}

// Ingest delivers a batch of events and returns how many were new.
// Re-delivering events the control plane has already seen is safe.
func (c *Client) Ingest(ctx context.Context, events []telemetry.Event) (int, error) {
	body := struct {
		Events []telemetry.Event `json:"events"`
	}{Events: events}

	var out struct {
		Inserted int `json:"inserted"`
	}
	err := c.do(ctx, http.MethodPost, "/ingest", body, &out)
	return out.Inserted, err
}

// Feed fetches the intelligence feed, newest entries last.
func (c *Client) Feed(ctx context.Context) ([]FeedEntry, error) {
	var entries []FeedEntry
	err := c.do(ctx, http.MethodGet, "/api/feed", nil, &entries)
	return entries, err
}

// Digest fetches the control plane's aggregated analysis of everything
// it has ingested.
func (c *Client) Digest(ctx context.Context) (*report.Digest, error) {
	var d report.Digest
	if err := c.do(ctx, http.MethodGet, "/api/metrics", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errx.Wrap(ErrRequest, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errx.Wrap(ErrRequest, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(telemetry.APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errx.Wrap(ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errx.With(ErrStatus, " %d on %s %s%s", resp.StatusCode, method, path, apiErrorSuffix(resp.Body))
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return errx.Wrap(ErrDecode, err)
	}
	return nil
}

// apiErrorSuffix surfaces the control plane's error envelope when the
// body carries one.
func apiErrorSuffix(r io.Reader) string {
	var env struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&env); err != nil || env.Error == "" {
		return ""
	}
	return ": " + env.Error + ": " + env.Message
}
