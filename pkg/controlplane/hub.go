package controlplane

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voslund/decoynet/pkg/telemetry"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 54 * time.Second
	wsMaxMessageSize = 1024
	wsSendBuffer     = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Clients authenticate with the API key header; the feed is not a
	// browser-facing same-origin surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsClient struct {
	hub  *eventHub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// eventHub fans newly ingested events out to live feed subscribers. Slow
// clients are skipped rather than allowed to stall the broadcast.
type eventHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

func (h *eventHub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	metricWSClients.Set(float64(len(h.clients)))
}

func (h *eventHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	metricWSClients.Set(float64(len(h.clients)))
}

// Broadcast sends the event to every connected client without blocking.
func (h *eventHub) Broadcast(e telemetry.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Client too slow, skip
		}
	}
}

func (h *eventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *eventHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws_upgrade_failed", "error", err)
		return
	}

	c := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

// readPump exists to detect disconnects; clients send nothing meaningful.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
