package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	clientBuffer = 256
)

// Envelope is the wire shape of every event sent to dashboard clients.
type Envelope struct {
	Type      domain.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      domain.Event     `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to websocket clients. It keeps its own ring of
// encoded envelopes so a new client gets the recent history, then the
// live stream, without gaps or duplicates.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	history [][]byte
	size    int
}

// NewHub creates a hub that replays up to historySize events to new clients.
func NewHub(historySize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if historySize <= 0 {
		historySize = 200
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
		logger:  logger,
		now:     time.Now,
		clients: make(map[*client]struct{}),
		size:    historySize,
	}
}

// Handle encodes the event and broadcasts it. Slow clients are dropped.
func (h *Hub) Handle(_ context.Context, ev domain.Event) error {
	msg, err := json.Marshal(Envelope{Type: ev.Type(), Timestamp: h.now().UTC(), Data: ev})
	if err != nil {
		return fmt.Errorf("dashboard.Hub: encode %s: %w", ev.Type(), err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, msg)
	if len(h.history) > h.size {
		h.history = h.history[len(h.history)-h.size:]
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams history then live events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer+h.size)}
	h.mu.Lock()
	for _, msg := range h.history {
		c.send <- msg
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("dashboard client connected", "remote", r.RemoteAddr)
	go h.writePump(c)
	h.readPump(c)
}

// ServeHTTP makes the hub mountable as a handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.ServeWS(w, r) }

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
