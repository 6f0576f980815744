package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/legatus-hq/legatus/pkg/models"
)

// defaultWriteTimeout bounds a single WebSocket send so one stalled client
// cannot hold up a broadcast.
const defaultWriteTimeout = 5 * time.Second

// Hub fans orchestrator events out to connected CLI clients. Every agent
// message the reactor consumes is forwarded verbatim, which is what
// `legion logs --follow` renders.
type Hub struct {
	connections  map[string]*clientConn
	mu           sync.RWMutex
	writeTimeout time.Duration
}

type clientConn struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub. A non-positive writeTimeout uses the default.
func NewHub(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Hub{
		connections:  make(map[string]*clientConn),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection owns one WebSocket client after the HTTP upgrade. It
// registers the connection, confirms it, then reads (and discards) client
// frames as keepalive until the peer goes away. Blocks until then.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &clientConn{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		// The CLI only sends pings today; answer those, ignore the rest.
		if typ == websocket.MessageText && string(data) == `{"type":"ping"}` {
			h.sendJSON(c, map[string]string{"type": "pong"})
		}
	}
}

// Broadcast sends a message to every connected client. Failed sends are
// logged and the client is left for its own read loop to reap.
func (h *Hub) Broadcast(msg *models.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot under the lock, send outside it: a slow client write (up
	// to writeTimeout) must not stall connects and disconnects.
	h.mu.RLock()
	conns := make([]*clientConn, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.sendRaw(c, data); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", c.id, "error", err)
		}
	}
}

// ActiveConnections returns the number of connected clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) register(c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.id] = c
	slog.Debug("WebSocket client connected", "connection_id", c.id)
}

func (h *Hub) unregister(c *clientConn) {
	h.mu.Lock()
	delete(h.connections, c.id)
	h.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	slog.Debug("WebSocket client disconnected", "connection_id", c.id)
}

func (h *Hub) sendJSON(c *clientConn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.id, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.id, "error", err)
	}
}

func (h *Hub) sendRaw(c *clientConn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
