// Package notify pushes state changes to connected browsers. A Hub
// tracks websocket connections by client id and fans typed actions out
// to everyone except, usually, the client that caused the change.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"datadesk/internal/logging"
)

// Hub is the set of live websocket connections. Safe for concurrent
// use; a broadcast tolerates clients disconnecting mid-loop.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*client

	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

type client struct {
	id string
	// mu serializes writes; gorilla allows one concurrent writer.
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:        make(map[string]*client),
		writeTimeout: 5 * time.Second,
		upgrader: websocket.Upgrader{
			// The console serves browsers on localhost or behind a
			// trusted proxy; origin enforcement happens there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.Default(logger).With("component", "notify"),
	}
}

// Handle upgrades the request and parks it in the hub until the client
// goes away. Inbound messages are read and discarded; the socket is a
// push channel only.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request, clientID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "clientId", clientID, "error", err)
		return
	}
	c := &client{id: clientID, conn: conn}

	h.mu.Lock()
	if old, ok := h.conns[clientID]; ok {
		old.conn.Close()
	}
	h.conns[clientID] = c
	h.mu.Unlock()
	h.logger.Info("client connected", "clientId", clientID)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(c)
	h.logger.Info("client disconnected", "clientId", clientID)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends the action to every connected client except
// excludeClientID (empty excludes nobody). Each write is bounded by the
// hub's write timeout; a failed write drops that client and the loop
// carries on.
func (h *Hub) Broadcast(action any, excludeClientID string) {
	data, err := json.Marshal(envelope{Type: "action", Payload: action})
	if err != nil {
		h.logger.Error("encode action", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.conns))
	for id, c := range h.conns {
		if id != excludeClientID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.mu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.logger.Warn("dropping client", "clientId", c.id, "error", err)
			h.drop(c)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		c.conn.Close()
		delete(h.conns, id)
	}
}

func (h *Hub) drop(c *client) {
	c.conn.Close()
	h.mu.Lock()
	// Only remove if this connection still owns the id; a reconnect
	// may have replaced it.
	if cur, ok := h.conns[c.id]; ok && cur == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
