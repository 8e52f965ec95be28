// Package websocket pushes notification history and session state to open
// browser tabs.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/cohabit/internal/metrics"
)

// Message types sent to clients.
const (
	TypeNotifications = "notifications"
	TypeSession       = "session"
)

// Message is one update frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func NewMessage(typ string, data any) Message {
	return Message{Type: typ, Data: data}
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Snapshot, when set, supplies the frames a client receives on connect.
	Snapshot func() []Message
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// Register adds a client to the hub and queues the connect snapshot.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWebsocketClients(n)

	if h.Snapshot == nil {
		return
	}
	for _, msg := range h.Snapshot() {
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("marshal snapshot", "type", msg.Type, "error", err)
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWebsocketClients(n)
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop.
			h.logger.Debug("dropped frame for slow client", "type", msg.Type)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
