package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rfletcher/taskdeck/internal/model"
)

// Delta is the structured update pushed to connected clients.
type Delta struct {
	Type      string      `json:"type"`
	TaskID    int64       `json:"task_id"`
	Data      *model.Task `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of open client connections keyed by owner id and
// delivers deltas to one owner's connections. It holds no durable state; a
// restart drops every registration and clients re-register on reconnect.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client under its owner id.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.ownerID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[c.ownerID] = conns
	}
	conns[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel. Removing a client
// that is already gone is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if conns, ok := h.clients[c.ownerID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			close(c.send)
		}
		if len(conns) == 0 {
			delete(h.clients, c.ownerID)
		}
	}
	h.mu.Unlock()
}

// Send delivers a delta to every open connection of one owner. A connection
// with a full buffer has the message dropped; other connections of the same
// owner are unaffected.
func (h *Hub) Send(ownerID int64, delta Delta) {
	data, err := json.Marshal(delta)
	if err != nil {
		h.logger.Error("marshal delta", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[ownerID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop rather than block the fan-out
		}
	}
}

// ConnectionCount returns the number of open connections for an owner.
func (h *Hub) ConnectionCount(ownerID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}
