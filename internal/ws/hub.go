package ws

import (
	"context"
	"sync"

	"support-chat/internal/observability"
)

// Hub tracks the live websocket clients of each user.
type Hub struct {
	clients map[string]map[*Client]ConnInfo
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]ConnInfo)}
}

// AddClient registers a client under its user.
func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.info.UserID]; !ok {
		h.clients[c.info.UserID] = make(map[*Client]ConnInfo)
	}
	h.clients[c.info.UserID][c] = c.info
}

// RemoveClient unregisters a client.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[c.info.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, c.info.UserID)
		}
	}
}

// SessionCount returns how many clients a user has open.
func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// CloseAll closes every client, used on shutdown. Each client's read loop
// then runs its own teardown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*Client, 0)
	for _, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close()
	}
}

func (h *Hub) publishWSError(c *Client, err error) {
	h.mu.RLock()
	info, ok := h.clients[c.info.UserID][c]
	h.mu.RUnlock()
	if !ok {
		info = c.info
	}

	headers := observability.BuildHeaders(info.Client.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), observability.RoutingWSEvents,
		observability.NewWSEvent("ws_error", info.eventFields(err.Error())), headers)
	observability.IncWSEvent("ws_error")
}
