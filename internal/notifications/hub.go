// Package notifications tracks live websocket clients per user.
package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"roadcrew/internal/middleware"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	ErrUserConnLimit   = errors.New("user connection limit reached")
	ErrServerConnLimit = errors.New("server connection limit reached")
	ErrHubClosed       = errors.New("hub is shutting down")
)

// Hub maps user refs to their open chat connections.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	closed     bool
	done       chan struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*Client]struct{}),
		done:  make(chan struct{}),
	}
}

// Name identifies the hub in metrics and logs.
func (h *Hub) Name() string { return "chat" }

// Register adds a connection for userID.
func (h *Hub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if h.totalConns >= maxTotalConns {
		return nil, ErrServerConnLimit
	}
	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, ErrUserConnLimit
	}

	client := NewClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	middleware.ActiveWebSockets.Inc()
	return client, nil
}

// UnregisterClient removes a client. Unknown clients are ignored.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.UserID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	h.totalConns--
	middleware.ActiveWebSockets.Dec()
	if len(m) == 0 {
		delete(h.conns, client.UserID)
	}
	client.Close()
}

// Broadcast queues message on every connection of userID.
func (h *Hub) Broadcast(userID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		c.TrySend(message)
	}
}

// Count returns the number of open connections for userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// IsOnline reports whether userID has at least one open connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.Count(userID) > 0
}

// Total returns the number of open connections.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConns
}

// Done is closed once Shutdown has finished.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Shutdown sends a going-away close frame to every connection and closes it.
// Later Register calls fail with ErrHubClosed.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := h.conns
	h.conns = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	h.mu.Unlock()

	for userID, userConns := range conns {
		for client := range userConns {
			middleware.ActiveWebSockets.Dec()
			client.Close()
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				middleware.Logger.Warn("failed to write close frame",
					slog.String("user_id", userID), slog.String("error", err.Error()))
			}
			if err := client.Conn.Close(); err != nil {
				middleware.Logger.Warn("failed to close websocket",
					slog.String("user_id", userID), slog.String("error", err.Error()))
			}
		}
	}

	close(h.done)
	return nil
}
