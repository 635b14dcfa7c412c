package notifications

import (
	"log/slog"
	"sync"
	"time"

	"roadcrew/internal/middleware"
	"roadcrew/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxMessageSize = 16384

	sendBuffer = 64
)

var dropNotice = []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)

// WSHub is implemented by hubs that own clients.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client sits between one websocket connection and its hub.
type Client struct {
	Hub  WSHub
	Conn *websocket.Conn

	// Send is the outbound queue drained by WritePump.
	Send chan []byte

	UserID string

	// IncomingHandler receives each inbound text frame.
	IncomingHandler func(*Client, []byte)

	mu            sync.Mutex
	closed        bool
	pendingNotice bool
}

// NewClient creates a client with an empty outbound queue.
func NewClient(hub WSHub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
	}
}

// ReadPump reads frames until the connection fails, then unregisters.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				middleware.Logger.Warn("websocket read failed",
					slog.String("hub", c.Hub.Name()),
					slog.String("user_id", c.UserID),
					slog.String("error", err.Error()))
			}
			return
		}
		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump drains Send to the connection and keeps it alive with pings.
// It returns when Send is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues message without blocking. When the queue is full the
// message is dropped and a messages_dropped notice is queued ahead of the
// next frame that fits, so the client knows to re-fetch.
func (c *Client) TrySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		return false
	}

	if c.pendingNotice {
		if cap(c.Send)-len(c.Send) < 2 {
			c.drop()
			return false
		}
		c.Send <- dropNotice
		c.pendingNotice = false
	}

	select {
	case c.Send <- message:
		return true
	default:
		c.pendingNotice = true
		c.drop()
		return false
	}
}

func (c *Client) drop() {
	observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
	middleware.Logger.Warn("websocket buffer full, dropped frame",
		slog.String("hub", c.Hub.Name()),
		slog.String("user_id", c.UserID))
}

// Close closes the outbound queue once, which makes WritePump send a close
// frame and exit.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}
