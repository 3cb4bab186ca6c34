package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"support-chat/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 64
)

// Client owns one websocket connection. All writes go through the send
// channel and a single write pump.
type Client struct {
	conn *websocket.Conn
	info ConnInfo
	send chan []byte
	log  *zap.Logger

	mu       sync.Mutex
	closed   bool
	overflow bool
}

func newClient(conn *websocket.Conn, info ConnInfo, log *zap.Logger) *Client {
	return &Client{conn: conn, info: info, send: make(chan []byte, sendBuffer), log: log}
}

// Send queues a frame. A client too slow to drain its buffer is closed; it
// will refetch everything when it reconnects.
func (c *Client) Send(frame models.WSFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("encode ws frame", zap.String("type", frame.Type), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.overflow = true
		c.closeLocked()
	}
}

// Close stops the write pump and closes the connection. Safe to call more
// than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Overflowed reports whether the client was dropped for falling behind.
func (c *Client) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflow
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes client commands until the connection fails and returns
// that failure.
func (c *Client) readPump(handle func(models.WSCommand)) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var cmd models.WSCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.Send(models.WSFrame{Type: FrameError, Error: "malformed command"})
			continue
		}
		handle(cmd)
	}
}
