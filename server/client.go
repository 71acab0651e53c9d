package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsClient is a stream.Client that delivers each frame as one binary
// WebSocket message. It is registered before the upgrade; until attach
// hands it a connection its turns are skipped. Only the dispatcher writes
// data messages; pings and the close frame go through WriteControl, which
// is safe alongside them.
type wsClient struct {
	id     string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	gone atomic.Bool
	once sync.Once
	done chan struct{}
}

func newWSClient(id string, logger *slog.Logger) *wsClient {
	return &wsClient{
		id:     id,
		logger: logger.With("client", id),
		done:   make(chan struct{}),
	}
}

func (c *wsClient) ID() string      { return c.id }
func (c *wsClient) Connected() bool { return !c.gone.Load() }

// attach hands the upgraded connection over. It reports false, closing
// conn, when the client was retired in the meantime.
func (c *wsClient) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone.Load() {
		conn.Close()
		return false
	}
	c.conn = conn
	return true
}

// WriteFrame sends one JPEG as a binary message.
func (c *wsClient) WriteFrame(jpeg []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotReady
	}

	conn.SetWriteDeadline(time.Now().Add(WriteDeadline))
	if err := conn.WriteMessage(websocket.BinaryMessage, jpeg); err != nil {
		c.gone.Store(true)
		return err
	}
	return nil
}

// Close sends a close frame and closes the connection. Safe to call more
// than once.
func (c *wsClient) Close() error {
	var err error
	c.once.Do(func() {
		c.gone.Store(true)
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = conn.Close()
	})
	return err
}

// readPump handles incoming WebSocket messages from the client. It only
// exists to notice the peer going away; anything the client sends is
// discarded.
func (c *wsClient) readPump() {
	defer c.gone.Store(true)

	c.conn.SetReadLimit(WebSocketReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketReadDeadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

// pingPump keeps the connection alive until the client is closed.
func (c *wsClient) pingPump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteDeadline)); err != nil {
				c.gone.Store(true)
				return
			}
		}
	}
}
