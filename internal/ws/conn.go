package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const writeDeadline = 5 * time.Second

// Conn is the transport-level view the hub has of a client connection.
// The hub exclusively owns the Conn it is handed; nobody else may write
// to or close it.
type Conn interface {
	// Send writes one serialized frame. An error means the connection
	// is dead and the caller must evict it.
	Send(data []byte) error
	// Ping sends a transport-level heartbeat probe (distinct from the
	// application-level ping message type).
	Ping() error
	// Close performs a graceful close with a close frame.
	Close(code int, reason string) error
	// Terminate tears the connection down without a close handshake.
	Terminate() error
	// Ready reports whether the transport is in an open state.
	Ready() bool
}

// wsConn adapts a gorilla connection to Conn. Writes are serialized by
// a mutex; the hub goroutine and the reaper both write through here.
type wsConn struct {
	conn  *websocket.Conn
	clock clockwork.Clock

	mu     sync.Mutex
	closed bool
}

func newWSConn(conn *websocket.Conn, clock clockwork.Clock) *wsConn {
	return &wsConn{conn: conn, clock: clock}
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.closed = true
		return err
	}
	return nil
}

func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.closed = true
		return err
	}
	return nil
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
	_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
	return c.conn.Close()
}

func (c *wsConn) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.conn.Close()
}

func (c *wsConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// markDead flags the transport as no longer open without closing it,
// used when the read side observes a disconnect first.
func (c *wsConn) markDead() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
