package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 10 * time.Second

// WSConn adapts a gorilla websocket to Conn. Writes are serialized since
// the underlying connection supports one concurrent writer only.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWSConn wraps conn. readLimit caps the size of inbound frames; zero
// leaves gorilla's default.
func NewWSConn(conn *websocket.Conn, readLimit int64, writeTimeout time.Duration) *WSConn {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WSConn{conn: conn, writeTimeout: writeTimeout}
}

// Send writes data as a single text frame.
func (c *WSConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// ReadMessage blocks until the next inbound data frame arrives.
func (c *WSConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close sends a normal close frame and closes the socket. Safe to call
// more than once.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsClosedError reports whether err is an ordinary end of a connection
// rather than something worth logging.
func IsClosedError(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
