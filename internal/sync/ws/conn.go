package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 45 * time.Second
	sendBuffer   = 32
)

// ErrSendBufferFull is returned when a connection cannot keep up with its
// event stream. The event is dropped for that connection only; the client
// reconciles through the seq-based catch-up pull after reconnecting.
var ErrSendBufferFull = errors.New("ws: send buffer full")

// wsConn owns one websocket. All writes go through the send channel and the
// write pump; the read loop is the only reader.
type wsConn struct {
	wc   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(wc *websocket.Conn) *wsConn {
	return &wsConn{
		wc:     wc,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// Send enqueues a payload for the write pump. It never blocks: a full buffer
// or a closed connection drops the payload with an error.
func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("ws: connection closed")
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wc.Close()
	})
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with periodic pings. It exits on the first write error or on close.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()
	for {
		select {
		case <-c.closed:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.wc.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
