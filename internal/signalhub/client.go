package signalhub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 90 * time.Second
	maxMessageSize = 64 * 1024
	sendQueueSize  = 32
)

var errConnClosed = errors.New("connection closed")

// wsConn wraps one subscriber socket with a bounded outbound queue. A slow
// subscriber sheds frames instead of stalling the room.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
	default:
		droppedFramesTotal.Inc()
		return errors.New("backpressure")
	}
	return nil
}

// Close stops accepting frames. The actual socket close happens in
// writePump once the queue drains, so already-accepted frames still flush.
func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

func (c *wsConn) writePump() {
	defer func() { _ = c.conn.Close() }()
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "signalhub").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Str("module", "signalhub").Msg("writePump write error")
			return
		}
	}
}
