package gateway

import (
	"errors"
	"sync"

	"github.com/dmitrijs2005/pairchat/internal/server/protocol"
	"github.com/gorilla/websocket"
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("send buffer full")
)

// wsConn is one client connection. Frames are queued on send and written by
// the connection's write pump; only that goroutine writes data frames.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(id string, ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send encodes out and queues it without blocking. A full queue means the
// client is not reading; the connection is closed.
func (c *wsConn) Send(out protocol.Outbound) error {
	data, err := protocol.Encode(out)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.close()
		return errSlowConsumer
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
