package sink

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// Conn wraps one websocket connection shared by sequential requests. Each
// request gets its own Sink from Request. The owner must run the read loop
// and call MarkClosed when it ends.
type Conn struct {
	ID   string
	conn *websocket.Conn

	wmu    sync.Mutex
	closed atomic.Bool
}

// NewConn wraps c with a fresh connection id.
func NewConn(c *websocket.Conn) *Conn {
	return &Conn{ID: uuid.New().String(), conn: c}
}

// MarkClosed makes every request sink on this connection not-writable.
func (c *Conn) MarkClosed() { c.closed.Store(true) }

// Closed reports whether the connection is gone.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Close closes the underlying connection.
func (c *Conn) Close() error {
	c.MarkClosed()
	return c.conn.Close()
}

func (c *Conn) writeText(b []byte) bool {
	if c.closed.Load() {
		return false
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.closed.Store(true)
		return false
	}
	return true
}

// Request returns a sink for one request on the connection. Payloads are sent
// as text messages without SSE framing; the sentinel is sent as "[DONE]".
func (c *Conn) Request() *WSRequest {
	return &WSRequest{c: c, done: make(chan struct{})}
}

// WSRequest is the per-request view of a Conn.
type WSRequest struct {
	c    *Conn
	once sync.Once
	done chan struct{}
}

func (r *WSRequest) Write(ev Event) bool {
	if ev.Done {
		return r.c.writeText([]byte("[DONE]"))
	}
	return r.c.writeText(ev.Payload)
}

func (r *WSRequest) IsWritable() bool { return !r.c.closed.Load() }

func (r *WSRequest) Complete() { r.once.Do(func() { close(r.done) }) }

// Done is closed when the request completes.
func (r *WSRequest) Done() <-chan struct{} { return r.done }
