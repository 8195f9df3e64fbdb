package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/journalsync/internal/logging"
)

// ErrConnClosed is returned for calls issued on a torn-down connection.
var ErrConnClosed = errors.New("rpc connection closed")

// PushHandler receives frames that are not responses to a pending call
// (device lists, fanned-out changes).
type PushHandler func(Frame)

// Conn is one WebSocket RPC connection. Outgoing calls are correlated to
// responses by frame id; a single reader goroutine dispatches incoming
// frames to waiting callers or the push handler.
type Conn struct {
	ws     *websocket.Conn
	onPush PushHandler
	log    logging.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan Frame
	nextID  uint64
	closed  bool
	done    chan struct{}
}

// Dial opens a connection and starts the reader.
func Dial(ctx context.Context, url string, header http.Header, onPush PushHandler, log logging.Logger) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	c := &Conn{
		ws:      ws,
		onPush:  onPush,
		log:     log.With("module", "rpc_conn"),
		pending: make(map[uint64]chan Frame),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	for {
		var frame Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			c.teardown()
			return
		}
		if frame.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			if ok {
				delete(c.pending, frame.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- frame
				continue
			}
		}
		if c.onPush != nil {
			c.onPush(frame)
		}
	}
}

func (c *Conn) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]chan Frame)
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.Close()
	for _, ch := range pending {
		close(ch)
	}
}

// Close tears the connection down; in-flight calls fail with ErrConnClosed.
func (c *Conn) Close() {
	c.teardown()
}

// Alive reports whether the connection can still carry calls.
func (c *Conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Call sends a request frame and waits for its response. An error frame is
// returned as *RPCError; any other response body is unmarshalled into out
// when out is non-nil.
func (c *Conn) Call(ctx context.Context, frameType string, body, out any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan Frame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	frame, err := NewFrame(frameType, id, body)
	if err != nil {
		c.dropPending(id)
		return err
	}

	c.writeMu.Lock()
	err = c.ws.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrConnClosed
		}
		if resp.Type == TypeError {
			var eb ErrorBody
			if err := json.Unmarshal(resp.Body, &eb); err != nil {
				return &RPCError{Code: CodeInternal, Message: string(resp.Body)}
			}
			return &RPCError{Code: eb.Code, Message: eb.Message}
		}
		if out != nil && len(resp.Body) > 0 {
			return json.Unmarshal(resp.Body, out)
		}
		return nil
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	case <-c.done:
		return ErrConnClosed
	}
}

func (c *Conn) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Lease shares one connection within a process, reference counted with an
// idle timeout. Acquire reconnects transparently when the previous
// connection has expired or broken; Release arms the idle timer once the
// last holder lets go.
type Lease struct {
	url    string
	header func() http.Header
	idle   time.Duration
	onPush PushHandler
	log    logging.Logger

	mu    sync.Mutex
	conn  *Conn
	refs  int
	timer *time.Timer
}

// NewLease configures a lease; header is evaluated at each dial so tokens
// stay fresh.
func NewLease(url string, header func() http.Header, idle time.Duration, onPush PushHandler, log logging.Logger) *Lease {
	return &Lease{
		url:    url,
		header: header,
		idle:   idle,
		onPush: onPush,
		log:    log.With("module", "rpc_lease"),
	}
}

// Acquire returns a live connection, dialing if needed. The caller must
// call Release exactly once when done.
func (l *Lease) Acquire(ctx context.Context) (*Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.conn == nil || !l.conn.Alive() {
		conn, err := Dial(ctx, l.url, l.header(), l.onPush, l.log)
		if err != nil {
			return nil, err
		}
		l.conn = conn
	}
	l.refs++
	return l.conn, nil
}

// Release drops one reference; the connection closes only after the idle
// timeout elapses with no holders.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs > 0 {
		l.refs--
	}
	if l.refs > 0 || l.conn == nil {
		return
	}
	conn := l.conn
	l.timer = time.AfterFunc(l.idle, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.refs == 0 && l.conn == conn {
			conn.Close()
			l.conn = nil
		}
	})
}

// Close shuts the lease down immediately regardless of holders.
func (l *Lease) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.refs = 0
}
