// Package conn owns the raw TLS stream for one client: a read loop that
// splits incoming bytes on the protocol delimiter and hands parsed
// requests to a Session, and a write loop — the "serializer" — that is
// the only goroutine ever allowed to touch the socket for writing.
package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"chat/internal/outbuf"
	"chat/internal/protocol"
)

// State mirrors the lifecycle of the underlying socket.
type State int32

const (
	// Default is any state other than Writing or Closed.
	Default State = iota
	// Writing is set while a write is in flight against the socket.
	Writing
	// Closed means the peer connection is gone, for any reason.
	Closed
)

// DefaultSynTimeout is the SYN-wait deadline used when a caller has no
// more specific value to pass to Handshake: a freshly accepted
// connection that never progresses past WaitSyn within this long is
// closed and leaves no trace in the RoomService.
const DefaultSynTimeout = 128 * time.Millisecond

const readIdleTimeout = 5 * time.Minute
const writeTimeout = 10 * time.Second

// Receiver is the callback a Connection's read loop invokes for every
// successfully parsed frame. internal/server implements it by wrapping
// protocol.UnmarshalRequest + Session.Enqueue.
type Receiver interface {
	// Deliver handles one de-framed, still-undecoded message body.
	Deliver(frame []byte)
	// OnClose is invoked exactly once, when the read loop exits for any
	// reason (peer hangup, read error, or explicit Close).
	OnClose()
}

// Connection owns a single accepted *tls.Conn. It implements
// session.Transport so a Session can hold it purely as an interface.
type Connection struct {
	id     uint64
	socket net.Conn

	mu       sync.Mutex
	outbox   outbuf.Double
	state    State
	flushing bool // a write loop goroutine is already draining outbox

	receiver Receiver

	closeOnce sync.Once
	closed    atomic.Bool
}

// New wraps an accepted socket. Callers typically obtain
// socket from a tls.Listener's Accept, which performs the handshake
// lazily on first Read/Write; Handshake forces it eagerly so the SYN
// deadline below is measured from a fully established TLS stream.
func New(id uint64, socket net.Conn) *Connection {
	return &Connection{id: id, socket: socket}
}

func (c *Connection) ID() uint64 { return c.id }

// Handshake forces the TLS handshake to complete (if socket is a
// *tls.Conn) and arms synTimeout as the read deadline for the first
// frame, mirroring the read(timeout_ms, on_timeout) signature: if no
// frame arrives before the deadline, Serve's read loop fails and closes
// the connection. Each frame that does arrive extends the deadline, so
// closing a session that sends frames but never SYN is left to the
// caller (internal/server arms its own timer for that).
func (c *Connection) Handshake(synTimeout time.Duration) error {
	if tlsConn, ok := c.socket.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			return err
		}
	}
	return c.socket.SetReadDeadline(time.Now().Add(synTimeout))
}

// SetReceiver attaches the frame receiver. Must be called before Serve.
func (c *Connection) SetReceiver(r Receiver) {
	c.receiver = r
}

// Serve runs the read loop on the calling goroutine until the peer
// disconnects, a read error occurs, or Close is called from elsewhere.
// It never returns early while the socket is healthy.
func (c *Connection) Serve() {
	defer c.Close()

	reader := bufio.NewReader(c.socket)
	for {
		frame, err := protocol.ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[conn %d] read: %v", c.id, err)
			}
			return
		}
		c.socket.SetReadDeadline(time.Now().Add(readIdleTimeout))
		if c.receiver != nil {
			c.receiver.Deliver(frame)
		}
	}
}

// Write queues frame for asynchronous delivery and, if no write is
// currently in flight, starts the single writer goroutine that drains
// the outbound double-buffer until it runs dry. Write never blocks on
// network I/O.
func (c *Connection) Write(frame []byte) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.outbox.Enqueue(frame)
	shouldFlush := !c.flushing
	if shouldFlush {
		c.flushing = true
		c.state = Writing
	}
	c.mu.Unlock()

	if shouldFlush {
		go c.flushLoop()
	}
}

// flushLoop is the serializer: the only goroutine that ever calls
// SwapBuffers or writes to the socket, so concurrent Write calls from
// arbitrary goroutines (executors, room broadcasts) never race on the
// wire.
func (c *Connection) flushLoop() {
	for {
		c.mu.Lock()
		c.outbox.SwapBuffers()
		view := c.outbox.ActiveView()
		empty := c.outbox.IsActiveEmpty()
		c.mu.Unlock()

		if empty {
			c.mu.Lock()
			c.flushing = false
			if c.state != Closed {
				c.state = Default
			}
			// Re-check: a writer that lost the race may have enqueued
			// after we sampled empty above but before flushing cleared.
			stillEmpty := c.outbox.IsActiveEmpty() && c.outbox.QueueSize() == 0
			if stillEmpty {
				c.mu.Unlock()
				return
			}
			c.flushing = true
			c.state = Writing
			c.mu.Unlock()
			continue
		}

		c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := view.WriteTo(c.socket); err != nil {
			log.Printf("[conn %d] write: %v", c.id, err)
			c.Close()
			return
		}
	}
}

// Closed reports whether the connection has already been torn down.
func (c *Connection) Closed() bool { return c.closed.Load() }

// Close tears down the socket. Idempotent; safe to call from the read
// loop, the write loop, or an external caller (Session.Close) at any
// time and in any order.
func (c *Connection) Close() {
	// OnClose may call back into Close (via Session.Close); return before
	// re-entering closeOnce, which would block on its own running Do.
	if c.closed.Load() {
		return
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.mu.Lock()
		c.state = Closed
		c.mu.Unlock()
		c.socket.Close()
		if c.receiver != nil {
			c.receiver.OnClose()
		}
	})
}
