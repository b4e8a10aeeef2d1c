// Package client implements the reference Client façade: it mirrors
// Connection on the peer side, drives the SYN/ACK handshake, and
// exposes the last-observed Response for a driving CLI or TUI to read.
package client

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"chat/internal/protocol"
)

// State mirrors the peer-side handshake lifecycle.
type State int32

const (
	Closed State = iota
	Connected
	WaitAck
	ReceiveAck
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connected:
		return "connected"
	case WaitAck:
		return "wait-ack"
	case ReceiveAck:
		return "receive-ack"
	default:
		return "unknown"
	}
}

// ErrSynTimeout is returned by Dial when the server never acknowledges
// the initial SYN within synTimeout.
var ErrSynTimeout = errors.New("client: timed out waiting for ack")

const synTimeout = 5 * time.Second

// Client is the reference client's connection façade.
type Client struct {
	conn net.Conn

	state atomic.Int32

	mu           sync.Mutex
	lastResponse protocol.Response

	chatCh chan protocol.Response // unsolicited CHAT_MESSAGE deliveries

	ackCh     chan struct{}
	closeOnce sync.Once
}

// Dial connects to addr over TLS, performs the SYN/ACK handshake, and
// returns a Client in state ReceiveAck. tlsConfig should usually come
// from certs.ClientTrustingAnyServer in development, or a properly
// configured root pool in production.
func Dial(addr string, tlsConfig *tls.Config) (*Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	c := &Client{
		conn:   conn,
		ackCh:  make(chan struct{}, 1),
		chatCh: make(chan protocol.Response, 32),
	}
	c.state.Store(int32(Connected))

	go c.readLoop()

	if err := c.syn(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) syn() error {
	c.state.Store(int32(WaitAck))

	att, err := json.Marshal(protocol.SynAttachment{Key: uuid.NewString()})
	if err != nil {
		return fmt.Errorf("client: encode syn: %w", err)
	}
	req := protocol.Request{
		Query:     protocol.Syn,
		Timestamp: time.Now().UnixMilli(),
		Attachment: att,
	}
	if err := c.send(req); err != nil {
		return err
	}

	select {
	case <-c.ackCh:
		c.state.Store(int32(ReceiveAck))
		return nil
	case <-time.After(synTimeout):
		return ErrSynTimeout
	}
}

// State reports the client's current handshake state.
func (c *Client) State() State { return State(c.state.Load()) }

// LastResponse returns the most recently observed Response other than
// the handshake ACK. A CHAT_MESSAGE broadcast from another room member
// also becomes the last response, in addition to being delivered
// through Chats.
func (c *Client) LastResponse() protocol.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResponse
}

// Chats returns the channel of unsolicited CHAT_MESSAGE responses
// broadcast by other room members. It is closed when the read loop
// ends, i.e. after the connection is closed.
func (c *Client) Chats() <-chan protocol.Response { return c.chatCh }

// Send marshals req and writes it to the connection.
func (c *Client) Send(req protocol.Request) error {
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}
	return c.send(req)
}

func (c *Client) send(req protocol.Request) error {
	frame, err := protocol.Marshal(req)
	if err != nil {
		return fmt.Errorf("client: encode request: %w", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()
	defer close(c.chatCh) // readLoop is the only sender on chatCh

	reader := bufio.NewReader(c.conn)
	for {
		frame, err := protocol.ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[client] read: %v", err)
			}
			return
		}
		resp, err := protocol.UnmarshalResponse(frame)
		if err != nil {
			log.Printf("[client] %v", err)
			continue
		}
		c.handleMessage(resp)
	}
}

// handleMessage is the peer-side counterpart of the server's executor
// dispatch: it resolves the pending SYN/ACK wait synchronously and
// otherwise updates the observable last response, additionally routing
// unsolicited CHAT_MESSAGE broadcasts to Chats.
func (c *Client) handleMessage(resp protocol.Response) {
	if resp.Query == protocol.Ack && c.State() == WaitAck {
		select {
		case c.ackCh <- struct{}{}:
		default:
		}
		return
	}

	c.mu.Lock()
	c.lastResponse = resp
	c.mu.Unlock()

	if resp.Query == protocol.ChatMessage && len(resp.Attachment) > 0 {
		select {
		case c.chatCh <- resp:
		default:
			log.Printf("[client] chat delivery dropped: receiver not keeping up")
		}
	}
}

// Close tears down the underlying connection. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(Closed))
		c.conn.Close()
	})
}
