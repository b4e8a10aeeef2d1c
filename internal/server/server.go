// Package server implements the Acceptor/Server: the listening socket,
// TLS context, and the accept loop that wires a freshly accepted socket
// into a Connection + Session pair registered with a RoomService.
package server

import (
	"crypto/tls"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"chat/internal/conn"
	"chat/internal/executor"
	"chat/internal/protocol"
	"chat/internal/room"
	"chat/internal/session"
)

// Server owns the listening socket, the shared RoomService, and the
// executor dispatch table every Session is bound to.
type Server struct {
	tlsConfig  *tls.Config
	rooms      *room.Service
	dispatch   *executor.Table
	synTimeout time.Duration

	listener net.Listener
	nextID   atomic.Uint64

	wg sync.WaitGroup
}

// New constructs a Server. tlsConfig must carry at least one server
// certificate (see internal/certs). The SYN-wait deadline defaults to
// conn.DefaultSynTimeout; override it with SetSynTimeout.
func New(tlsConfig *tls.Config) *Server {
	return &Server{
		tlsConfig:  tlsConfig,
		rooms:      room.NewService(),
		dispatch:   executor.New(),
		synTimeout: conn.DefaultSynTimeout,
	}
}

// Rooms exposes the RoomService backing this Server, mainly for tests
// and for a cmd/server that wants to pre-seed chatrooms at startup.
func (s *Server) Rooms() *room.Service { return s.rooms }

// SetSynTimeout overrides the SYN-wait deadline newly accepted
// connections are handshaken with. Must be called before ListenAndServe.
func (s *Server) SetSynTimeout(d time.Duration) { s.synTimeout = d }

// ListenAndServe binds addr, wraps it in TLS, and accepts connections
// until Shutdown closes the listener.
func (s *Server) ListenAndServe(addr string) error {
	raw, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln := tls.NewListener(raw, s.tlsConfig)
	s.listener = ln
	log.Printf("[acceptor] listening on %s", addr)

	for {
		sock, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[acceptor] accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.serve(sock)
	}
}

// Shutdown closes the listener and tears down every room (and with it
// every live Session's Connection), then waits for accept-loop
// goroutines to unwind.
func (s *Server) Shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.rooms.Close()
	s.wg.Wait()
}

func (s *Server) serve(sock net.Conn) {
	defer s.wg.Done()

	id := s.nextID.Add(1)
	c := conn.New(id, sock)
	if err := c.Handshake(s.synTimeout); err != nil {
		log.Printf("[acceptor] handshake failed for connection %d: %v", id, err)
		c.Close()
		return
	}

	sess := session.New(id, s.rooms, c, s.dispatch)
	c.SetReceiver(&receiver{session: sess})
	// Frames other than SYN extend the read deadline, so close a session
	// that is still in WaitSyn once the SYN deadline has passed.
	time.AfterFunc(s.synTimeout, func() {
		if sess.State() == session.WaitSyn {
			c.Close()
		}
	})
	c.Serve()
}

// receiver bridges conn.Connection's raw-frame callbacks to a Session:
// it decodes each frame into a protocol.Request and enqueues it, or
// logs and continues on a malformed frame without closing the link.
type receiver struct {
	session *session.Session
}

func (r *receiver) Deliver(frame []byte) {
	req, err := protocol.UnmarshalRequest(frame)
	if err != nil {
		log.Printf("[session %d] %v", r.session.ID(), err)
		return
	}
	r.session.Enqueue(req)
}

func (r *receiver) OnClose() {
	r.session.Close()
}
