// Package session implements the per-client state machine: WaitSyn →
// Acknowledged → Closed, the acquire_requests drain loop, and the
// Session-facing API executors use to validate and mutate room
// membership.
//
// Session holds no pointer to *Connection or *room.Chatroom — only a
// Transport interface and a room.Service — avoiding raw back-pointer
// cycles between Session, Connection, and RoomService. The numeric
// SessionID is the handle everything else (Chatroom membership,
// executors) uses to refer back to a Session.
package session

import (
	"sync"
	"sync/atomic"

	"chat/internal/protocol"
	"chat/internal/reqqueue"
	"chat/internal/room"
)

// State is the Session's lifecycle stage.
type State int32

const (
	WaitSyn State = iota
	Acknowledged
	Closed
)

func (s State) String() string {
	switch s {
	case WaitSyn:
		return "wait-syn"
	case Acknowledged:
		return "acknowledged"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the subset of Connection a Session needs: queue a frame
// for delivery, and tear the connection down. Session never reaches
// through Transport for anything else.
type Transport interface {
	Write(frame []byte)
	Close()
}

// Dispatcher invokes the executor registered for req.Query against s.
// internal/executor implements this; session never imports executor, so
// the dependency only runs one way.
type Dispatcher interface {
	Dispatch(s *Session, req protocol.Request)
}

// User is a snapshot of the identity bound to a Session.
type User struct {
	ID       uint64
	Chatroom uint64
	Username string
}

// Session is the per-client state machine sitting above Connection.
type Session struct {
	id uint64

	state atomic.Int32

	mu       sync.Mutex
	username string
	chatroom uint64 // room.NoRoom while in the hall

	service    *room.Service
	transport  Transport
	queue      *reqqueue.Queue
	dispatcher Dispatcher

	dispatching atomic.Bool
	closeOnce   sync.Once
}

// New constructs a Session bound to service and transport, in state
// WaitSyn, a member of the hall.
func New(id uint64, service *room.Service, transport Transport, dispatcher Dispatcher) *Session {
	s := &Session{
		id:         id,
		chatroom:   room.NoRoom,
		service:    service,
		transport:  transport,
		queue:      &reqqueue.Queue{},
		dispatcher: dispatcher,
	}
	s.state.Store(int32(WaitSyn))
	service.AddSession(s)
	return s
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) IsAcknowledged() bool { return s.State() == Acknowledged }

func (s *Session) IsClosed() bool { return s.State() == Closed }

// User returns a snapshot of the identity bound to this Session.
func (s *Session) User() User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return User{ID: s.id, Chatroom: s.chatroom, Username: s.username}
}

// Acknowledge transitions WaitSyn → Acknowledged. It is the authoritative
// readiness signal once the TLS handshake (and, if retained, the SYN/ACK
// exchange) succeeds. Returns false if the Session was not in WaitSyn.
func (s *Session) Acknowledge() bool {
	return s.state.CompareAndSwap(int32(WaitSyn), int32(Acknowledged))
}

// UpdateUsername sets the display name chosen at join/create time.
func (s *Session) UpdateUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
}

// AssignChatroom moves the session from the hall into chatroomID.
func (s *Session) AssignChatroom(chatroomID uint64) bool {
	if !s.service.AssignChatroom(chatroomID, s) {
		return false
	}
	s.mu.Lock()
	s.chatroom = chatroomID
	s.mu.Unlock()
	return true
}

// LeaveChatroom moves the session back to the hall from its current room.
func (s *Session) LeaveChatroom() bool {
	s.mu.Lock()
	current := s.chatroom
	s.mu.Unlock()

	if !s.service.LeaveChatroom(current, s) {
		return false
	}
	s.mu.Lock()
	s.chatroom = room.NoRoom
	s.mu.Unlock()
	return true
}

// CreateChatroom creates a new room named name and immediately joins it.
// Returns the new room's id, or room.NoRoom if the immediate join failed
// (which should not happen for a room that was just created, absent a
// concurrent flood of other joiners racing to fill it).
func (s *Session) CreateChatroom(name string) uint64 {
	id := s.service.CreateChatroom(name)
	if !s.AssignChatroom(id) {
		return room.NoRoom
	}
	return id
}

// ListChatrooms returns a snapshot of every user-created room.
func (s *Session) ListChatrooms() []protocol.ChatroomSummary {
	return s.service.ChatroomList()
}

// BroadcastOnly dispatches frame to the session's current room, filtered
// by predicate.
func (s *Session) BroadcastOnly(frame []byte, predicate func(room.Member) bool) {
	s.mu.Lock()
	current := s.chatroom
	s.mu.Unlock()
	s.service.BroadcastOnly(current, frame, predicate)
}

// Write forwards a serialized Response to the underlying Connection.
func (s *Session) Write(frame []byte) {
	s.transport.Write(frame)
}

// Enqueue pushes req onto the shared RequestQueue and ensures a drain
// loop is running. Connection's read loop calls this for every parsed
// frame.
func (s *Session) Enqueue(req protocol.Request) {
	s.queue.Push(req)
	s.scheduleDrain()
}

func (s *Session) scheduleDrain() {
	if s.dispatching.CompareAndSwap(false, true) {
		go s.acquireRequests()
	}
}

// acquireRequests drains the shared queue: swap it out in one step,
// dispatch every request in FIFO order, and reschedule itself if more
// requests arrived while draining — without ever running two
// dispatchers concurrently for this Session.
func (s *Session) acquireRequests() {
	for {
		items := s.queue.ExtractFront()
		for _, req := range items {
			if s.dispatcher != nil {
				s.dispatcher.Dispatch(s, req)
			}
		}
		if !s.queue.IsEmpty() {
			continue // more requests arrived while we were dispatching
		}

		// The queue looked empty; mark ourselves idle. If a concurrent
		// Enqueue lost the race and pushed just before this Store, the
		// queue will be non-empty again and we reclaim the dispatcher
		// role ourselves rather than leaving it to a freshly spawned
		// goroutine that might not have been scheduled yet.
		s.dispatching.Store(false)
		if s.queue.IsEmpty() {
			return
		}
		if !s.dispatching.CompareAndSwap(false, true) {
			return // someone else already resumed draining
		}
	}
}

// Close transitions the Session to Closed, removes it from its current
// room (or the hall), and closes the underlying Connection. Idempotent.
func (s *Session) Close() {
	// transport.Close calls back into Close (via the Connection's
	// receiver); return before re-entering closeOnce's running Do.
	if s.IsClosed() {
		return
	}
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closed))
		s.mu.Lock()
		current := s.chatroom
		s.mu.Unlock()
		s.service.RemoveSession(s, current)
		s.transport.Close()
	})
}

// room.Member implementation — lets RoomService/Chatroom hold this
// Session purely through the interface, never a concrete back-pointer.

func (s *Session) SessionID() uint64  { return s.id }
func (s *Session) Deliver(f []byte)   { s.Write(f) }
func (s *Session) Closed() bool       { return s.IsClosed() }
