package room

import (
	"log"
	"sync"
	"sync/atomic"

	"chat/internal/protocol"
)

// hallID is the hall's own room id. It is reserved separately from
// NoRoom (0, which marks "this session belongs to the hall" on the
// User side) and from the monotonic counter handed out to user-created
// rooms, which starts at 1 — so hallID can never collide with either.
const hallID uint64 = ^uint64(0)

// Service is the hall plus the id→*Chatroom map of user-created rooms,
// with its own mutex guarding only the map, never a room's membership.
type Service struct {
	hall *Chatroom

	mu     sync.Mutex
	rooms  map[uint64]*Chatroom
	nextID atomic.Uint64 // next user-room id; starts handing out 1
}

// NewService constructs an empty RoomService with an unbounded hall.
func NewService() *Service {
	return &Service{
		hall:  NewChatroom(hallID, "Hall", 0),
		rooms: make(map[uint64]*Chatroom),
	}
}

// HallID returns the hall's own room id (distinct from NoRoom).
func (s *Service) HallID() uint64 { return s.hall.ID() }

// HallCount returns the number of sessions currently sitting in the
// hall, mainly so a test can confirm a closed connection's Session was
// actually removed rather than leaked.
func (s *Service) HallCount() int { return s.hall.UserCount() }

// AddSession inserts m into the hall. The hall has effectively unbounded
// capacity, so this always succeeds.
func (s *Service) AddSession(m Member) bool {
	return s.hall.Add(m)
}

// RemoveSession removes m from the hall if present, otherwise from the
// room named by chatroomID (the room the caller's Session last recorded
// itself as a member of).
func (s *Service) RemoveSession(m Member, chatroomID uint64) {
	if s.hall.Remove(m.SessionID()) {
		return
	}
	if room := s.lookupRoom(chatroomID); room != nil {
		room.Remove(m.SessionID())
	}
}

// AssignChatroom moves m from the hall into the room named by
// chatroomID. On failure (room missing or full) m is re-inserted into
// the hall and false is returned.
func (s *Service) AssignChatroom(chatroomID uint64, m Member) bool {
	s.hall.Remove(m.SessionID())

	if room := s.lookupRoom(chatroomID); room != nil {
		if room.Add(m) {
			return true
		}
	}
	s.hall.Add(m)
	return false
}

// LeaveChatroom removes m from the named room, re-inserts it into the
// hall, and destroys the room if that leave emptied it. Leaving the hall
// itself is a no-op and returns false.
func (s *Service) LeaveChatroom(chatroomID uint64, m Member) bool {
	if chatroomID == NoRoom || chatroomID == s.hall.ID() {
		return false
	}
	room := s.lookupRoom(chatroomID)
	if room == nil {
		return false
	}
	if !room.Remove(m.SessionID()) {
		return false
	}
	if room.IsEmpty() {
		s.removeChatroom(chatroomID)
	}
	s.hall.Add(m)
	return true
}

// CreateChatroom allocates a fresh id, constructs a room, and inserts it.
func (s *Service) CreateChatroom(name string) uint64 {
	id := s.nextID.Add(1)
	room := NewChatroom(id, name, MaxMembers)
	s.mu.Lock()
	s.rooms[id] = room
	s.mu.Unlock()
	return id
}

// GetChatroom returns the id of the room sessionID currently belongs to:
// NoRoom if it's in the hall, the room id if it's found in exactly one
// user room, or NoRoom if it's in neither (which should not occur for a
// live session).
func (s *Service) GetChatroom(sessionID uint64) uint64 {
	if s.hall.Contains(sessionID) {
		return NoRoom
	}

	s.mu.Lock()
	ids := make([]uint64, 0, len(s.rooms))
	rooms := make([]*Chatroom, 0, len(s.rooms))
	for id, room := range s.rooms {
		ids = append(ids, id)
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	for i, room := range rooms {
		if room.Contains(sessionID) {
			return ids[i]
		}
	}
	return NoRoom
}

// ChatroomData returns a snapshot of the named room, or ok=false if it
// does not exist.
func (s *Service) ChatroomData(id uint64) (summary protocol.ChatroomSummary, ok bool) {
	room := s.lookupRoom(id)
	if room == nil {
		return protocol.ChatroomSummary{}, false
	}
	return room.Summary(), true
}

// ChatroomList returns a snapshot of every user room (never the hall).
func (s *Service) ChatroomList() []protocol.ChatroomSummary {
	s.mu.Lock()
	rooms := make([]*Chatroom, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	list := make([]protocol.ChatroomSummary, 0, len(rooms))
	for _, room := range rooms {
		list = append(list, room.Summary())
	}
	return list
}

// Exists reports whether a user room with the given id currently exists.
func (s *Service) Exists(chatroomID uint64) bool {
	return s.lookupRoom(chatroomID) != nil
}

// IsEmpty reports whether the named room exists and has zero members; a
// missing room counts as empty.
func (s *Service) IsEmpty(chatroomID uint64) bool {
	room := s.lookupRoom(chatroomID)
	return room == nil || room.IsEmpty()
}

// BroadcastOnly dispatches message to the room named by chatroomID,
// filtered by predicate.
func (s *Service) BroadcastOnly(chatroomID uint64, frame []byte, predicate func(Member) bool) {
	if room := s.lookupRoom(chatroomID); room != nil {
		room.BroadcastWhere(frame, predicate)
	}
}

// Close tears down every room (including the hall) and their members'
// connections. Idempotent: a second call finds nothing left to close.
func (s *Service) Close() {
	s.mu.Lock()
	rooms := s.rooms
	s.rooms = make(map[uint64]*Chatroom)
	s.mu.Unlock()

	for _, room := range rooms {
		room.Close()
	}
	s.hall.Close()
}

func (s *Service) lookupRoom(id uint64) *Chatroom {
	s.mu.Lock()
	room := s.rooms[id]
	s.mu.Unlock()
	return room
}

func (s *Service) removeChatroom(chatroomID uint64) {
	s.mu.Lock()
	room, ok := s.rooms[chatroomID]
	if ok {
		delete(s.rooms, chatroomID)
	}
	s.mu.Unlock()
	if ok {
		log.Printf("[room-service] removed empty chatroom %d (%q)", chatroomID, room.Name())
	}
}
