// Package room implements the Chatroom and RoomService types: a bounded
// membership set per room, and the hall + room-map that owns every
// room's lifetime.
//
// Lock discipline: the Service's own mutex serializes only the
// id→*Chatroom map; a *Chatroom reference is extracted and the Service
// lock released before its own mutex is acquired. Chatroom locks never
// nest inside one another and the Service lock is never held while a
// Chatroom lock is held — RoomService-map → Chatroom, never reversed.
package room

import (
	"encoding/json"
	"sync"

	"chat/internal/protocol"
)

// NoRoom is the reserved id meaning "in the hall".
const NoRoom uint64 = 0

// MaxMembers bounds every user-created chatroom.
const MaxMembers = 256

// Member is the non-owning handle a Chatroom holds for each of its
// participants. Session implements this; Chatroom and RoomService never
// hold a *Session directly, only this interface plus the numeric id —
// replacing raw back-pointers with an invalidation-safe handle.
type Member interface {
	SessionID() uint64
	// Deliver queues frame for asynchronous delivery to this member's
	// connection. It must never block.
	Deliver(frame []byte)
	// Closed reports whether this member's connection has already gone
	// away, so Chatroom can lazily reap it during a broadcast.
	Closed() bool
	// Close tears down this member's connection (used by Chatroom.Close
	// when the room itself is torn down).
	Close()
}

// Chatroom is a bounded set of member sessions plus a broadcast
// primitive. The zero value is not usable; construct with NewChatroom.
type Chatroom struct {
	id       uint64
	capacity int // 0 means unbounded (used only for the hall)

	mu      sync.Mutex
	name    string
	members map[uint64]Member
}

// NewChatroom constructs a room with the given id, name, and member cap.
// capacity <= 0 means unbounded — used only for the hall.
func NewChatroom(id uint64, name string, capacity int) *Chatroom {
	return &Chatroom{
		id:       id,
		capacity: capacity,
		name:     name,
		members:  make(map[uint64]Member),
	}
}

func (c *Chatroom) ID() uint64 { return c.id }

func (c *Chatroom) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Chatroom) Rename(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// UserCount returns the current member count; it always equals
// len(members) by construction.
func (c *Chatroom) UserCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

func (c *Chatroom) IsEmpty() bool {
	return c.UserCount() == 0
}

// Add inserts m if the room has spare capacity and m is not already a
// member. Returns whether the insert happened.
func (c *Chatroom) Add(m Member) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := m.SessionID()
	if _, exists := c.members[id]; exists {
		return false
	}
	if c.capacity > 0 && len(c.members) >= c.capacity {
		return false
	}
	c.members[id] = m
	return true
}

// Remove deletes the member with the given session id, if present.
func (c *Chatroom) Remove(sessionID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[sessionID]; !ok {
		return false
	}
	delete(c.members, sessionID)
	return true
}

func (c *Chatroom) Contains(sessionID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[sessionID]
	return ok
}

// Broadcast delivers frame to every member, lazily reaping any member
// observed closed along the way.
func (c *Chatroom) Broadcast(frame []byte) {
	c.BroadcastWhere(frame, nil)
}

// BroadcastWhere delivers frame to every member for which predicate
// returns true (or to every member, when predicate is nil), lazily
// reaping closed members as it iterates.
func (c *Chatroom) BroadcastWhere(frame []byte, predicate func(Member) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, m := range c.members {
		if m.Closed() {
			delete(c.members, id)
			continue
		}
		if predicate != nil && !predicate(m) {
			continue
		}
		m.Deliver(frame)
	}
}

// AsJSON returns the {"id":…, "name":"…", "users":…} representation used
// by LIST_CHATROOM.
func (c *Chatroom) AsJSON() ([]byte, error) {
	c.mu.Lock()
	summary := protocol.ChatroomSummary{ID: c.id, Name: c.name, Users: len(c.members)}
	c.mu.Unlock()
	return json.Marshal(summary)
}

func (c *Chatroom) Summary() protocol.ChatroomSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.ChatroomSummary{ID: c.id, Name: c.name, Users: len(c.members)}
}

// Close shuts down every member's connection and empties the room. The
// members are closed after the room lock is released, since a member's
// Close may remove itself from this room or the hall.
func (c *Chatroom) Close() {
	c.mu.Lock()
	members := make([]Member, 0, len(c.members))
	for id, m := range c.members {
		members = append(members, m)
		delete(c.members, id)
	}
	c.mu.Unlock()
	for _, m := range members {
		m.Close()
	}
}
