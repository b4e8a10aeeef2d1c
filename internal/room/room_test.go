package room

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	id uint64

	mu     sync.Mutex
	closed bool
	frames [][]byte
}

func newFakeMember(id uint64) *fakeMember { return &fakeMember{id: id} }

func (m *fakeMember) SessionID() uint64 { return m.id }

func (m *fakeMember) Deliver(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
}

func (m *fakeMember) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMember) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *fakeMember) received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

func TestChatroomAddRejectsDuplicateAndFull(t *testing.T) {
	c := NewChatroom(1, "room", 2)
	require.True(t, c.Add(newFakeMember(1)))
	require.True(t, c.Add(newFakeMember(2)))
	assert.False(t, c.Add(newFakeMember(1)), "duplicate session must not re-insert")
	assert.False(t, c.Add(newFakeMember(3)), "room at capacity must reject")
	assert.Equal(t, 2, c.UserCount())
}

func TestChatroomCapacity256(t *testing.T) {
	c := NewChatroom(1, "room", MaxMembers)
	for i := uint64(1); i <= MaxMembers; i++ {
		require.True(t, c.Add(newFakeMember(i)), "join %d should succeed", i)
	}
	extra := newFakeMember(MaxMembers + 1)
	assert.False(t, c.Add(extra), "join beyond MaxMembers must fail")
	assert.Equal(t, MaxMembers, c.UserCount())
}

func TestChatroomBroadcastReapsClosedMembers(t *testing.T) {
	c := NewChatroom(1, "room", 0)
	live := newFakeMember(1)
	dead := newFakeMember(2)
	dead.Close()
	require.True(t, c.Add(live))
	require.True(t, c.Add(dead))

	c.Broadcast([]byte("hi"))

	assert.Len(t, live.received(), 1)
	assert.False(t, c.Contains(2), "closed member must be reaped during broadcast")
	assert.True(t, c.Contains(1))
}

func TestChatroomBroadcastWherePredicate(t *testing.T) {
	c := NewChatroom(1, "room", 0)
	sender := newFakeMember(1)
	other := newFakeMember(2)
	require.True(t, c.Add(sender))
	require.True(t, c.Add(other))

	c.BroadcastWhere([]byte("hello"), func(m Member) bool { return m.SessionID() != sender.SessionID() })

	assert.Empty(t, sender.received())
	assert.Len(t, other.received(), 1)
}

func TestRoomInvariantHallVsRoom(t *testing.T) {
	svc := NewService()
	m := newFakeMember(1)
	require.True(t, svc.AddSession(m))
	assert.Equal(t, NoRoom, svc.GetChatroom(m.SessionID()))

	id := svc.CreateChatroom("Target")
	require.True(t, svc.AssignChatroom(id, m))
	assert.Equal(t, id, svc.GetChatroom(m.SessionID()))

	data, ok := svc.ChatroomData(id)
	require.True(t, ok)
	assert.Equal(t, 1, data.Users)
}

func TestLeaveChatroomRemovesEmptyRoom(t *testing.T) {
	svc := NewService()
	m := newFakeMember(1)
	svc.AddSession(m)
	id := svc.CreateChatroom("Target")
	require.True(t, svc.AssignChatroom(id, m))

	require.True(t, svc.LeaveChatroom(id, m))
	assert.False(t, svc.Exists(id), "last leaver must destroy the room")
	assert.Equal(t, NoRoom, svc.GetChatroom(m.SessionID()), "leaver returns to the hall")
}

func TestAssignChatroomFailureRestoresHall(t *testing.T) {
	svc := NewService()
	m := newFakeMember(1)
	svc.AddSession(m)

	assert.False(t, svc.AssignChatroom(999, m), "joining a nonexistent room must fail")
	assert.Equal(t, NoRoom, svc.GetChatroom(m.SessionID()), "failed join restores hall membership")
}

func TestAssignChatroomFullRestoresHall(t *testing.T) {
	svc := NewService()
	id := svc.CreateChatroom("small")
	filler := newFakeMember(1000)
	room := svc.lookupRoom(id)
	// Fill the room directly to MaxMembers without going through the hall.
	for i := uint64(1); i <= MaxMembers; i++ {
		require.True(t, room.Add(newFakeMember(i)))
	}

	svc.AddSession(filler)
	assert.False(t, svc.AssignChatroom(id, filler))
	assert.Equal(t, NoRoom, svc.GetChatroom(filler.SessionID()))
}

func TestLeaveHallIsNoOp(t *testing.T) {
	svc := NewService()
	m := newFakeMember(1)
	svc.AddSession(m)
	assert.False(t, svc.LeaveChatroom(NoRoom, m))
	assert.False(t, svc.LeaveChatroom(svc.HallID(), m))
}

func TestServiceCloseIdempotent(t *testing.T) {
	svc := NewService()
	m := newFakeMember(1)
	svc.AddSession(m)
	svc.Close()
	svc.Close() // must not panic or double-close anything observably
}
