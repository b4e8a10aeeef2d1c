package executor

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat/internal/protocol"
	"chat/internal/room"
	"chat/internal/session"
)

type capturingTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *capturingTransport) Write(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
}

func (c *capturingTransport) Close() {}

func (c *capturingTransport) last() protocol.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return protocol.Response{}
	}
	resp, _ := protocol.UnmarshalResponse(c.frames[len(c.frames)-1])
	return resp
}

func (c *capturingTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newAcknowledgedSession(id uint64, svc *room.Service, table *Table) (*session.Session, *capturingTransport) {
	transport := &capturingTransport{}
	s := session.New(id, svc, transport, table)
	s.Acknowledge()
	return s, transport
}

func TestSynAcknowledgesAndEchoesKey(t *testing.T) {
	svc := room.NewService()
	table := New()
	transport := &capturingTransport{}
	s := session.New(1, svc, transport, table)

	table.Dispatch(s, synRequest("abc123"))

	resp := transport.last()
	assert.Equal(t, int32(StatusAckOK), resp.Status)
	assert.True(t, s.IsAcknowledged())

	var ack protocol.AckAttachment
	require.NoError(t, json.Unmarshal(resp.Attachment, &ack))
	assert.Equal(t, "abc123", ack.Accept)
}

func TestSynRejectsSecondAttempt(t *testing.T) {
	svc := room.NewService()
	table := New()
	s, transport := newAcknowledgedSession(1, svc, table)

	table.Dispatch(s, synRequest("again"))

	resp := transport.last()
	assert.Equal(t, int32(StatusWrongState), resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestListChatroomBeforeAcknowledgeFails(t *testing.T) {
	svc := room.NewService()
	table := New()
	transport := &capturingTransport{}
	s := session.New(1, svc, transport, table)

	table.Dispatch(s, protocol.Request{Query: protocol.ListChatroom})

	assert.Equal(t, int32(StatusWrongState), transport.last().Status)
}

func TestCreateThenListThenLeave(t *testing.T) {
	svc := room.NewService()
	table := New()
	s, transport := newAcknowledgedSession(1, svc, table)

	att, _ := json.Marshal(protocol.NewCreateAttachment("random username", "Target"))
	table.Dispatch(s, protocol.Request{Query: protocol.CreateChatroom, Attachment: att})

	createResp := transport.last()
	require.Equal(t, int32(StatusOK), createResp.Status)
	var reply protocol.CreateReply
	require.NoError(t, json.Unmarshal(createResp.Attachment, &reply))
	assert.Greater(t, reply.Chatroom.ID, uint64(0))

	data, ok := svc.ChatroomData(reply.Chatroom.ID)
	require.True(t, ok)
	assert.Equal(t, 1, data.Users)

	table.Dispatch(s, protocol.Request{Query: protocol.ListChatroom})
	listResp := transport.last()
	require.Equal(t, int32(StatusOK), listResp.Status)
	var list protocol.ListReply
	require.NoError(t, json.Unmarshal(listResp.Attachment, &list))
	require.Len(t, list.Chatrooms, 1)
	assert.Equal(t, "Target", list.Chatrooms[0].Name)

	table.Dispatch(s, protocol.Request{Query: protocol.LeaveChatroom})
	assert.Equal(t, int32(StatusOK), transport.last().Status)
	assert.False(t, svc.Exists(reply.Chatroom.ID), "last leaver destroys the room")
}

func TestJoinRequiresExistingRoom(t *testing.T) {
	svc := room.NewService()
	table := New()
	s, transport := newAcknowledgedSession(1, svc, table)

	att, _ := json.Marshal(protocol.NewJoinAttachment("u1", 999))
	table.Dispatch(s, protocol.Request{Query: protocol.JoinChatroom, Attachment: att})

	assert.Equal(t, int32(StatusPrecondition), transport.last().Status)
}

func TestChatMessageBroadcastsToOtherMembersOnly(t *testing.T) {
	svc := room.NewService()
	table := New()
	sender, senderTransport := newAcknowledgedSession(1, svc, table)

	att, _ := json.Marshal(protocol.NewCreateAttachment("a", "Room"))
	table.Dispatch(sender, protocol.Request{Query: protocol.CreateChatroom, Attachment: att})
	createResp := senderTransport.last()
	var reply protocol.CreateReply
	require.NoError(t, json.Unmarshal(createResp.Attachment, &reply))

	peer, peerTransport := newAcknowledgedSession(2, svc, table)
	joinAtt, _ := json.Marshal(protocol.NewJoinAttachment("b", reply.Chatroom.ID))
	table.Dispatch(peer, protocol.Request{Query: protocol.JoinChatroom, Attachment: joinAtt})
	require.Equal(t, int32(StatusOK), peerTransport.last().Status)

	msgAtt, _ := json.Marshal(protocol.ChatMessageAttachment{Message: "Hello!I'm Bob!"})
	table.Dispatch(sender, protocol.Request{Query: protocol.ChatMessage, Attachment: msgAtt})

	senderAck := senderTransport.last()
	assert.Equal(t, int32(StatusOK), senderAck.Status)
	assert.Empty(t, senderAck.Attachment)

	require.Eventually(t, func() bool { return peerTransport.count() >= 2 }, time.Second, time.Millisecond)
	peerResp := peerTransport.last()
	assert.Equal(t, int32(StatusOK), peerResp.Status)
	var chatAtt protocol.ChatMessageAttachment
	require.NoError(t, json.Unmarshal(peerResp.Attachment, &chatAtt))
	assert.Equal(t, "Hello!I'm Bob!", chatAtt.Message)
}

func synRequest(key string) protocol.Request {
	att, _ := json.Marshal(protocol.SynAttachment{Key: key})
	return protocol.Request{Query: protocol.Syn, Attachment: att}
}
