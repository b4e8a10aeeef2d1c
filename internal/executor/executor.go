// Package executor implements the per-QueryKind request handlers: each
// follows validate → execute → send_response, and the Table as a whole
// implements session.Dispatcher so a Session never needs to know how a
// query is actually handled.
package executor

import (
	"encoding/json"
	"time"

	"chat/internal/protocol"
	"chat/internal/room"
	"chat/internal/session"
)

// Status codes, HTTP-like per the validation table.
const (
	StatusOK           = 200
	StatusAckOK        = 101
	StatusBadRequest   = 400
	StatusWrongState   = 405
	StatusPrecondition = 424
	StatusInternal     = 500
)

type handlerFunc func(s *session.Session, req protocol.Request)

// Table is the dispatch table: one handlerFunc per QueryKind.
type Table struct {
	handlers map[protocol.QueryKind]handlerFunc
}

// New builds a Table with every QueryKind's handler wired in.
func New() *Table {
	t := &Table{handlers: make(map[protocol.QueryKind]handlerFunc, 6)}
	t.handlers[protocol.Syn] = t.executeSyn
	t.handlers[protocol.ListChatroom] = t.executeList
	t.handlers[protocol.CreateChatroom] = t.executeCreate
	t.handlers[protocol.JoinChatroom] = t.executeJoin
	t.handlers[protocol.LeaveChatroom] = t.executeLeave
	t.handlers[protocol.ChatMessage] = t.executeChatMessage
	return t
}

// Dispatch implements session.Dispatcher.
func (t *Table) Dispatch(s *session.Session, req protocol.Request) {
	h, ok := t.handlers[req.Query]
	if !ok {
		sendError(s, req.Query, StatusBadRequest, "unrecognized query")
		return
	}
	h(s, req)
}

func (t *Table) executeSyn(s *session.Session, req protocol.Request) {
	if s.State() != session.WaitSyn {
		sendError(s, protocol.Ack, StatusWrongState, "session already past wait-syn")
		return
	}
	var att protocol.SynAttachment
	if err := json.Unmarshal(req.Attachment, &att); err != nil || att.Key == "" {
		sendError(s, protocol.Ack, StatusBadRequest, "syn requires a non-empty key")
		return
	}
	if !s.Acknowledge() {
		sendError(s, protocol.Ack, StatusWrongState, "could not acknowledge session")
		return
	}
	sendResponse(s, protocol.Ack, StatusAckOK, protocol.AckAttachment{Accept: att.Key})
}

func (t *Table) executeList(s *session.Session, req protocol.Request) {
	if !s.IsAcknowledged() {
		sendError(s, protocol.ListChatroom, StatusWrongState, "session not acknowledged")
		return
	}
	sendResponse(s, protocol.ListChatroom, StatusOK, protocol.ListReply{Chatrooms: s.ListChatrooms()})
}

func (t *Table) executeCreate(s *session.Session, req protocol.Request) {
	if !s.IsAcknowledged() {
		sendError(s, protocol.CreateChatroom, StatusWrongState, "session not acknowledged")
		return
	}
	if s.User().Chatroom != room.NoRoom {
		sendError(s, protocol.CreateChatroom, StatusPrecondition, "leave the current room before creating another")
		return
	}
	var att protocol.CreateAttachment
	if err := json.Unmarshal(req.Attachment, &att); err != nil || att.ChatroomName() == "" {
		sendError(s, protocol.CreateChatroom, StatusBadRequest, "create requires a chatroom name")
		return
	}

	id := s.CreateChatroom(att.ChatroomName())
	if id == room.NoRoom {
		sendError(s, protocol.CreateChatroom, StatusInternal, "failed to create and join chatroom")
		return
	}
	s.UpdateUsername(att.Username())
	sendResponse(s, protocol.CreateChatroom, StatusOK, protocol.NewCreateReply(id))
}

func (t *Table) executeJoin(s *session.Session, req protocol.Request) {
	if !s.IsAcknowledged() {
		sendError(s, protocol.JoinChatroom, StatusWrongState, "session not acknowledged")
		return
	}
	if s.User().Chatroom != room.NoRoom {
		sendError(s, protocol.JoinChatroom, StatusPrecondition, "leave the current room before joining another")
		return
	}
	var att protocol.JoinAttachment
	if err := json.Unmarshal(req.Attachment, &att); err != nil || att.ChatroomID() == room.NoRoom {
		sendError(s, protocol.JoinChatroom, StatusBadRequest, "join requires a chatroom id")
		return
	}

	if !s.AssignChatroom(att.ChatroomID()) {
		sendError(s, protocol.JoinChatroom, StatusPrecondition, "chatroom does not exist or is full")
		return
	}
	s.UpdateUsername(att.Username())
	sendResponse(s, protocol.JoinChatroom, StatusOK, nil)
}

func (t *Table) executeLeave(s *session.Session, req protocol.Request) {
	if !s.IsAcknowledged() {
		sendError(s, protocol.LeaveChatroom, StatusWrongState, "session not acknowledged")
		return
	}
	if s.User().Chatroom == room.NoRoom {
		sendError(s, protocol.LeaveChatroom, StatusPrecondition, "not currently in a chatroom")
		return
	}
	if !s.LeaveChatroom() {
		sendError(s, protocol.LeaveChatroom, StatusInternal, "failed to leave chatroom")
		return
	}
	sendResponse(s, protocol.LeaveChatroom, StatusOK, nil)
}

func (t *Table) executeChatMessage(s *session.Session, req protocol.Request) {
	if !s.IsAcknowledged() {
		sendError(s, protocol.ChatMessage, StatusWrongState, "session not acknowledged")
		return
	}
	if s.User().Chatroom == room.NoRoom {
		sendError(s, protocol.ChatMessage, StatusPrecondition, "not currently in a chatroom")
		return
	}
	var att protocol.ChatMessageAttachment
	if err := json.Unmarshal(req.Attachment, &att); err != nil {
		sendError(s, protocol.ChatMessage, StatusBadRequest, "malformed chat-message attachment")
		return
	}

	senderID := s.ID()
	broadcast, err := protocol.Marshal(protocol.Response{
		Query:      protocol.ChatMessage,
		Timestamp:  nowMillis(),
		Status:     StatusOK,
		Attachment: mustMarshal(att),
	})
	if err != nil {
		sendError(s, protocol.ChatMessage, StatusInternal, "failed to encode broadcast")
		return
	}
	s.BroadcastOnly(broadcast, func(m room.Member) bool { return m.SessionID() != senderID })
	sendResponse(s, protocol.ChatMessage, StatusOK, nil)
}

func sendResponse(s *session.Session, query protocol.QueryKind, status int32, attachment any) {
	resp := protocol.Response{
		Query:     query,
		Timestamp: nowMillis(),
		Status:    status,
	}
	if attachment != nil {
		resp.Attachment = mustMarshal(attachment)
	}
	frame, err := protocol.Marshal(resp)
	if err != nil {
		return
	}
	s.Write(frame)
}

func sendError(s *session.Session, query protocol.QueryKind, status int32, msg string) {
	resp := protocol.Response{
		Query:     query,
		Timestamp: nowMillis(),
		Status:    status,
		Error:     msg,
	}
	frame, err := protocol.Marshal(resp)
	if err != nil {
		return
	}
	s.Write(frame)
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
