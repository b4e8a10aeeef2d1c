// Package protocol defines the wire format shared by the chat server and
// client. Every message is a single JSON object terminated by the
// four-byte delimiter "\r\n\r\n" — never a bare newline, since a chat
// message's attachment may itself contain embedded newlines.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Delimiter terminates every frame on the wire.
const Delimiter = "\r\n\r\n"

// QueryKind is the closed set of request/response variants. The wire name
// of each value is its lower-kebab-case string, produced by ToWireName
// and parsed back by ParseQueryKind.
type QueryKind int

const (
	Undefined QueryKind = iota
	Syn
	Ack
	LeaveChatroom
	JoinChatroom
	CreateChatroom
	ListChatroom
	ChatMessage
)

var queryKindNames = map[QueryKind]string{
	Undefined:      "undefined",
	Syn:            "syn",
	Ack:            "ack",
	LeaveChatroom:  "leave-chatroom",
	JoinChatroom:   "join-chatroom",
	CreateChatroom: "create-chatroom",
	ListChatroom:   "list-chatroom",
	ChatMessage:    "chat-message",
}

var queryKindValues = func() map[string]QueryKind {
	m := make(map[string]QueryKind, len(queryKindNames))
	for k, v := range queryKindNames {
		m[v] = k
	}
	return m
}()

// ToWireName returns the wire string for k, or "" if k is not in the
// closed enum.
func (k QueryKind) ToWireName() string { return queryKindNames[k] }

func (k QueryKind) String() string {
	if s, ok := queryKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("QueryKind(%d)", int(k))
}

// ParseQueryKind resolves a wire string back to a QueryKind. ok is false
// when name is not one of the closed enum's wire names.
func ParseQueryKind(name string) (k QueryKind, ok bool) {
	k, ok = queryKindValues[name]
	return
}

func (k QueryKind) MarshalJSON() ([]byte, error) {
	name := k.ToWireName()
	if name == "" {
		return nil, fmt.Errorf("protocol: %d is not a valid QueryKind", int(k))
	}
	return json.Marshal(name)
}

func (k *QueryKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := ParseQueryKind(name)
	if !ok {
		return fmt.Errorf("%w: unknown query %q", ErrParseFrame, name)
	}
	*k = parsed
	return nil
}

// ErrParseFrame is returned when a frame is not a well-formed Request,
// Response, or Chat. It never propagates as a panic; Connection catches
// it and keeps the read loop alive.
var ErrParseFrame = errors.New("protocol: malformed frame")

// Request is a client→server query.
type Request struct {
	Query      QueryKind       `json:"query"`
	Timestamp  int64           `json:"timestamp"` // ms since epoch
	Timeout    uint64          `json:"timeout"`   // ms
	Attachment json.RawMessage `json:"attachment,omitempty"`
}

// Response answers a Request.
type Response struct {
	Query      QueryKind       `json:"query"`
	Timestamp  int64           `json:"timestamp"` // ms since epoch
	Status     int32           `json:"status"`
	Error      string          `json:"error,omitempty"`
	Attachment json.RawMessage `json:"attachment,omitempty"`
}

// Chat is the chat-protocol message shape. Marshal emits no wire
// protocol tag for it. The core executors and internal/client exchange
// CHAT_MESSAGE Request/Response frames for room traffic and do not
// build Chat values.
type Chat struct {
	Timestamp int64  `json:"timestamp"`
	Timeout   uint64 `json:"timeout"`
	Message   string `json:"message"`
}

// Attachment payload shapes, one per QueryKind that carries a body.

type SynAttachment struct {
	Key string `json:"key"`
}

type AckAttachment struct {
	Accept string `json:"accept"`
}

type userRef struct {
	Name string `json:"name"`
}

type chatroomRef struct {
	ID   uint64 `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type JoinAttachment struct {
	User     userRef     `json:"user"`
	Chatroom chatroomRef `json:"chatroom"`
}

func NewJoinAttachment(username string, chatroomID uint64) JoinAttachment {
	return JoinAttachment{User: userRef{Name: username}, Chatroom: chatroomRef{ID: chatroomID}}
}

func (a JoinAttachment) Username() string   { return a.User.Name }
func (a JoinAttachment) ChatroomID() uint64 { return a.Chatroom.ID }

type CreateAttachment struct {
	User     userRef     `json:"user"`
	Chatroom chatroomRef `json:"chatroom"`
}

func NewCreateAttachment(username, chatroomName string) CreateAttachment {
	return CreateAttachment{User: userRef{Name: username}, Chatroom: chatroomRef{Name: chatroomName}}
}

func (a CreateAttachment) Username() string     { return a.User.Name }
func (a CreateAttachment) ChatroomName() string { return a.Chatroom.Name }

type CreateReply struct {
	Chatroom struct {
		ID uint64 `json:"id"`
	} `json:"chatroom"`
}

func NewCreateReply(id uint64) CreateReply {
	var r CreateReply
	r.Chatroom.ID = id
	return r
}

// ChatroomSummary is one entry of a LIST_CHATROOM reply.
type ChatroomSummary struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Users int    `json:"users"`
}

type ListReply struct {
	Chatrooms []ChatroomSummary `json:"chatrooms"`
}

type ChatMessageAttachment struct {
	Message string `json:"message"`
}

// Marshal encodes v (a Request, Response, or Chat) into a complete frame
// ending in Delimiter. v's JSON tags already place "attachment" among the
// sibling fields, so no manual splicing is needed: encoding/json emits
// "attachment" as a nested, un-re-escaped JSON value because
// json.RawMessage is opaque to the encoder.
func Marshal(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	out := make([]byte, 0, len(body)+len(Delimiter))
	out = append(out, body...)
	out = append(out, Delimiter...)
	return out, nil
}

// UnmarshalRequest parses a single frame (with or without its trailing
// delimiter already stripped) into a Request.
func UnmarshalRequest(frame []byte) (Request, error) {
	var r Request
	if err := unmarshalStrict(frame, &r); err != nil {
		return Request{}, err
	}
	return r, nil
}

// UnmarshalResponse parses a single frame into a Response.
func UnmarshalResponse(frame []byte) (Response, error) {
	var r Response
	if err := unmarshalStrict(frame, &r); err != nil {
		return Response{}, err
	}
	return r, nil
}

// MaxFrameSize bounds how many bytes ReadFrame accumulates before giving
// up on ever seeing the delimiter, so a peer that never sends one
// cannot grow a connection's read buffer without bound.
const MaxFrameSize = 1 << 20 // 1 MiB

// ErrFrameTooLarge is returned by ReadFrame when no delimiter appears
// within MaxFrameSize bytes.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// ReadFrame reads from r up to and including the next Delimiter,
// returning the bytes before it (the delimiter itself is consumed but
// not returned). It is the shared read-side half of the framing codec
// used by both the server's Connection and the reference Client.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	delim := []byte(Delimiter)
	last := delim[len(delim)-1]
	for {
		chunk, err := r.ReadSlice(last)
		buf.Write(chunk)
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
		if bytes.HasSuffix(buf.Bytes(), delim) {
			return buf.Bytes()[:buf.Len()-len(delim)], nil
		}
		if buf.Len() > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
	}
}

func unmarshalStrict(frame []byte, v any) error {
	frame = bytes.TrimSuffix(frame, []byte(Delimiter))
	dec := json.NewDecoder(bytes.NewReader(frame))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrParseFrame, err)
	}
	return nil
}
