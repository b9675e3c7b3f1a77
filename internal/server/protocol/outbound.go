package protocol

import (
	"encoding/json"
	"errors"

	"github.com/dmitrijs2005/pairchat/internal/common"
)

// Outbound is a frame sent to a client. Encode adds the "type" field.
type Outbound interface {
	OutboundType() string
}

// User describes an identity in auth replies. Durable identities carry ID
// and Email.
type User struct {
	Username string `json:"username"`
	ID       string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Durable  bool   `json:"durable"`
}

// Room describes a named public room.
type Room struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	CreatedBy    string `json:"createdBy,omitempty"`
	MaxUsers     int    `json:"maxUsers"`
	CurrentUsers int    `json:"currentUsers"`
}

type AuthResponse struct {
	Success bool `json:"success"`
	User    User `json:"user"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	User    User   `json:"user"`
	Token   string `json:"token"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	User    User   `json:"user"`
	Token   string `json:"token"`
}

type QueueJoined struct {
	Message string `json:"message"`
}

// MatchJoined announces an ephemeral room and the partner paired into it.
type MatchJoined struct {
	RoomID  string `json:"roomId"`
	Partner string `json:"partner"`
}

// RoomJoined confirms a named room join.
type RoomJoined struct {
	Room Room `json:"room"`
}

type PartnerLeft struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type LeftRoom struct {
	Room string `json:"room"`
}

type RoomCreated struct {
	Room Room `json:"room"`
}

type RoomsList struct {
	Rooms []Room `json:"rooms"`
}

type RoomUsers struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

type MessageHistory struct {
	Room     string        `json:"room"`
	Messages []ChatMessage `json:"messages"`
}

// ChatMessage is a room message. Timestamp is in Unix milliseconds.
type ChatMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Content   string `json:"content"`
	Room      string `json:"room"`
	Timestamp int64  `json:"timestamp"`
}

type UserStatus struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

type TypingStatus struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Pong carries the milliseconds elapsed since the session's previous ping.
type Pong struct {
	Ms int64 `json:"ms"`
}

type OnlineCount struct {
	Count int `json:"count"`
}

// Error is the single failure reply.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (AuthResponse) OutboundType() string     { return "auth_response" }
func (RegisterResponse) OutboundType() string { return "register_response" }
func (LoginResponse) OutboundType() string    { return "login_response" }
func (QueueJoined) OutboundType() string      { return "queue_joined" }
func (MatchJoined) OutboundType() string      { return "room_joined" }
func (RoomJoined) OutboundType() string       { return "room_joined" }
func (PartnerLeft) OutboundType() string      { return "partner_left" }
func (LeftRoom) OutboundType() string         { return "left_room" }
func (RoomCreated) OutboundType() string      { return "room_created" }
func (RoomsList) OutboundType() string        { return "rooms_list" }
func (RoomUsers) OutboundType() string        { return "room_users" }
func (MessageHistory) OutboundType() string   { return "message_history" }
func (ChatMessage) OutboundType() string      { return "message" }
func (UserStatus) OutboundType() string       { return "user_status" }
func (TypingStatus) OutboundType() string     { return "typing_status" }
func (Pong) OutboundType() string             { return "pong" }
func (OnlineCount) OutboundType() string      { return "online_count" }
func (Error) OutboundType() string            { return "error" }

// Encode serializes o as a JSON object with a leading "type" field.
func Encode(o Outbound) ([]byte, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, errors.New("outbound frame must encode as an object")
	}

	typ, err := json.Marshal(o.OutboundType())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}

// Error codes.
const (
	CodeValidation   = "validation"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeProtocol     = "protocol"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

// ErrorFrom maps err onto an error reply. Unrecognized errors become
// internal errors and their text is not exposed.
func ErrorFrom(err error) Error {
	switch {
	case errors.Is(err, ErrMalformed), errors.Is(err, common.ErrUnknownType):
		return Error{Code: CodeProtocol, Message: err.Error()}
	case errors.Is(err, common.ErrValidation):
		return Error{Code: CodeValidation, Message: err.Error()}
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return Error{Code: CodeUnauthorized, Message: err.Error()}
	case errors.Is(err, common.ErrForbidden), errors.Is(err, common.ErrNotRoomMember):
		return Error{Code: CodeForbidden, Message: err.Error()}
	case errors.Is(err, common.ErrorNotFound):
		return Error{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, common.ErrAlreadyExists), errors.Is(err, common.ErrRoomFull):
		return Error{Code: CodeConflict, Message: err.Error()}
	case errors.Is(err, common.ErrUnavailable):
		return Error{Code: CodeUnavailable, Message: err.Error()}
	}
	return Error{Code: CodeInternal, Message: common.ErrorInternal.Error()}
}
