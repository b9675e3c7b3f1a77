// Package protocol defines the JSON frames exchanged with chat clients.
// Each frame is an object whose "type" field selects one of a closed set of
// message shapes. Inbound frames are decoded and validated here, so the
// coordinator only ever sees well-formed values.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/pairchat/internal/common"
)

// ErrMalformed reports a frame that is not a JSON object with a type.
var ErrMalformed = errors.New("malformed frame")

const (
	MaxUsernameLen = 32
	MaxContentLen  = 4000
	MaxTrackingLen = 4096
)

// Inbound type discriminants.
const (
	TypeAuth            = "auth"
	TypeRegister        = "register"
	TypeLogin           = "login"
	TypeJoinMatchQueue  = "join_match_queue"
	TypeLeaveMatchQueue = "leave_match_queue"
	TypeCreateRoom      = "create_room"
	TypeGetRooms        = "get_rooms"
	TypeJoinRoom        = "join_room"
	TypeLeaveRoom       = "leave_room"
	TypeMessage         = "message"
	TypeStatus          = "status"
	TypeTyping          = "typing"
	TypePing            = "ping"
)

// Presence statuses accepted by the status frame.
const (
	StatusOnline = "online"
	StatusAway   = "away"
	StatusBusy   = "busy"
)

// Inbound is a decoded client frame.
type Inbound interface {
	Type() string
}

type validator interface {
	validate() error
}

type Auth struct {
	Username string          `json:"username"`
	Tracking json.RawMessage `json:"tracking,omitempty"`
}

type Register struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// Login authenticates with email and password, or resumes with Token.
type Login struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Token    string `json:"token,omitempty"`
}

type JoinMatchQueue struct{}

type LeaveMatchQueue struct{}

type CreateRoom struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type GetRooms struct{}

type JoinRoom struct {
	Room string `json:"room"`
}

// LeaveRoom leaves Room, or the current match room when Room is empty.
type LeaveRoom struct {
	Room string `json:"room,omitempty"`
}

type SendMessage struct {
	Room    string `json:"room"`
	Content string `json:"content"`
}

type SetStatus struct {
	Status string `json:"status"`
}

type Typing struct {
	Room     string `json:"room"`
	IsTyping bool   `json:"isTyping"`
}

type Ping struct{}

func (*Auth) Type() string            { return TypeAuth }
func (*Register) Type() string        { return TypeRegister }
func (*Login) Type() string           { return TypeLogin }
func (*JoinMatchQueue) Type() string  { return TypeJoinMatchQueue }
func (*LeaveMatchQueue) Type() string { return TypeLeaveMatchQueue }
func (*CreateRoom) Type() string      { return TypeCreateRoom }
func (*GetRooms) Type() string        { return TypeGetRooms }
func (*JoinRoom) Type() string        { return TypeJoinRoom }
func (*LeaveRoom) Type() string       { return TypeLeaveRoom }
func (*SendMessage) Type() string     { return TypeMessage }
func (*SetStatus) Type() string       { return TypeStatus }
func (*Typing) Type() string          { return TypeTyping }
func (*Ping) Type() string            { return TypePing }

var registry = map[string]func() Inbound{
	TypeAuth:            func() Inbound { return &Auth{} },
	TypeRegister:        func() Inbound { return &Register{} },
	TypeLogin:           func() Inbound { return &Login{} },
	TypeJoinMatchQueue:  func() Inbound { return &JoinMatchQueue{} },
	TypeLeaveMatchQueue: func() Inbound { return &LeaveMatchQueue{} },
	TypeCreateRoom:      func() Inbound { return &CreateRoom{} },
	TypeGetRooms:        func() Inbound { return &GetRooms{} },
	TypeJoinRoom:        func() Inbound { return &JoinRoom{} },
	TypeLeaveRoom:       func() Inbound { return &LeaveRoom{} },
	TypeMessage:         func() Inbound { return &SendMessage{} },
	TypeStatus:          func() Inbound { return &SetStatus{} },
	TypeTyping:          func() Inbound { return &Typing{} },
	TypePing:            func() Inbound { return &Ping{} },
}

// Decode parses one client frame. Errors wrap ErrMalformed,
// common.ErrUnknownType or common.ErrValidation.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	factory, ok := registry[*env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownType, *env.Type)
	}

	in := factory()
	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrValidation, *env.Type, err)
	}
	if v, ok := in.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrValidation, *env.Type, err)
		}
	}
	return in, nil
}

// NormalizeUsername trims name and checks its length.
func NormalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxUsernameLen {
		return "", fmt.Errorf("username must be 1 to %d characters", MaxUsernameLen)
	}
	return name, nil
}

func (a *Auth) validate() error {
	name, err := NormalizeUsername(a.Username)
	if err != nil {
		return err
	}
	a.Username = name
	if len(a.Tracking) > MaxTrackingLen {
		return fmt.Errorf("tracking exceeds %d bytes", MaxTrackingLen)
	}
	return nil
}

func (r *Register) validate() error {
	name, err := NormalizeUsername(r.Username)
	if err != nil {
		return err
	}
	r.Username = name
	if strings.TrimSpace(r.Email) == "" {
		return errors.New("email is required")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

func (l *Login) validate() error {
	if l.Token != "" {
		return nil
	}
	if strings.TrimSpace(l.Email) == "" || l.Password == "" {
		return errors.New("email and password are required")
	}
	return nil
}

func (c *CreateRoom) validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func (j *JoinRoom) validate() error {
	if strings.TrimSpace(j.Room) == "" {
		return errors.New("room is required")
	}
	return nil
}

func (m *SendMessage) validate() error {
	if strings.TrimSpace(m.Room) == "" {
		return errors.New("room is required")
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.New("content is required")
	}
	if utf8.RuneCountInString(m.Content) > MaxContentLen {
		return fmt.Errorf("content exceeds %d characters", MaxContentLen)
	}
	return nil
}

func (s *SetStatus) validate() error {
	switch s.Status {
	case StatusOnline, StatusAway, StatusBusy:
		return nil
	}
	return fmt.Errorf("invalid status %q", s.Status)
}

func (t *Typing) validate() error {
	if strings.TrimSpace(t.Room) == "" {
		return errors.New("room is required")
	}
	return nil
}
