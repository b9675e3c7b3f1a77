package protocol

import (
	"strings"
	"testing"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Valid(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Inbound
	}{
		{"auth trims username", `{"type":"auth","username":"  alice "}`, &Auth{Username: "alice"}},
		{"auth with tracking", `{"type":"auth","username":"bob","tracking":{"ua":"x"}}`,
			&Auth{Username: "bob", Tracking: []byte(`{"ua":"x"}`)}},
		{"register", `{"type":"register","email":"a@b.c","password":"secret","username":"al"}`,
			&Register{Email: "a@b.c", Password: "secret", Username: "al"}},
		{"login with credentials", `{"type":"login","email":"a@b.c","password":"secret"}`,
			&Login{Email: "a@b.c", Password: "secret"}},
		{"login with token", `{"type":"login","token":"t"}`, &Login{Token: "t"}},
		{"join queue", `{"type":"join_match_queue"}`, &JoinMatchQueue{}},
		{"leave queue", `{"type":"leave_match_queue"}`, &LeaveMatchQueue{}},
		{"create room", `{"type":"create_room","name":" lobby ","description":"d"}`,
			&CreateRoom{Name: "lobby", Description: "d"}},
		{"get rooms", `{"type":"get_rooms"}`, &GetRooms{}},
		{"join room", `{"type":"join_room","room":"r1"}`, &JoinRoom{Room: "r1"}},
		{"leave room without id", `{"type":"leave_room"}`, &LeaveRoom{}},
		{"message", `{"type":"message","room":"r1","content":"hi"}`, &SendMessage{Room: "r1", Content: "hi"}},
		{"status", `{"type":"status","status":"away"}`, &SetStatus{Status: StatusAway}},
		{"typing", `{"type":"typing","room":"r1","isTyping":true}`, &Typing{Room: "r1", IsTyping: true}},
		{"ping", `{"type":"ping"}`, &Ping{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{"not json", `hello`, ErrMalformed},
		{"array", `[1,2]`, ErrMalformed},
		{"missing type", `{"username":"a"}`, ErrMalformed},
		{"unknown type", `{"type":"dance"}`, common.ErrUnknownType},
		{"empty username", `{"type":"auth","username":"   "}`, common.ErrValidation},
		{"long username", `{"type":"auth","username":"` + strings.Repeat("x", MaxUsernameLen+1) + `"}`, common.ErrValidation},
		{"wrong field type", `{"type":"auth","username":42}`, common.ErrValidation},
		{"register without email", `{"type":"register","password":"p","username":"u"}`, common.ErrValidation},
		{"login without password", `{"type":"login","email":"a@b.c"}`, common.ErrValidation},
		{"create room without name", `{"type":"create_room","name":" "}`, common.ErrValidation},
		{"join room without id", `{"type":"join_room"}`, common.ErrValidation},
		{"message without room", `{"type":"message","content":"hi"}`, common.ErrValidation},
		{"empty message", `{"type":"message","room":"r","content":"  "}`, common.ErrValidation},
		{"message too long", `{"type":"message","room":"r","content":"` + strings.Repeat("y", MaxContentLen+1) + `"}`, common.ErrValidation},
		{"invalid status", `{"type":"status","status":"sleeping"}`, common.ErrValidation},
		{"typing without room", `{"type":"typing","isTyping":true}`, common.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			assert.Nil(t, got)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNormalizeUsername(t *testing.T) {
	name, err := NormalizeUsername("  Ünïcode  ")
	require.NoError(t, err)
	assert.Equal(t, "Ünïcode", name)

	_, err = NormalizeUsername(strings.Repeat("é", MaxUsernameLen))
	assert.NoError(t, err)

	_, err = NormalizeUsername("")
	assert.Error(t, err)
}
