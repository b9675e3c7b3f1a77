package coordinator

import (
	"time"

	"github.com/dmitrijs2005/pairchat/internal/server/protocol"
)

// session is the per-connection state. It is created on connect and
// becomes authenticated on the first successful auth, register or login.
type session struct {
	conn Conn

	authenticated bool
	durable       bool
	username      string
	accountID     string
	email         string

	status    string
	queued    bool
	matchRoom string              // ephemeral room id, empty when none
	rooms     map[string]struct{} // joined named rooms

	lastPing  time.Time
	connected time.Time
}

func (s *session) user() protocol.User {
	return protocol.User{
		Username: s.username,
		ID:       s.accountID,
		Email:    s.email,
		Durable:  s.durable,
	}
}

func (s *session) bind(username string) {
	s.authenticated = true
	s.username = username
}
