package coordinator

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/dmitrijs2005/pairchat/internal/server/protocol"
	"github.com/dmitrijs2005/pairchat/internal/server/services"
)

func (c *Coordinator) checkFresh(s *session) error {
	if s.authenticated {
		return fmt.Errorf("%w: already authenticated as %q", common.ErrValidation, s.username)
	}
	return nil
}

func (c *Coordinator) checkAvailable(username string) error {
	if _, taken := c.online[username]; taken {
		return fmt.Errorf("%w: username %q is already online", common.ErrAlreadyExists, username)
	}
	return nil
}

// handleAuth binds an ephemeral identity.
func (c *Coordinator) handleAuth(ctx context.Context, s *session, m *protocol.Auth) error {
	if err := c.checkFresh(s); err != nil {
		return err
	}
	if err := c.checkAvailable(m.Username); err != nil {
		return err
	}

	s.bind(m.Username)
	c.online[s.username] = s.conn.ID()

	if len(m.Tracking) > 0 {
		c.persist(ctx, trackingPrefix+s.username, m.Tracking, trackingTTL)
	}

	c.logger.Info(ctx, "user authenticated", "user", s.username, "conn", s.conn.ID())
	c.send(ctx, s.conn, protocol.AuthResponse{Success: true, User: s.user()})
	c.send(ctx, s.conn, protocol.OnlineCount{Count: len(c.sessions)})
	return nil
}

func (c *Coordinator) handleRegister(ctx context.Context, s *session, m *protocol.Register) error {
	if err := c.checkFresh(s); err != nil {
		return err
	}
	dir, err := c.directory()
	if err != nil {
		return err
	}
	if err := c.checkAvailable(m.Username); err != nil {
		return err
	}

	as, err := dir.Register(ctx, m.Email, m.Password, m.Username)
	if err != nil {
		return err
	}
	if err := c.bindDurable(s, as); err != nil {
		return err
	}

	c.logger.Info(ctx, "account registered", "user", s.username, "account", s.accountID)
	c.send(ctx, s.conn, protocol.RegisterResponse{Success: true, User: s.user(), Token: as.Token})
	c.send(ctx, s.conn, protocol.OnlineCount{Count: len(c.sessions)})
	return nil
}

// handleLogin authenticates with credentials, or resumes a durable identity
// from a session token.
func (c *Coordinator) handleLogin(ctx context.Context, s *session, m *protocol.Login) error {
	if err := c.checkFresh(s); err != nil {
		return err
	}
	dir, err := c.directory()
	if err != nil {
		return err
	}

	var as *services.AccountSession
	if m.Token != "" {
		as, err = dir.Resume(ctx, m.Token)
	} else {
		as, err = dir.Login(ctx, m.Email, m.Password)
	}
	if err != nil {
		return err
	}
	if err := c.bindDurable(s, as); err != nil {
		return err
	}

	c.logger.Info(ctx, "user logged in", "user", s.username, "account", s.accountID)
	c.send(ctx, s.conn, protocol.LoginResponse{Success: true, User: s.user(), Token: as.Token})
	c.send(ctx, s.conn, protocol.OnlineCount{Count: len(c.sessions)})
	return nil
}

func (c *Coordinator) bindDurable(s *session, as *services.AccountSession) error {
	if err := c.checkAvailable(as.Account.Username); err != nil {
		return err
	}
	s.bind(as.Account.Username)
	s.durable = true
	s.accountID = as.Account.ID
	s.email = as.Account.Email
	c.online[s.username] = s.conn.ID()
	return nil
}
