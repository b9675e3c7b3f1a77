package coordinator

import (
	"context"

	"github.com/dmitrijs2005/pairchat/internal/server/protocol"
)

// handleStatus records s's presence and tells everyone sharing a room with
// s, including s.
func (c *Coordinator) handleStatus(ctx context.Context, s *session, status string) {
	s.status = status

	seen := map[*session]struct{}{s: {}}
	peers := []*session{s}
	rooms := make([]string, 0, len(s.rooms)+1)
	if s.matchRoom != "" {
		rooms = append(rooms, s.matchRoom)
	}
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	for _, id := range rooms {
		for _, p := range c.roomSessions(id) {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				peers = append(peers, p)
			}
		}
	}

	out := protocol.UserStatus{Username: s.username, Status: status}
	for _, p := range peers {
		c.send(ctx, p.conn, out)
	}
}

// handlePing answers with the milliseconds since the previous ping, or
// since connect for the first one.
func (c *Coordinator) handlePing(ctx context.Context, s *session) error {
	now := c.opts.Now()
	ms := now.Sub(s.lastPing).Milliseconds()
	s.lastPing = now
	c.send(ctx, s.conn, protocol.Pong{Ms: ms})
	return nil
}

// updateOnlineCount persists the connection count and broadcasts it to
// authenticated sessions.
func (c *Coordinator) updateOnlineCount(ctx context.Context) {
	count := len(c.sessions)
	c.persist(ctx, keyOnlineUsers, count, 0)

	out := protocol.OnlineCount{Count: count}
	for _, s := range c.sessions {
		if s.authenticated {
			c.send(ctx, s.conn, out)
		}
	}
	c.logger.Debug(ctx, "online count updated", "count", count)
}
