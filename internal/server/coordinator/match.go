package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/dmitrijs2005/pairchat/internal/server/protocol"
)

const queueJoinedMessage = "waiting for another user to join"

// matchRoom is an ephemeral two-party room created by the matcher.
type matchRoom struct {
	id        string
	members   [2]string
	createdAt time.Time
}

func (r *matchRoom) partnerOf(username string) string {
	if r.members[0] == username {
		return r.members[1]
	}
	return r.members[0]
}

func (c *Coordinator) handleJoinQueue(ctx context.Context, s *session) error {
	if s.matchRoom != "" {
		return fmt.Errorf("%w: already in room %s", common.ErrForbidden, s.matchRoom)
	}
	if s.queued {
		c.send(ctx, s.conn, protocol.QueueJoined{Message: queueJoinedMessage})
		return nil
	}

	c.enqueue(ctx, s)
	c.persistQueue(ctx)
	c.tryMatch(ctx)
	return nil
}

func (c *Coordinator) handleLeaveQueue(ctx context.Context, s *session) {
	if !s.queued {
		return
	}
	c.removeFromQueue(s)
	c.persistQueue(ctx)
	c.logger.Debug(ctx, "user left queue", "user", s.username)
}

func (c *Coordinator) enqueue(ctx context.Context, s *session) {
	s.queued = true
	c.queue = append(c.queue, s.username)
	c.send(ctx, s.conn, protocol.QueueJoined{Message: queueJoinedMessage})
}

func (c *Coordinator) removeFromQueue(s *session) {
	s.queued = false
	kept := c.queue[:0]
	for _, name := range c.queue {
		if name != s.username {
			kept = append(kept, name)
		}
	}
	c.queue = kept
}

// tryMatch pairs the two oldest queue entries until fewer than two remain.
// An entry whose identity is no longer connected is dropped; its valid
// counterpart goes back to the head of the queue.
func (c *Coordinator) tryMatch(ctx context.Context) {
	changed := false
	for len(c.queue) >= 2 {
		first, second := c.queue[0], c.queue[1]
		c.queue = c.queue[2:]
		changed = true

		a, b := c.queuedSession(first), c.queuedSession(second)
		switch {
		case a == nil && b == nil:
			continue
		case a == nil:
			c.queue = append([]string{second}, c.queue...)
			continue
		case b == nil:
			c.queue = append([]string{first}, c.queue...)
			continue
		}

		c.openMatchRoom(ctx, a, b)
	}
	if changed {
		c.persistQueue(ctx)
	}
}

func (c *Coordinator) queuedSession(username string) *session {
	s := c.lookup(username)
	if s == nil || !s.queued {
		return nil
	}
	return s
}

func (c *Coordinator) openMatchRoom(ctx context.Context, a, b *session) {
	c.counter++
	id := "room_" + strconv.FormatUint(c.counter, 10)
	if c.opts.InstanceID != "" {
		id = "room_" + c.opts.InstanceID + "_" + strconv.FormatUint(c.counter, 10)
	}

	room := &matchRoom{id: id, members: [2]string{a.username, b.username}, createdAt: c.opts.Now()}
	c.rooms[id] = room
	for _, s := range []*session{a, b} {
		s.queued = false
		s.matchRoom = id
	}
	c.persist(ctx, roomKeyPrefix+id, room.members, 0)

	c.send(ctx, a.conn, protocol.MatchJoined{RoomID: id, Partner: b.username})
	c.send(ctx, b.conn, protocol.MatchJoined{RoomID: id, Partner: a.username})
	c.logger.Info(ctx, "match room created", "room", id, "members", room.members)
}

// closeMatchRoom destroys s's ephemeral room. The partner, when still
// connected, is told and requeued; s itself is requeued only if requeueSelf.
func (c *Coordinator) closeMatchRoom(ctx context.Context, s *session, requeueSelf bool) {
	id := s.matchRoom
	room := c.rooms[id]
	delete(c.rooms, id)
	c.store.Delete(ctx, roomKeyPrefix+id)
	s.matchRoom = ""

	if room == nil {
		return
	}

	if requeueSelf {
		c.send(ctx, s.conn, protocol.LeftRoom{Room: id})
		c.enqueue(ctx, s)
	}
	if partner := c.lookup(room.partnerOf(s.username)); partner != nil && partner.matchRoom == id {
		partner.matchRoom = ""
		c.send(ctx, partner.conn, protocol.PartnerLeft{RoomID: id, Message: "your partner left the room"})
		c.enqueue(ctx, partner)
	}

	c.persistQueue(ctx)
	c.logger.Info(ctx, "match room closed", "room", id, "by", s.username)
}

func (c *Coordinator) persistQueue(ctx context.Context) {
	snapshot := make([]string, len(c.queue))
	copy(snapshot, c.queue)
	c.persist(ctx, keyMatchQueue, snapshot, 0)
}
