package coordinator

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/dmitrijs2005/pairchat/internal/server/models"
	"github.com/dmitrijs2005/pairchat/internal/server/protocol"
	"github.com/dmitrijs2005/pairchat/internal/storage"
)

func toRoom(r *models.PublicRoom) protocol.Room {
	return protocol.Room{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		CreatedBy:    r.CreatedBy.String,
		MaxUsers:     r.MaxUsers,
		CurrentUsers: r.CurrentUsers,
	}
}

func toChatMessage(m storage.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:        m.ID,
		From:      m.From,
		Content:   m.Content,
		Room:      m.Room,
		Timestamp: m.Timestamp.UnixMilli(),
	}
}

func (c *Coordinator) handleCreateRoom(ctx context.Context, s *session, m *protocol.CreateRoom) error {
	if !s.durable {
		return fmt.Errorf("%w: only registered users can create rooms", common.ErrForbidden)
	}
	dir, err := c.directory()
	if err != nil {
		return err
	}

	room, err := dir.CreateRoom(ctx, s.accountID, m.Name, m.Description)
	if err != nil {
		return err
	}

	c.logger.Info(ctx, "room created", "room", room.ID, "owner", s.username)
	c.send(ctx, s.conn, protocol.RoomCreated{Room: toRoom(room)})
	return nil
}

func (c *Coordinator) handleGetRooms(ctx context.Context, s *session) error {
	dir, err := c.directory()
	if err != nil {
		return err
	}

	list, err := dir.ListRooms(ctx)
	if err != nil {
		return err
	}

	rooms := make([]protocol.Room, 0, len(list))
	for i := range list {
		rooms = append(rooms, toRoom(&list[i]))
	}
	c.send(ctx, s.conn, protocol.RoomsList{Rooms: rooms})
	return nil
}

func (c *Coordinator) handleJoinRoom(ctx context.Context, s *session, roomID string) error {
	if _, ok := c.rooms[roomID]; ok {
		return fmt.Errorf("%w: %s is a private match room", common.ErrForbidden, roomID)
	}
	dir, err := c.directory()
	if err != nil {
		return err
	}

	room, err := dir.JoinRoom(ctx, roomID, s.username)
	if err != nil {
		return err
	}

	s.rooms[roomID] = struct{}{}
	subs := c.named[roomID]
	if subs == nil {
		subs = make(map[string]struct{})
		c.named[roomID] = subs
	}
	subs[s.conn.ID()] = struct{}{}

	c.send(ctx, s.conn, protocol.RoomJoined{Room: toRoom(room)})
	c.broadcastRoomUsers(ctx, roomID)

	history := c.store.Messages(ctx, roomID, c.opts.HistoryLimit)
	msgs := make([]protocol.ChatMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, toChatMessage(m))
	}
	c.send(ctx, s.conn, protocol.MessageHistory{Room: roomID, Messages: msgs})

	c.logger.Debug(ctx, "user joined room", "user", s.username, "room", roomID)
	return nil
}

// handleLeaveRoom leaves a named room, or the current match room when
// roomID is empty or names it.
func (c *Coordinator) handleLeaveRoom(ctx context.Context, s *session, roomID string) error {
	if s.matchRoom != "" && (roomID == "" || roomID == s.matchRoom) {
		c.closeMatchRoom(ctx, s, true)
		c.tryMatch(ctx)
		return nil
	}
	if roomID == "" {
		return nil
	}
	if _, ok := s.rooms[roomID]; !ok {
		return fmt.Errorf("%w: %s", common.ErrNotRoomMember, roomID)
	}

	c.leaveNamedRoom(ctx, s, roomID)
	c.send(ctx, s.conn, protocol.LeftRoom{Room: roomID})
	return nil
}

// leaveNamedRoom drops s from roomID locally and in the directory. A
// directory failure does not keep the session in the room.
func (c *Coordinator) leaveNamedRoom(ctx context.Context, s *session, roomID string) {
	delete(s.rooms, roomID)
	if subs := c.named[roomID]; subs != nil {
		delete(subs, s.conn.ID())
		if len(subs) == 0 {
			delete(c.named, roomID)
		}
	}

	if c.dir != nil {
		if err := c.dir.LeaveRoom(ctx, roomID, s.username); err != nil {
			c.logger.Warn(ctx, "directory leave failed", "user", s.username, "room", roomID, "error", err)
		}
	}
	c.broadcastRoomUsers(ctx, roomID)
}

// broadcastRoomUsers sends the online member list of a named room to its
// local subscribers. The directory's view is preferred; the local one is
// used when the directory cannot answer.
func (c *Coordinator) broadcastRoomUsers(ctx context.Context, roomID string) {
	subs := c.named[roomID]
	if len(subs) == 0 {
		return
	}

	var users []string
	if c.dir != nil {
		members, err := c.dir.RoomMembers(ctx, roomID)
		if err == nil {
			users = make([]string, 0, len(members))
			for _, m := range members {
				users = append(users, m.Username)
			}
		} else {
			c.logger.Warn(ctx, "directory members lookup failed", "room", roomID, "error", err)
		}
	}
	if users == nil {
		users = c.localMembers(roomID)
	}

	out := protocol.RoomUsers{Room: roomID, Users: users}
	for _, s := range c.roomSessions(roomID) {
		c.send(ctx, s.conn, out)
	}
}

func (c *Coordinator) localMembers(roomID string) []string {
	sessions := c.roomSessions(roomID)
	users := make([]string, 0, len(sessions))
	for _, s := range sessions {
		users = append(users, s.username)
	}
	sort.Strings(users)
	return users
}

// roomSessions returns the live sessions in roomID, which may be the
// sender's match room or a named room.
func (c *Coordinator) roomSessions(roomID string) []*session {
	if room, ok := c.rooms[roomID]; ok {
		var out []*session
		for _, name := range room.members {
			if s := c.lookup(name); s != nil && s.matchRoom == roomID {
				out = append(out, s)
			}
		}
		return out
	}

	subs := c.named[roomID]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*session, 0, len(ids))
	for _, id := range ids {
		if s := c.sessions[id]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *Coordinator) isMember(s *session, roomID string) bool {
	if roomID == s.matchRoom && roomID != "" {
		return true
	}
	_, ok := s.rooms[roomID]
	return ok
}

func (c *Coordinator) handleMessage(ctx context.Context, s *session, m *protocol.SendMessage) error {
	if !c.isMember(s, m.Room) {
		return fmt.Errorf("%w: %s", common.ErrNotRoomMember, m.Room)
	}

	msg := c.store.AppendMessage(ctx, m.Room, s.username, m.Content)
	out := toChatMessage(msg)
	for _, peer := range c.roomSessions(m.Room) {
		c.send(ctx, peer.conn, out)
	}
	return nil
}

func (c *Coordinator) handleTyping(ctx context.Context, s *session, m *protocol.Typing) error {
	if !c.isMember(s, m.Room) {
		return fmt.Errorf("%w: %s", common.ErrNotRoomMember, m.Room)
	}

	out := protocol.TypingStatus{Room: m.Room, Username: s.username, IsTyping: m.IsTyping}
	for _, peer := range c.roomSessions(m.Room) {
		if peer != s {
			c.send(ctx, peer.conn, out)
		}
	}
	return nil
}
