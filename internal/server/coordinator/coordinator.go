// Package coordinator implements the session and matchmaking state machine.
//
// A Coordinator owns every session, the match queue and the ephemeral room
// table. All of that state is touched only by the goroutine running Run:
// connection events are submitted over a channel and each one is handled to
// completion before the next, so matching needs no locks. Storage and
// directory calls made while handling an event are the only suspension
// points.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/dmitrijs2005/pairchat/internal/logging"
	"github.com/dmitrijs2005/pairchat/internal/server/models"
	"github.com/dmitrijs2005/pairchat/internal/server/protocol"
	"github.com/dmitrijs2005/pairchat/internal/server/services"
	"github.com/dmitrijs2005/pairchat/internal/storage"
)

// ErrStopped is returned by submissions after Run has returned.
var ErrStopped = errors.New("coordinator stopped")

// Persisted key layout.
const (
	keyMatchQueue  = "matchQueue"
	keyOnlineUsers = "onlineUsers"
	roomKeyPrefix  = "rooms:"
	trackingPrefix = "tracking:"

	trackingTTL = 600 * time.Second
)

const (
	DefaultHistoryLimit   = 50
	DefaultEventBuffer    = 1024
	DefaultRequestTimeout = 5 * time.Second
)

// Conn is the coordinator's handle on a client connection. Send must not
// block; the gateway enqueues the frame and writes it asynchronously.
type Conn interface {
	ID() string
	Send(protocol.Outbound) error
}

// Store is the subset of storage.ResilientStore the coordinator uses.
type Store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string)
	AppendMessage(ctx context.Context, room, from, content string) storage.Message
	Messages(ctx context.Context, room string, limit int) []storage.Message
}

// Directory is the room directory: durable accounts and named rooms.
type Directory interface {
	Register(ctx context.Context, email, password, username string) (*services.AccountSession, error)
	Login(ctx context.Context, email, password string) (*services.AccountSession, error)
	Resume(ctx context.Context, token string) (*services.AccountSession, error)
	CreateRoom(ctx context.Context, accountID, name, description string) (*models.PublicRoom, error)
	ListRooms(ctx context.Context) ([]models.PublicRoom, error)
	JoinRoom(ctx context.Context, roomID, username string) (*models.PublicRoom, error)
	LeaveRoom(ctx context.Context, roomID, username string) error
	RoomMembers(ctx context.Context, roomID string) ([]models.RoomMember, error)
}

// Options tune a Coordinator. InstanceID, when set, is embedded in ephemeral
// room ids. RequestTimeout bounds the storage and directory calls made while
// handling one frame.
type Options struct {
	InstanceID     string
	HistoryLimit   int
	EventBuffer    int
	RequestTimeout time.Duration
	Now            func() time.Time
}

type event interface{}

type connectEvent struct {
	conn Conn
}

type frameEvent struct {
	connID string
	in     protocol.Inbound
}

type disconnectEvent struct {
	connID string
}

// Coordinator routes connection events through the session state machine.
type Coordinator struct {
	store  Store
	dir    Directory
	logger logging.Logger
	opts   Options

	events chan event
	done   chan struct{}

	sessions map[string]*session // by connection id
	online   map[string]string   // username -> connection id
	queue    []string            // waiting usernames, oldest first
	rooms    map[string]*matchRoom
	named    map[string]map[string]struct{} // named room id -> local connection ids
	counter  uint64
}

// New builds a Coordinator. dir may be nil, in which case durable identities
// and named rooms are reported as unavailable.
func New(store Store, dir Directory, logger logging.Logger, opts Options) *Coordinator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Coordinator{
		store:    store,
		dir:      dir,
		logger:   logger.With("module", "coordinator"),
		opts:     opts,
		events:   make(chan event, opts.EventBuffer),
		done:     make(chan struct{}),
		sessions: make(map[string]*session),
		online:   make(map[string]string),
		rooms:    make(map[string]*matchRoom),
		named:    make(map[string]map[string]struct{}),
	}
}

// Connect registers a new, unauthenticated connection.
func (c *Coordinator) Connect(ctx context.Context, conn Conn) error {
	return c.submit(ctx, connectEvent{conn: conn})
}

// Dispatch hands a decoded frame from connID to the event loop.
func (c *Coordinator) Dispatch(ctx context.Context, connID string, in protocol.Inbound) error {
	return c.submit(ctx, frameEvent{connID: connID, in: in})
}

// Disconnect removes connID's session and notifies its peers.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) error {
	return c.submit(ctx, disconnectEvent{connID: connID})
}

func (c *Coordinator) submit(ctx context.Context, ev event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled. It must be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	// The in-memory queue is authoritative; start from a clean snapshot.
	c.persistQueue(ctx)
	c.persist(ctx, keyOnlineUsers, 0, 0)

	c.logger.Info(ctx, "coordinator started", "instance", c.opts.InstanceID)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info(ctx, "coordinator stopped", "sessions", len(c.sessions))
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev event) {
	var replyTo Conn
	if fe, ok := ev.(frameEvent); ok {
		if s := c.sessions[fe.connID]; s != nil {
			replyTo = s.conn
		}
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(ctx, "event handler panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			if replyTo != nil {
				c.send(ctx, replyTo, protocol.ErrorFrom(common.ErrorInternal))
			}
		}
	}()

	switch ev := ev.(type) {
	case connectEvent:
		c.handleConnect(ctx, ev.conn)
	case frameEvent:
		c.handleFrame(ctx, ev.connID, ev.in)
	case disconnectEvent:
		c.handleDisconnect(ctx, ev.connID)
	}
}

func (c *Coordinator) handleConnect(ctx context.Context, conn Conn) {
	if _, ok := c.sessions[conn.ID()]; ok {
		return
	}
	now := c.opts.Now()
	c.sessions[conn.ID()] = &session{
		conn:      conn,
		status:    protocol.StatusOnline,
		rooms:     make(map[string]struct{}),
		lastPing:  now,
		connected: now,
	}
	c.logger.Debug(ctx, "connection opened", "conn", conn.ID())
	c.updateOnlineCount(ctx)
}

func (c *Coordinator) handleFrame(ctx context.Context, connID string, in protocol.Inbound) {
	s := c.sessions[connID]
	if s == nil {
		c.logger.Debug(ctx, "frame for unknown connection", "conn", connID, "type", in.Type())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	if err := c.route(ctx, s, in); err != nil {
		reply := protocol.ErrorFrom(err)
		if reply.Code == protocol.CodeInternal {
			c.logger.Error(ctx, "handler failed", "conn", connID, "type", in.Type(), "error", err)
		} else {
			c.logger.Debug(ctx, "request rejected", "conn", connID, "type", in.Type(), "error", err)
		}
		c.send(ctx, s.conn, reply)
	}
}

func (c *Coordinator) route(ctx context.Context, s *session, in protocol.Inbound) error {
	switch m := in.(type) {
	case *protocol.Auth:
		return c.handleAuth(ctx, s, m)
	case *protocol.Register:
		return c.handleRegister(ctx, s, m)
	case *protocol.Login:
		return c.handleLogin(ctx, s, m)
	case *protocol.Ping:
		return c.handlePing(ctx, s)
	}

	if !s.authenticated {
		return fmt.Errorf("%w: authenticate first", common.ErrorUnauthorized)
	}

	switch m := in.(type) {
	case *protocol.JoinMatchQueue:
		return c.handleJoinQueue(ctx, s)
	case *protocol.LeaveMatchQueue:
		c.handleLeaveQueue(ctx, s)
		return nil
	case *protocol.CreateRoom:
		return c.handleCreateRoom(ctx, s, m)
	case *protocol.GetRooms:
		return c.handleGetRooms(ctx, s)
	case *protocol.JoinRoom:
		return c.handleJoinRoom(ctx, s, m.Room)
	case *protocol.LeaveRoom:
		return c.handleLeaveRoom(ctx, s, m.Room)
	case *protocol.SendMessage:
		return c.handleMessage(ctx, s, m)
	case *protocol.SetStatus:
		c.handleStatus(ctx, s, m.Status)
		return nil
	case *protocol.Typing:
		return c.handleTyping(ctx, s, m)
	}
	return fmt.Errorf("%w: %q", common.ErrUnknownType, in.Type())
}

func (c *Coordinator) handleDisconnect(ctx context.Context, connID string) {
	s := c.sessions[connID]
	if s == nil {
		return
	}
	delete(c.sessions, connID)

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	if s.authenticated {
		if s.queued {
			c.removeFromQueue(s)
			c.persistQueue(ctx)
		}
		if s.matchRoom != "" {
			c.closeMatchRoom(ctx, s, false)
		}
		for room := range s.rooms {
			c.leaveNamedRoom(ctx, s, room)
		}
		if c.online[s.username] == connID {
			delete(c.online, s.username)
		}
		c.logger.Info(ctx, "user disconnected", "user", s.username, "conn", connID,
			"connected_for", c.opts.Now().Sub(s.connected).String())
	}

	c.tryMatch(ctx)
	c.updateOnlineCount(ctx)
}

// lookup resolves a username to its live session.
func (c *Coordinator) lookup(username string) *session {
	id, ok := c.online[username]
	if !ok {
		return nil
	}
	return c.sessions[id]
}

func (c *Coordinator) send(ctx context.Context, conn Conn, out protocol.Outbound) {
	if err := conn.Send(out); err != nil {
		c.logger.Debug(ctx, "send failed", "conn", conn.ID(), "type", out.OutboundType(), "error", err)
	}
}

// persist writes to the store. Only unencodable values fail here; backend
// outages are absorbed by the store.
func (c *Coordinator) persist(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn(ctx, "persist failed", "key", key, "error", err)
	}
}

func (c *Coordinator) directory() (Directory, error) {
	if c.dir == nil {
		return nil, fmt.Errorf("%w: room directory is not configured", common.ErrUnavailable)
	}
	return c.dir, nil
}
