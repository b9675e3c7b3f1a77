package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/dmitrijs2005/pairchat/internal/logging"
	"github.com/dmitrijs2005/pairchat/internal/server/models"
	"github.com/dmitrijs2005/pairchat/internal/server/protocol"
	"github.com/dmitrijs2005/pairchat/internal/server/services"
	"github.com/dmitrijs2005/pairchat/internal/storage"
	"github.com/stretchr/testify/require"
)

// --- connection ---

type fakeConn struct {
	id   string
	mu   sync.Mutex
	sent []protocol.Outbound
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(o protocol.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, o)
	return nil
}

func (f *fakeConn) frames() []protocol.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Outbound, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

func framesOf[T protocol.Outbound](conn *fakeConn) []T {
	var out []T
	for _, f := range conn.frames() {
		if v, ok := f.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// --- store ---

type fakeStore struct {
	mu       sync.Mutex
	values   map[string]any
	ttls     map[string]time.Duration
	deleted  []string
	messages map[string][]storage.Message
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values:   map[string]any{},
		ttls:     map[string]time.Duration{},
		messages: map[string][]storage.Message{},
	}
}

func (f *fakeStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	f.deleted = append(f.deleted, key)
}

func (f *fakeStore) AppendMessage(ctx context.Context, room, from, content string) storage.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m := storage.Message{
		ID:        "m" + strconv.Itoa(f.seq),
		Room:      room,
		From:      from,
		Content:   content,
		Timestamp: time.UnixMilli(int64(f.seq) * 1000).UTC(),
	}
	f.messages[room] = append(f.messages[room], m)
	return m
}

func (f *fakeStore) Messages(ctx context.Context, room string, limit int) []storage.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[room]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]storage.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (f *fakeStore) value(key string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

// --- directory ---

type fakeDirectory struct {
	byEmail   map[string]*models.Account
	passwords map[string]string
	tokens    map[string]*models.Account
	rooms     map[string]*models.PublicRoom
	members   map[string][]string
	nextID    int
	panicList bool
	// hangLeave makes LeaveRoom block until its context ends.
	hangLeave bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byEmail:   map[string]*models.Account{},
		passwords: map[string]string{},
		tokens:    map[string]*models.Account{},
		rooms:     map[string]*models.PublicRoom{},
		members:   map[string][]string{},
	}
}

func (f *fakeDirectory) issue(a *models.Account) *services.AccountSession {
	f.nextID++
	token := "tok-" + strconv.Itoa(f.nextID)
	f.tokens[token] = a
	return &services.AccountSession{Account: a, Token: token}
}

func (f *fakeDirectory) Register(ctx context.Context, email, password, username string) (*services.AccountSession, error) {
	for _, a := range f.byEmail {
		if a.Email == email || a.Username == username {
			return nil, common.ErrAlreadyExists
		}
	}
	f.nextID++
	a := &models.Account{ID: "acc-" + strconv.Itoa(f.nextID), Email: email, Username: username, IsActive: true}
	f.byEmail[email] = a
	f.passwords[email] = password
	return f.issue(a), nil
}

func (f *fakeDirectory) Login(ctx context.Context, email, password string) (*services.AccountSession, error) {
	a, ok := f.byEmail[email]
	if !ok || f.passwords[email] != password {
		return nil, common.ErrorUnauthorized
	}
	return f.issue(a), nil
}

func (f *fakeDirectory) Resume(ctx context.Context, token string) (*services.AccountSession, error) {
	a, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrInvalidToken
	}
	return f.issue(a), nil
}

func (f *fakeDirectory) CreateRoom(ctx context.Context, accountID, name, description string) (*models.PublicRoom, error) {
	f.nextID++
	r := &models.PublicRoom{
		ID:          fmt.Sprintf("room_named%d", f.nextID),
		Name:        name,
		Description: description,
		MaxUsers:    models.DefaultMaxUsers,
	}
	r.CreatedBy.String, r.CreatedBy.Valid = accountID, true
	f.rooms[r.ID] = r
	return r, nil
}

func (f *fakeDirectory) ListRooms(ctx context.Context) ([]models.PublicRoom, error) {
	if f.panicList {
		panic("list exploded")
	}
	out := make([]models.PublicRoom, 0, len(f.rooms))
	for _, r := range f.rooms {
		cp := *r
		cp.CurrentUsers = len(f.members[r.ID])
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDirectory) JoinRoom(ctx context.Context, roomID, username string) (*models.PublicRoom, error) {
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	members := f.members[roomID]
	for _, m := range members {
		if m == username {
			return f.snapshot(r), nil
		}
	}
	if len(members) >= r.MaxUsers {
		return nil, common.ErrRoomFull
	}
	f.members[roomID] = append(members, username)
	return f.snapshot(r), nil
}

func (f *fakeDirectory) snapshot(r *models.PublicRoom) *models.PublicRoom {
	cp := *r
	cp.CurrentUsers = len(f.members[r.ID])
	return &cp
}

func (f *fakeDirectory) LeaveRoom(ctx context.Context, roomID, username string) error {
	if f.hangLeave {
		<-ctx.Done()
		return ctx.Err()
	}
	kept := f.members[roomID][:0]
	for _, m := range f.members[roomID] {
		if m != username {
			kept = append(kept, m)
		}
	}
	f.members[roomID] = kept
	return nil
}

func (f *fakeDirectory) RoomMembers(ctx context.Context, roomID string) ([]models.RoomMember, error) {
	out := make([]models.RoomMember, 0, len(f.members[roomID]))
	for _, m := range f.members[roomID] {
		out = append(out, models.RoomMember{RoomID: roomID, Username: m, IsOnline: true})
	}
	return out, nil
}

// --- clock ---

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// --- harness ---

// harness drives a Coordinator synchronously, bypassing the event channel,
// and checks the session invariants after every step.
type harness struct {
	t     *testing.T
	ctx   context.Context
	c     *Coordinator
	store *fakeStore
	dir   *fakeDirectory
	clock *fakeClock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: newFakeStore(),
		dir:   newFakeDirectory(),
		clock: &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts.Now = h.clock.Now
	h.c = New(h.store, h.dir, logging.Discard(), opts)
	return h
}

func (h *harness) connect(id string) *fakeConn {
	conn := &fakeConn{id: id}
	h.c.handle(h.ctx, connectEvent{conn: conn})
	h.checkInvariants()
	return conn
}

func (h *harness) send(conn *fakeConn, in protocol.Inbound) {
	h.c.handle(h.ctx, frameEvent{connID: conn.id, in: in})
	h.checkInvariants()
}

func (h *harness) disconnect(conn *fakeConn) {
	h.c.handle(h.ctx, disconnectEvent{connID: conn.id})
	h.checkInvariants()
}

// user connects and authenticates an ephemeral identity, then clears the
// frames sent so far.
func (h *harness) user(name string) *fakeConn {
	conn := h.connect("conn-" + name)
	h.send(conn, &protocol.Auth{Username: name})
	require.Len(h.t, framesOf[protocol.AuthResponse](conn), 1, "auth %s", name)
	conn.reset()
	return conn
}

func (h *harness) lastError(conn *fakeConn) protocol.Error {
	errs := framesOf[protocol.Error](conn)
	require.NotEmpty(h.t, errs, "expected an error reply on %s", conn.id)
	return errs[len(errs)-1]
}

// checkInvariants asserts that no session is both queued and in a match
// room, that every match room is referenced by exactly its two members and
// that the queue holds only queued sessions, once each.
func (h *harness) checkInvariants() {
	h.t.Helper()
	c := h.c

	inQueue := map[string]int{}
	for _, name := range c.queue {
		inQueue[name]++
	}
	for name, n := range inQueue {
		require.Equal(h.t, 1, n, "%s queued more than once", name)
		s := c.lookup(name)
		require.NotNil(h.t, s, "queue holds vanished identity %s", name)
		require.True(h.t, s.queued, "queue holds %s which is not flagged queued", name)
	}

	for _, s := range c.sessions {
		if s.queued {
			require.Equal(h.t, 1, inQueue[s.username], "%s flagged queued but not in queue", s.username)
		}
		if s.matchRoom == "" {
			continue
		}
		require.False(h.t, s.queued, "%s is both queued and in %s", s.username, s.matchRoom)

		refs := 0
		for _, r := range c.rooms {
			if r.members[0] == s.username || r.members[1] == s.username {
				refs++
				require.Equal(h.t, s.matchRoom, r.id)
			}
		}
		require.Equal(h.t, 1, refs, "%s referenced by %d rooms", s.username, refs)
	}

	for id, r := range c.rooms {
		for _, name := range r.members {
			s := c.lookup(name)
			require.NotNil(h.t, s, "room %s holds vanished %s", id, name)
			require.Equal(h.t, id, s.matchRoom)
		}
	}
}
