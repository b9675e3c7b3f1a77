package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/dmitrijs2005/pairchat/internal/server/config"
	"github.com/dmitrijs2005/pairchat/internal/server/models"
	"github.com/dmitrijs2005/pairchat/internal/server/repositories/repomanager"
)

func newSQLiteDirectory(t *testing.T) *DirectoryService {
	t.Helper()
	db, rm, err := repomanager.Open("sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, rm.RunMigrations(context.Background(), db))

	cfg := &config.Config{
		SecretKey:             "k",
		TokenValidityDuration: time.Hour,
		BcryptCost:            bcrypt.MinCost,
	}
	return NewDirectoryService(db, rm, cfg)
}

func TestDirectory_SQLiteEndToEnd(t *testing.T) {
	s := newSQLiteDirectory(t)
	ctx := context.Background()

	reg, err := s.Register(ctx, "alice@example.com", "password1", "alice")
	require.NoError(t, err)

	_, err = s.Register(ctx, "alice@example.com", "password1", "alice2")
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	login, err := s.Login(ctx, "alice@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID, login.Account.ID)

	resumed, err := s.Resume(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", resumed.Account.Username)

	room, err := s.CreateRoom(ctx, reg.Account.ID, "Lobby", "general")
	require.NoError(t, err)

	joined, err := s.JoinRoom(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, joined.CurrentUsers)

	joined, err = s.JoinRoom(ctx, room.ID, "guest_1")
	require.NoError(t, err)
	assert.Equal(t, 2, joined.CurrentUsers)

	members, err := s.RoomMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].Username)

	require.NoError(t, s.LeaveRoom(ctx, room.ID, "alice"))
	members, err = s.RoomMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "guest_1", members[0].Username)

	rooms, err := s.ListRooms(ctx)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, r := range rooms {
		ids[r.ID] = true
	}
	assert.True(t, ids[room.ID])
	assert.True(t, ids[models.MatchRoomID])

	_, err = s.JoinRoom(ctx, "room_missing", "alice")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDirectory_SQLiteResetPresenceAfterRestart(t *testing.T) {
	db, rm, err := repomanager.Open("sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, rm.RunMigrations(ctx, db))

	cfg := &config.Config{SecretKey: "k", TokenValidityDuration: time.Hour, BcryptCost: bcrypt.MinCost}
	before := NewDirectoryService(db, rm, cfg)

	small, err := rm.Rooms(db).Create(ctx, &models.PublicRoom{ID: "room_small", Name: "small", MaxUsers: 1})
	require.NoError(t, err)
	_, err = before.JoinRoom(ctx, small.ID, "alice")
	require.NoError(t, err)

	// the process died without alice's disconnect reaching the directory
	after := NewDirectoryService(db, rm, cfg)
	_, err = after.JoinRoom(ctx, small.ID, "bob")
	require.ErrorIs(t, err, common.ErrRoomFull)

	n, err := after.ResetPresence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	joined, err := after.JoinRoom(ctx, small.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, joined.CurrentUsers)
}
