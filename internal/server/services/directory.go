// Package services contains server-side business logic. This file implements
// DirectoryService, the room directory: durable accounts, public rooms and
// their memberships, backed by PostgreSQL or SQLite repositories.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/dmitrijs2005/pairchat/internal/dbx"
	"github.com/dmitrijs2005/pairchat/internal/server/auth"
	"github.com/dmitrijs2005/pairchat/internal/server/config"
	"github.com/dmitrijs2005/pairchat/internal/server/models"
	"github.com/dmitrijs2005/pairchat/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	minPasswordLen = 6
	maxPasswordLen = 72 // bcrypt input limit
	maxRoomNameLen = 255
)

// AccountSession is a durable identity together with a fresh session token.
type AccountSession struct {
	Account *models.Account
	Token   string
}

// DirectoryService provides:
// - Register / Login / Resume: durable identities and their session tokens
// - CreateRoom / ListRooms / GetRoom: public rooms
// - JoinRoom / LeaveRoom / RoomMembers: online membership with capacity checks
// - ResetPresence: startup cleanup of memberships left online by a crash
type DirectoryService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	hasher        *auth.Hasher
	jwtSecret     []byte
	tokenValidity time.Duration
	instanceID    string
}

// NewDirectoryService constructs a DirectoryService using repositories and server config.
func NewDirectoryService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *DirectoryService {
	return &DirectoryService{
		db:            db,
		repomanager:   m,
		hasher:        auth.NewHasher(cfg.BcryptCost),
		jwtSecret:     []byte(cfg.SecretKey),
		tokenValidity: cfg.TokenValidityDuration,
		instanceID:    cfg.InstanceID,
	}
}

// Register creates a durable account. A taken email or username yields
// common.ErrAlreadyExists.
func (s *DirectoryService) Register(ctx context.Context, email, password, username string) (*AccountSession, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", common.ErrValidation)
	}
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return nil, fmt.Errorf("%w: password must be %d to %d bytes", common.ErrValidation, minPasswordLen, maxPasswordLen)
	}

	hash, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, common.ErrorInternal
	}

	account := &models.Account{Email: email, Username: username, PasswordHash: hash}
	account, err = s.repomanager.Accounts(s.db).Create(ctx, account)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, fmt.Errorf("email or username: %w", common.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("error creating account: %w", err)
	}

	return s.issue(account)
}

// Login verifies credentials, records the login time and issues a token.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *DirectoryService) Login(ctx context.Context, email, password string) (*AccountSession, error) {
	repo := s.repomanager.Accounts(s.db)
	account, err := repo.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error searching account: %w", err)
	}

	if err := s.hasher.Compare(account.PasswordHash, []byte(password)); err != nil {
		return nil, common.ErrorUnauthorized
	}

	if err := repo.TouchLastLogin(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("error updating last login: %w", err)
	}

	return s.issue(account)
}

// Resume restores a durable identity from a previously issued token.
func (s *DirectoryService) Resume(ctx context.Context, token string) (*AccountSession, error) {
	accountID, err := auth.AccountIDFromToken(token, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}

	account, err := s.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}

	return s.issue(account)
}

func (s *DirectoryService) AccountByID(ctx context.Context, id string) (*models.Account, error) {
	return s.repomanager.Accounts(s.db).GetByID(ctx, id)
}

// CreateRoom creates a public room owned by accountID. Only active durable
// accounts may create rooms.
func (s *DirectoryService) CreateRoom(ctx context.Context, accountID, name, description string) (*models.PublicRoom, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxRoomNameLen {
		return nil, fmt.Errorf("%w: room name must be 1 to %d bytes", common.ErrValidation, maxRoomNameLen)
	}
	if accountID == "" {
		return nil, common.ErrForbidden
	}

	if _, err := s.AccountByID(ctx, accountID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrForbidden
		}
		return nil, err
	}

	room := &models.PublicRoom{
		ID:          "room_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:        name,
		Description: description,
		CreatedBy:   sql.NullString{String: accountID, Valid: true},
		MaxUsers:    models.DefaultMaxUsers,
	}

	room, err := s.repomanager.Rooms(s.db).Create(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("error creating room: %w", err)
	}
	return room, nil
}

func (s *DirectoryService) ListRooms(ctx context.Context) ([]models.PublicRoom, error) {
	return s.repomanager.Rooms(s.db).List(ctx)
}

func (s *DirectoryService) GetRoom(ctx context.Context, roomID string) (*models.PublicRoom, error) {
	return s.repomanager.Rooms(s.db).Get(ctx, roomID)
}

// JoinRoom marks username online in roomID. The capacity check and the
// membership write run in one transaction holding the room row lock, so
// concurrent joins cannot overfill a room. Rejoining does not count twice.
func (s *DirectoryService) JoinRoom(ctx context.Context, roomID, username string) (*models.PublicRoom, error) {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Rooms(tx)

		maxUsers, err := repo.LockCapacity(ctx, roomID)
		if err != nil {
			return err
		}
		online, err := repo.CountOnline(ctx, roomID, username)
		if err != nil {
			return err
		}
		if maxUsers > 0 && online >= maxUsers {
			return common.ErrRoomFull
		}
		return repo.SetOnline(ctx, roomID, username, s.instanceID)
	})
	if err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, roomID)
}

func (s *DirectoryService) LeaveRoom(ctx context.Context, roomID, username string) error {
	return s.repomanager.Rooms(s.db).SetOffline(ctx, roomID, username)
}

// ResetPresence marks offline every membership this instance left online,
// e.g. when the previous process died without running its disconnects.
// Memberships held by other instances are untouched.
func (s *DirectoryService) ResetPresence(ctx context.Context) (int64, error) {
	return s.repomanager.Rooms(s.db).ResetOnline(ctx, s.instanceID)
}

func (s *DirectoryService) RoomMembers(ctx context.Context, roomID string) ([]models.RoomMember, error) {
	return s.repomanager.Rooms(s.db).OnlineMembers(ctx, roomID)
}

func (s *DirectoryService) issue(account *models.Account) (*AccountSession, error) {
	token, err := auth.GenerateToken(account.ID, s.jwtSecret, s.tokenValidity)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return &AccountSession{Account: account, Token: token}, nil
}
