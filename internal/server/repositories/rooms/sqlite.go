package rooms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/dmitrijs2005/pairchat/internal/dbx"
	"github.com/dmitrijs2005/pairchat/internal/server/models"
)

// SQLiteRepository is the single-node variant of PostgresRepository.
// SQLite serializes writers, so LockCapacity needs no row lock.
type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const sqliteRoomColumns = `
	pr.room_id, pr.name, COALESCE(pr.description, ''), pr.created_by, pr.created_at, pr.max_users,
	(SELECT COUNT(*) FROM room_members rm WHERE rm.room_id = pr.room_id AND rm.is_online = 1)`

func (r *SQLiteRepository) Create(ctx context.Context, room *models.PublicRoom) (*models.PublicRoom, error) {
	now := r.now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO public_rooms (room_id, name, description, created_by, max_users, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, room.ID, room.Name, room.Description, room.CreatedBy, room.MaxUsers, now)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	room.CreatedAt = now
	return room, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.PublicRoom, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteRoomColumns+`
		FROM public_rooms pr
		WHERE pr.is_active = 1
		ORDER BY pr.created_at DESC, pr.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.PublicRoom
	for rows.Next() {
		var room models.PublicRoom
		if err := scanRoom(rows, &room); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, roomID string) (*models.PublicRoom, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteRoomColumns+`
		FROM public_rooms pr
		WHERE pr.room_id = ? AND pr.is_active = 1
	`, roomID)

	room := &models.PublicRoom{}
	if err := scanRoom(row, room); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return room, nil
}

func (r *SQLiteRepository) LockCapacity(ctx context.Context, roomID string) (int, error) {
	var maxUsers int
	err := r.db.QueryRowContext(ctx, `
		SELECT max_users FROM public_rooms
		WHERE room_id = ? AND is_active = 1
	`, roomID).Scan(&maxUsers)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return maxUsers, nil
}

func (r *SQLiteRepository) CountOnline(ctx context.Context, roomID string, except string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM room_members
		WHERE room_id = ? AND is_online = 1 AND username <> ?
	`, roomID, except).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) SetOnline(ctx context.Context, roomID, username, instanceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO room_members (room_id, username, is_online, joined_at, instance_id)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (room_id, username) DO UPDATE SET is_online = 1, instance_id = excluded.instance_id
	`, roomID, username, r.now(), instanceID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SetOffline(ctx context.Context, roomID, username string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE room_members SET is_online = 0
		WHERE room_id = ? AND username = ?
	`, roomID, username)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ResetOnline(ctx context.Context, instanceID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE room_members SET is_online = 0
		WHERE is_online = 1 AND instance_id = ?
	`, instanceID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) OnlineMembers(ctx context.Context, roomID string) ([]models.RoomMember, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT username, joined_at, is_online FROM room_members
		WHERE room_id = ? AND is_online = 1
		ORDER BY joined_at ASC, id ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.RoomMember
	for rows.Next() {
		m := models.RoomMember{RoomID: roomID}
		if err := rows.Scan(&m.Username, &m.JoinedAt, &m.IsOnline); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner, room *models.PublicRoom) error {
	return row.Scan(&room.ID, &room.Name, &room.Description, &room.CreatedBy,
		&room.CreatedAt, &room.MaxUsers, &room.CurrentUsers)
}
