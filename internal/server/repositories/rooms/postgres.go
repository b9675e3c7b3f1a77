// Package rooms stores public rooms and their memberships in PostgreSQL.
package rooms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/dmitrijs2005/pairchat/internal/dbx"
	"github.com/dmitrijs2005/pairchat/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, room *models.PublicRoom) (*models.PublicRoom, error) {

	query :=
		`INSERT INTO public_rooms (room_id, name, description, created_by, max_users)
         VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		room.ID, room.Name, room.Description, room.CreatedBy, room.MaxUsers).Scan(&room.CreatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return room, nil
}

// List returns active rooms, newest first, with their online member counts.
func (r *PostgresRepository) List(ctx context.Context) ([]models.PublicRoom, error) {
	query :=
		`SELECT pr.room_id, pr.name, COALESCE(pr.description, ''), pr.created_by::text, pr.created_at, pr.max_users, COUNT(rm.username)
		 FROM public_rooms pr
		 LEFT JOIN room_members rm ON pr.room_id = rm.room_id AND rm.is_online = TRUE
		 WHERE pr.is_active = TRUE
		 GROUP BY pr.id
		 ORDER BY pr.created_at DESC
		 `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.PublicRoom
	for rows.Next() {
		var room models.PublicRoom
		if err := rows.Scan(&room.ID, &room.Name, &room.Description, &room.CreatedBy,
			&room.CreatedAt, &room.MaxUsers, &room.CurrentUsers); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) Get(ctx context.Context, roomID string) (*models.PublicRoom, error) {
	query :=
		`SELECT pr.room_id, pr.name, COALESCE(pr.description, ''), pr.created_by::text, pr.created_at, pr.max_users, COUNT(rm.username)
		 FROM public_rooms pr
		 LEFT JOIN room_members rm ON pr.room_id = rm.room_id AND rm.is_online = TRUE
		 WHERE pr.room_id = $1 AND pr.is_active = TRUE
		 GROUP BY pr.id
		 `

	room := &models.PublicRoom{}
	err := r.db.QueryRowContext(ctx, query, roomID).Scan(&room.ID, &room.Name, &room.Description, &room.CreatedBy,
		&room.CreatedAt, &room.MaxUsers, &room.CurrentUsers)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return room, nil
}

// LockCapacity row-locks an active room for the rest of the transaction and
// returns its max_users.
func (r *PostgresRepository) LockCapacity(ctx context.Context, roomID string) (int, error) {
	query :=
		`SELECT max_users FROM public_rooms
		 WHERE room_id = $1 AND is_active = TRUE
		 FOR UPDATE
		 `

	var maxUsers int
	err := r.db.QueryRowContext(ctx, query, roomID).Scan(&maxUsers)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	return maxUsers, nil
}

// CountOnline counts online members of a room other than except.
func (r *PostgresRepository) CountOnline(ctx context.Context, roomID string, except string) (int, error) {
	query :=
		`SELECT COUNT(*) FROM room_members
		 WHERE room_id = $1 AND is_online = TRUE AND username <> $2
		 `

	var n int
	if err := r.db.QueryRowContext(ctx, query, roomID, except).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// SetOnline adds the member or marks an existing membership online, owned
// by instanceID.
func (r *PostgresRepository) SetOnline(ctx context.Context, roomID, username, instanceID string) error {
	query :=
		`INSERT INTO room_members (room_id, username, is_online, instance_id)
		 VALUES ($1, $2, TRUE, $3)
		 ON CONFLICT (room_id, username) DO UPDATE SET is_online = TRUE, instance_id = EXCLUDED.instance_id
		 `

	if _, err := r.db.ExecContext(ctx, query, roomID, username, instanceID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetOffline(ctx context.Context, roomID, username string) error {
	query :=
		`UPDATE room_members SET is_online = FALSE
		 WHERE room_id = $1 AND username = $2
		 `

	if _, err := r.db.ExecContext(ctx, query, roomID, username); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ResetOnline(ctx context.Context, instanceID string) (int64, error) {
	query :=
		`UPDATE room_members SET is_online = FALSE
		 WHERE is_online = TRUE AND instance_id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, instanceID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// OnlineMembers lists online members in join order.
func (r *PostgresRepository) OnlineMembers(ctx context.Context, roomID string) ([]models.RoomMember, error) {
	query :=
		`SELECT username, joined_at, is_online FROM room_members
		 WHERE room_id = $1 AND is_online = TRUE
		 ORDER BY joined_at ASC
		 `

	rows, err := r.db.QueryContext(ctx, query, roomID)
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
