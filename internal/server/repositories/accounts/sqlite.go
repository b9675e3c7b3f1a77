package accounts

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
type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SQLiteRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	now := r.now()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO registered_users (email, password_hash, username, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, account.Email, string(account.PasswordHash), account.Username, now).Scan(&account.ID)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	account.CreatedAt = now
	account.IsActive = true
	return account, nil
}

func (r *SQLiteRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, email, username, password_hash, created_at, last_login, is_active FROM registered_users
		WHERE email = ? AND is_active = 1
	`, email))
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, email, username, password_hash, created_at, last_login, is_active FROM registered_users
		WHERE id = ? AND is_active = 1
	`, id))
}

func (r *SQLiteRepository) TouchLastLogin(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE registered_users SET last_login = ? WHERE id = ?`, r.now(), id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) scanOne(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	var hash string
	err := row.Scan(&a.ID, &a.Email, &a.Username, &hash, &a.CreatedAt, &a.LastLogin, &a.IsActive)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	a.PasswordHash = []byte(hash)
	return a, nil
}
