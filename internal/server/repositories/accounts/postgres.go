// Package accounts stores durable chat identities in PostgreSQL.
package accounts

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

// Create inserts the account and fills ID and CreatedAt. A duplicate email
// or username yields common.ErrAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {

	query :=
		`INSERT INTO registered_users (email, password_hash, username)
         VALUES ($1, $2, $3)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		account.Email, string(account.PasswordHash), account.Username).Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	account.IsActive = true
	return account, nil
}

// GetByEmail returns an active account by email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query :=
		`SELECT id, email, username, password_hash, created_at, last_login, is_active FROM registered_users
		 WHERE email = $1 AND is_active = TRUE
		 `

	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

// GetByID returns an active account by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query :=
		`SELECT id, email, username, password_hash, created_at, last_login, is_active FROM registered_users
		 WHERE id = $1 AND is_active = TRUE
		 `

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) TouchLastLogin(ctx context.Context, id string) error {
	query :=
		`UPDATE registered_users SET last_login = CURRENT_TIMESTAMP
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Account, error) {
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
