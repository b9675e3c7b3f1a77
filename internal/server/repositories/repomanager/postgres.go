// Package repomanager provides concrete RepositoryManagers for PostgreSQL and
// SQLite, wiring together repository constructors and database migrations
// (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/pairchat/internal/dbx"
	"github.com/dmitrijs2005/pairchat/internal/server/migrations"
	"github.com/dmitrijs2005/pairchat/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/pairchat/internal/server/repositories/rooms"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Accounts returns an accounts.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewPostgresRepository(db)
}

// Rooms returns a rooms.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Rooms(db dbx.DBTX) rooms.Repository {
	return rooms.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(db *sql.DB) (RepositoryManager, error) {
	return &PostgresRepositoryManager{}, nil
}
