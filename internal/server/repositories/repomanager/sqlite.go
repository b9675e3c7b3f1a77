package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/pairchat/internal/dbx"
	"github.com/dmitrijs2005/pairchat/internal/server/migrations"
	"github.com/dmitrijs2005/pairchat/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/pairchat/internal/server/repositories/rooms"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteDriverName is the database/sql driver registered by modernc.org/sqlite.
const SQLiteDriverName = "sqlite"

// SQLiteRepositoryManager vends SQLite-backed repositories for single-node
// deployments and tests.
type SQLiteRepositoryManager struct{}

func (m *SQLiteRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Rooms(db dbx.DBTX) rooms.Repository {
	return rooms.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.SQLite)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, migrations.SQLiteDir)
}
