package repomanager

import (
	"database/sql"
	"fmt"
	"strings"
)

// SQLitePrefix marks a DSN that selects the SQLite backend, e.g.
// "sqlite:/var/lib/pairchat/directory.db" or "sqlite::memory:".
const SQLitePrefix = "sqlite:"

// Open opens the directory database named by dsn and returns the matching
// RepositoryManager. DSNs starting with SQLitePrefix use SQLite; anything
// else is handed to pgx.
func Open(dsn string) (*sql.DB, RepositoryManager, error) {
	if path, ok := strings.CutPrefix(dsn, SQLitePrefix); ok {
		db, err := sql.Open(SQLiteDriverName, path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one writer at a time; also keeps ":memory:" on a single database
		db.SetMaxOpenConns(1)
		return db, &SQLiteRepositoryManager{}, nil
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	m, err := NewPostgresRepositoryManager(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, m, nil
}
