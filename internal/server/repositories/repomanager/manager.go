package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/pairchat/internal/dbx"
	"github.com/dmitrijs2005/pairchat/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/pairchat/internal/server/repositories/rooms"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Rooms(db dbx.DBTX) rooms.Repository
}
