package models

import (
	"database/sql"
	"time"
)

// Account is a durable (registered) identity.
type Account struct {
	ID           string
	Email        string
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
	LastLogin    sql.NullTime
	IsActive     bool
}
