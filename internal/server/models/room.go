package models

import (
	"database/sql"
	"time"
)

// DefaultMaxUsers is the capacity given to rooms created without one.
const DefaultMaxUsers = 100

// MatchRoomID identifies the public room seeded by the initial migration.
const MatchRoomID = "match"

// PublicRoom is a named room from the directory. CurrentUsers counts
// online members and is filled only by read queries.
type PublicRoom struct {
	ID           string
	Name         string
	Description  string
	CreatedBy    sql.NullString
	CreatedAt    time.Time
	MaxUsers     int
	CurrentUsers int
}

// RoomMember is a membership row of a public room.
type RoomMember struct {
	RoomID   string
	Username string
	JoinedAt time.Time
	IsOnline bool
}
