// Package storage keeps chat state available while its backends come and go.
//
// ResilientStore fronts a key-value Cache (Redis) and a DocumentLog (MongoDB).
// Every write is mirrored into bounded in-process structures, so losing one or
// both backends degrades the store to memory-only operation instead of
// failing callers. When a backend recovers, the store re-writes what the
// backend missed.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Cache.Get for absent keys.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a key-value service with optional per-key expiry.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// DocumentLog is an append-only per-room message log. Inserting a message
// whose ID is already stored must succeed without creating a second record.
type DocumentLog interface {
	Insert(ctx context.Context, msg Message) error
	InsertMany(ctx context.Context, msgs []Message) error
	Oldest(ctx context.Context, room string, limit int) ([]Message, error)
	Ping(ctx context.Context) error
}

// Message is a chat record of a room. ID doubles as the log's primary key.
type Message struct {
	ID        string    `json:"id" bson:"_id"`
	Room      string    `json:"room" bson:"room"`
	From      string    `json:"from" bson:"from"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Backend names a storage backend in health reports.
type Backend string

const (
	BackendCache Backend = "cache"
	BackendLog   Backend = "log"
)

// Health is a point-in-time view of backend availability.
type Health struct {
	Cache bool
	Log   bool
}
