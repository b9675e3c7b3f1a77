// Package migrations embeds the goose SQL migrations of the room directory,
// one set per supported database.
package migrations

import "embed"

// Migrations holds the PostgreSQL schema at the FS root.
//
//go:embed *.sql
var Migrations embed.FS

// SQLite holds the single-node SQLite schema under SQLiteDir.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// SQLiteDir is the directory inside SQLite that goose reads.
const SQLiteDir = "sqlite"
