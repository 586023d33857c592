// Package storage provides the sqlite storage layer for aipdeck.
//
// It holds the profile configuration and the append-only run history.
// The database is a single file under the data directory; the pure-Go
// sqlite driver keeps the binary free of cgo.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the sqlite database handle.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the sqlite database at path and applies the schema.
// Use ":memory:" for an in-memory database in tests.
func New(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	// The modernc driver serializes access per connection; a single
	// connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &DB{db: db, logger: logger}, nil
}

// Ping checks connectivity to the database.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close shuts down the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}
