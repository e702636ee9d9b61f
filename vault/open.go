package vault

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aschepis/backscratcher/lifebook/migrations"
	"github.com/rs/zerolog"
)

// Open opens the SQLite database at path and applies the vault schema.
// Use ":memory:" for a throwaway vault.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer, and each :memory: connection is its own database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrations.RunVault(db, logger); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, err
	}
	return db, nil
}
