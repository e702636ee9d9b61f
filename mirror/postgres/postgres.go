// Package postgres stores mirror records in a Postgres table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/lifebook/migrations"
	"github.com/aschepis/backscratcher/lifebook/mirror"
	"github.com/rs/zerolog"

	_ "github.com/lib/pq"
)

const table = "mirror_records"

// Backend implements mirror.Backend on Postgres.
type Backend struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Open connects to dsn and applies the mirror schema.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrations.RunMirror(db, logger); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, err
	}
	return New(db, logger), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, logger zerolog.Logger) *Backend {
	return &Backend{
		db:     db,
		logger: logger.With().Str("component", "mirror_postgres").Logger(),
		now:    time.Now,
	}
}

// Close closes the database.
func (b *Backend) Close() error { return b.db.Close() }

func statementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func putQuery(uid, collection string, rec mirror.Record, now time.Time) (string, []any, error) {
	return statementBuilder().
		Insert(table).
		Columns("uid", "collection", "id", "sort_key", "payload", "updated_at").
		Values(uid, collection, rec.ID, rec.SortKey, string(rec.Payload), now.UTC()).
		Suffix("ON CONFLICT (uid, collection, id) DO UPDATE SET " +
			"sort_key = EXCLUDED.sort_key, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at").
		ToSql()
}

func listQuery(uid, collection string) (string, []any, error) {
	return statementBuilder().
		Select("id", "sort_key", "payload").
		From(table).
		Where(sq.Eq{"uid": uid, "collection": collection}).
		OrderBy("sort_key ASC", "id ASC").
		ToSql()
}

// Put replaces the record.
func (b *Backend) Put(ctx context.Context, uid, collection string, rec mirror.Record) error {
	query, args, err := putQuery(uid, collection, rec, b.now())
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

// List returns the collection ordered by sort key.
func (b *Backend) List(ctx context.Context, uid, collection string) ([]mirror.Record, error) {
	query, args, err := listQuery(uid, collection)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close() //nolint:errcheck // Rows close error can be ignored

	var out []mirror.Record
	for rows.Next() {
		var rec mirror.Record
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.SortKey, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return out, nil
}
