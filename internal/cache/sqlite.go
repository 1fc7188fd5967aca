package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteTier persists cache entries in a SQLite file.
type SQLiteTier struct {
	db *sql.DB
}

// NewSQLiteTier opens (and migrates) a SQLite database at dsn.
func NewSQLiteTier(ctx context.Context, dsn string) (*SQLiteTier, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "cache sqlite: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, cacheMigration); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "cache sqlite: migrate")
	}
	return &SQLiteTier{db: db}, nil
}

// Times are stored as unix nanoseconds.
const cacheMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key              TEXT PRIMARY KEY,
	payload          BLOB NOT NULL,
	metadata         TEXT,
	size_bytes       INTEGER NOT NULL,
	original_size    INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	expires_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_last_accessed ON cache_entries(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

// Get implements Tier.
func (t *SQLiteTier) Get(ctx context.Context, key string) (*Entry, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT key, payload, metadata, size_bytes, original_size, created_at, last_accessed_at, access_count, expires_at
		 FROM cache_entries WHERE key = ?`, key)

	var (
		e                          Entry
		meta                       sql.NullString
		created, accessed, expires int64
	)
	err := row.Scan(&e.Key, &e.Payload, &meta, &e.SizeBytes, &e.OriginalSize, &created, &accessed, &e.AccessCount, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache sqlite: get %s", key)
	}
	e.CreatedAt = fromNanos(created)
	e.LastAccessedAt = fromNanos(accessed)
	e.ExpiresAt = fromNanos(expires)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			return nil, eris.Wrapf(err, "cache sqlite: unmarshal metadata %s", key)
		}
	}
	return &e, nil
}

// Put implements Tier.
func (t *SQLiteTier) Put(ctx context.Context, e *Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return eris.Wrap(err, "cache sqlite: marshal metadata")
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, payload, metadata, size_bytes, original_size, created_at, last_accessed_at, access_count, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			metadata = excluded.metadata,
			size_bytes = excluded.size_bytes,
			original_size = excluded.original_size,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count,
			expires_at = excluded.expires_at`,
		e.Key, e.Payload, string(meta), e.SizeBytes, e.OriginalSize,
		e.CreatedAt.UnixNano(), e.LastAccessedAt.UnixNano(), e.AccessCount, e.ExpiresAt.UnixNano(),
	)
	return eris.Wrapf(err, "cache sqlite: put %s", e.Key)
}

// Touch implements Tier.
func (t *SQLiteTier) Touch(ctx context.Context, key string, at time.Time, accessCount int64) error {
	_, err := t.db.ExecContext(ctx,
		`UPDATE cache_entries SET last_accessed_at = ?, access_count = ? WHERE key = ?`,
		at.UnixNano(), accessCount, key,
	)
	return eris.Wrapf(err, "cache sqlite: touch %s", key)
}

// Delete implements Tier.
func (t *SQLiteTier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key IN (`+placeholders+`)`, args...)
	return eris.Wrap(err, "cache sqlite: delete")
}

// List implements Tier.
func (t *SQLiteTier) List(ctx context.Context) ([]Entry, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT key, size_bytes, original_size, created_at, last_accessed_at, access_count, expires_at
		 FROM cache_entries ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "cache sqlite: list")
	}
	defer rows.Close() //nolint:errcheck

	var out []Entry
	for rows.Next() {
		var (
			e                          Entry
			created, accessed, expires int64
		)
		if err := rows.Scan(&e.Key, &e.SizeBytes, &e.OriginalSize, &created, &accessed, &e.AccessCount, &expires); err != nil {
			return nil, eris.Wrap(err, "cache sqlite: scan")
		}
		e.CreatedAt = fromNanos(created)
		e.LastAccessedAt = fromNanos(accessed)
		e.ExpiresAt = fromNanos(expires)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "cache sqlite: iterate")
}

// Close implements Tier.
func (t *SQLiteTier) Close() error {
	return t.db.Close()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
