package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"reqguard/internal/models"
)

// SQLiteStore implements CounterStore on SQLite, for single-node
// deployments that want counters to survive a restart without running a
// database server. The schema matches the postgres backend.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reqguard_counters (
	key              TEXT PRIMARY KEY,
	count            INTEGER NOT NULL,
	window_reset_at  INTEGER NOT NULL,
	first_seen_at    INTEGER NOT NULL,
	blocked          INTEGER NOT NULL DEFAULT 0,
	block_expires_at INTEGER NOT NULL DEFAULT 0
)`

const sqliteExpired = `(blocked = 1 AND block_expires_at <= ?3) OR (blocked = 0 AND window_reset_at <= ?3)`

const sqliteIncrement = `
INSERT INTO reqguard_counters (key, count, window_reset_at, first_seen_at, blocked, block_expires_at)
VALUES (?1, 1, ?2, ?3, 0, 0)
ON CONFLICT(key) DO UPDATE SET
	count            = CASE WHEN ` + sqliteExpired + ` THEN 1 ELSE count + 1 END,
	window_reset_at  = CASE WHEN ` + sqliteExpired + ` THEN ?2 ELSE window_reset_at END,
	first_seen_at    = CASE WHEN ` + sqliteExpired + ` THEN ?3 ELSE first_seen_at END,
	blocked          = CASE WHEN ` + sqliteExpired + ` THEN 0 ELSE blocked END,
	block_expires_at = CASE WHEN ` + sqliteExpired + ` THEN 0 ELSE block_expires_at END
RETURNING count, window_reset_at, first_seen_at, blocked, block_expires_at`

// NewSQLiteStore creates a SQLite-backed counter store and ensures the
// schema exists.
func NewSQLiteStore(config Config) (*SQLiteStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("connection string is required for sqlite store")
	}

	db, err := sql.Open("sqlite", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent increments.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the live entry for key.
func (ss *SQLiteStore) Get(ctx context.Context, key string) (*models.CounterEntry, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT count, window_reset_at, first_seen_at, blocked, block_expires_at
		 FROM reqguard_counters WHERE key = ?1`, key)

	entry, err := scanSQLiteEntry(key, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	if entry.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Set overwrites the entry for a key.
func (ss *SQLiteStore) Set(ctx context.Context, entry *models.CounterEntry) error {
	blocked := 0
	if entry.Blocked {
		blocked = 1
	}
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO reqguard_counters (key, count, window_reset_at, first_seen_at, blocked, block_expires_at)
		 VALUES (?1, ?2, ?3, ?4, ?5, ?6)
		 ON CONFLICT(key) DO UPDATE SET
			count = ?2, window_reset_at = ?3, first_seen_at = ?4, blocked = ?5, block_expires_at = ?6`,
		entry.Key, entry.Count, entry.WindowResetAt.UnixMilli(), entry.FirstSeenAt.UnixMilli(),
		blocked, entry.BlockExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// Increment bumps the counter for key in a single upsert statement.
func (ss *SQLiteStore) Increment(ctx context.Context, key string, window time.Duration) (*models.CounterEntry, error) {
	now := time.Now()
	row := ss.db.QueryRowContext(ctx, sqliteIncrement,
		key, now.Add(window).UnixMilli(), now.UnixMilli())

	entry, err := scanSQLiteEntry(key, row)
	if err != nil {
		return nil, fmt.Errorf("sqlite increment: %w", err)
	}
	return entry, nil
}

// Block marks the live entry for key as blocked.
func (ss *SQLiteStore) Block(ctx context.Context, key string, until time.Time) error {
	result, err := ss.db.ExecContext(ctx,
		`UPDATE reqguard_counters SET blocked = 1, block_expires_at = ?2 WHERE key = ?1`,
		key, until.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite block: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite block: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset removes the entry for key.
func (ss *SQLiteStore) Reset(ctx context.Context, key string) error {
	if _, err := ss.db.ExecContext(ctx, `DELETE FROM reqguard_counters WHERE key = ?1`, key); err != nil {
		return fmt.Errorf("sqlite reset: %w", err)
	}
	return nil
}

// Cleanup removes expired entries.
func (ss *SQLiteStore) Cleanup(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	result, err := ss.db.ExecContext(ctx,
		`DELETE FROM reqguard_counters
		 WHERE (blocked = 1 AND block_expires_at <= ?1) OR (blocked = 0 AND window_reset_at <= ?1)`, now)
	if err != nil {
		return 0, fmt.Errorf("sqlite cleanup: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite cleanup: %w", err)
	}
	return int(affected), nil
}

// Len reports the number of live entries.
func (ss *SQLiteStore) Len(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	var count int
	err := ss.db.QueryRowContext(ctx,
		`SELECT count(*) FROM reqguard_counters
		 WHERE NOT ((blocked = 1 AND block_expires_at <= ?1) OR (blocked = 0 AND window_reset_at <= ?1))`, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite len: %w", err)
	}
	return count, nil
}

// Ping verifies the database connection.
func (ss *SQLiteStore) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the database.
func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}

func scanSQLiteEntry(key string, row *sql.Row) (*models.CounterEntry, error) {
	var (
		count   int64
		resetMS int64
		firstMS int64
		blocked int
		blockMS int64
	)
	if err := row.Scan(&count, &resetMS, &firstMS, &blocked, &blockMS); err != nil {
		return nil, err
	}
	return &models.CounterEntry{
		Key:            key,
		Count:          count,
		WindowResetAt:  time.UnixMilli(resetMS),
		FirstSeenAt:    time.UnixMilli(firstMS),
		Blocked:        blocked == 1,
		BlockExpiresAt: time.UnixMilli(blockMS),
	}, nil
}
