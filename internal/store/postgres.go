package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reqguard/internal/models"
)

// PostgresStore implements CounterStore on PostgreSQL, the durable option
// when counters must survive restarts and be shared by several nodes
// behind one database. Timestamps are stored as unix milliseconds so
// expiry arithmetic matches the other backends exactly.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS reqguard_counters (
	key              TEXT PRIMARY KEY,
	count            BIGINT NOT NULL,
	window_reset_at  BIGINT NOT NULL,
	first_seen_at    BIGINT NOT NULL,
	blocked          BOOLEAN NOT NULL DEFAULT FALSE,
	block_expires_at BIGINT NOT NULL DEFAULT 0
)`

// The expired predicate mirrors CounterEntry.Expired: once blocked, the
// block expiry governs the entry's lifetime entirely.
const pgExpired = `(c.blocked AND c.block_expires_at <= $3) OR (NOT c.blocked AND c.window_reset_at <= $3)`

const pgIncrement = `
INSERT INTO reqguard_counters AS c (key, count, window_reset_at, first_seen_at, blocked, block_expires_at)
VALUES ($1, 1, $2, $3, FALSE, 0)
ON CONFLICT (key) DO UPDATE SET
	count            = CASE WHEN ` + pgExpired + ` THEN 1 ELSE c.count + 1 END,
	window_reset_at  = CASE WHEN ` + pgExpired + ` THEN $2 ELSE c.window_reset_at END,
	first_seen_at    = CASE WHEN ` + pgExpired + ` THEN $3 ELSE c.first_seen_at END,
	blocked          = CASE WHEN ` + pgExpired + ` THEN FALSE ELSE c.blocked END,
	block_expires_at = CASE WHEN ` + pgExpired + ` THEN 0 ELSE c.block_expires_at END
RETURNING count, window_reset_at, first_seen_at, blocked, block_expires_at`

// NewPostgresStore creates a PostgreSQL-backed counter store and ensures
// the schema exists.
func NewPostgresStore(config Config) (*PostgresStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("connection string is required for postgres store")
	}

	poolCfg, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(config.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(context.Background(), pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Get returns the live entry for key.
func (ps *PostgresStore) Get(ctx context.Context, key string) (*models.CounterEntry, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT count, window_reset_at, first_seen_at, blocked, block_expires_at
		 FROM reqguard_counters WHERE key = $1`, key)

	entry, err := scanEntry(key, row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	if entry.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Set overwrites the entry for a key.
func (ps *PostgresStore) Set(ctx context.Context, entry *models.CounterEntry) error {
	blocked := entry.Blocked
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO reqguard_counters (key, count, window_reset_at, first_seen_at, blocked, block_expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO UPDATE SET
			count = $2, window_reset_at = $3, first_seen_at = $4, blocked = $5, block_expires_at = $6`,
		entry.Key, entry.Count, entry.WindowResetAt.UnixMilli(), entry.FirstSeenAt.UnixMilli(),
		blocked, entry.BlockExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	return nil
}

// Increment bumps the counter for key in a single upsert, so the
// fresh-window decision and the bump are one atomic statement.
func (ps *PostgresStore) Increment(ctx context.Context, key string, window time.Duration) (*models.CounterEntry, error) {
	now := time.Now()
	row := ps.pool.QueryRow(ctx, pgIncrement,
		key, now.Add(window).UnixMilli(), now.UnixMilli())

	entry, err := scanEntry(key, row)
	if err != nil {
		return nil, fmt.Errorf("postgres increment: %w", err)
	}
	return entry, nil
}

// Block marks the live entry for key as blocked.
func (ps *PostgresStore) Block(ctx context.Context, key string, until time.Time) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE reqguard_counters SET blocked = TRUE, block_expires_at = $2 WHERE key = $1`,
		key, until.UnixMilli())
	if err != nil {
		return fmt.Errorf("postgres block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset removes the entry for key.
func (ps *PostgresStore) Reset(ctx context.Context, key string) error {
	if _, err := ps.pool.Exec(ctx, `DELETE FROM reqguard_counters WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres reset: %w", err)
	}
	return nil
}

// Cleanup removes expired entries.
func (ps *PostgresStore) Cleanup(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	tag, err := ps.pool.Exec(ctx,
		`DELETE FROM reqguard_counters
		 WHERE (blocked AND block_expires_at <= $1) OR (NOT blocked AND window_reset_at <= $1)`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Len reports the number of live entries.
func (ps *PostgresStore) Len(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	var count int
	err := ps.pool.QueryRow(ctx,
		`SELECT count(*) FROM reqguard_counters
		 WHERE NOT ((blocked AND block_expires_at <= $1) OR (NOT blocked AND window_reset_at <= $1))`, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres len: %w", err)
	}
	return count, nil
}

// Ping verifies the database connection.
func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(key string, row rowScanner) (*models.CounterEntry, error) {
	var (
		count    int64
		resetMS  int64
		firstMS  int64
		blocked  bool
		blockMS  int64
	)
	if err := row.Scan(&count, &resetMS, &firstMS, &blocked, &blockMS); err != nil {
		return nil, err
	}
	return &models.CounterEntry{
		Key:            key,
		Count:          count,
		WindowResetAt:  time.UnixMilli(resetMS),
		FirstSeenAt:    time.UnixMilli(firstMS),
		Blocked:        blocked,
		BlockExpiresAt: time.UnixMilli(blockMS),
	}, nil
}
