// Package store provides the counter storage abstraction for the
// governance engine and its backends. The in-memory store is the
// baseline; redis, postgres and sqlite implement the same contract for
// deployments that need counters to outlive one process or be shared
// across several.
package store

import (
	"context"
	"time"

	"reqguard/internal/models"
)

// CounterStore is the per-key counter mapping with expiry. Pure storage;
// policy lives in the governor.
//
// Increment is the only per-request mutating path and must be atomic per
// key: no increment may be lost and a window boundary is decided exactly
// once, even under concurrent invocation for the same key. An entry whose
// window (or block, when blocked) has lapsed is logically absent: Get
// reports it as ErrNotFound and Increment starts a fresh window.
type CounterStore interface {
	// Get returns the live entry for key, or ErrNotFound when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (*models.CounterEntry, error)

	// Set overwrites the entry for a key. Administrative use; the
	// request path only ever calls Increment and Block.
	Set(ctx context.Context, entry *models.CounterEntry) error

	// Increment atomically bumps the counter for key. If the key is
	// absent or expired it starts a fresh window: count 1 and the window
	// reset fixed at now+window. It returns the entry after the bump.
	Increment(ctx context.Context, key string, window time.Duration) (*models.CounterEntry, error)

	// Block marks the entry for key as blocked until the given instant.
	// Returns ErrNotFound when no live entry exists.
	Block(ctx context.Context, key string, until time.Time) error

	// Reset removes the entry for key, if any.
	Reset(ctx context.Context, key string) error

	// Cleanup removes all expired entries and reports how many were
	// removed. Entries still live must be left byte-for-byte unchanged.
	Cleanup(ctx context.Context) (int, error)

	// Len reports the number of live entries.
	Len(ctx context.Context) (int, error)

	// Ping verifies the backing resource is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Config holds configuration for store backends.
type Config struct {
	// Type selects the backend (memory, redis, postgres, sqlite).
	Type string

	// RedisAddr, RedisPassword, RedisDB and RedisPoolSize configure the
	// redis backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// KeyPrefix namespaces keys on shared backends.
	KeyPrefix string

	// DSN is the connection string for database backends.
	DSN string

	MaxOpenConns int
	MaxIdleConns int
}
