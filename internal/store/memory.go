package store

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"reqguard/internal/models"
)

// shardCount trades memory for reduced lock contention. Increments for
// different keys on different shards never contend.
const shardCount = 64

// MemoryStore is the baseline in-memory counter store. State is lost on
// restart; that is an accepted, documented limitation of the baseline.
//
// Keys are spread over a fixed set of shards, each guarded by its own
// mutex, so lock scope is effectively a single key's shard and the sweep
// re-checks expiry under the same lock increments use.
type MemoryStore struct {
	shards [shardCount]*memoryShard
	now    func() time.Time
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*models.CounterEntry
}

// NewMemoryStore creates an in-memory store. A nil now falls back to
// time.Now; tests inject a simulated clock.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	m := &MemoryStore{now: now}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string]*models.CounterEntry)}
	}
	return m
}

func (m *MemoryStore) shardFor(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

// Get returns a copy of the live entry for key.
func (m *MemoryStore) Get(ctx context.Context, key string) (*models.CounterEntry, error) {
	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.Expired(m.now()) {
		delete(shard.entries, key)
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

// Set overwrites the entry for a key.
func (m *MemoryStore) Set(ctx context.Context, entry *models.CounterEntry) error {
	shard := m.shardFor(entry.Key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.entries[entry.Key] = entry.Clone()
	return nil
}

// Increment bumps the counter for key, starting a fresh window when the
// key is absent or expired. The fresh-window decision and the bump happen
// under one shard lock, so the window boundary is decided exactly once.
func (m *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (*models.CounterEntry, error) {
	now := m.now()
	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok || entry.Expired(now) {
		entry = &models.CounterEntry{
			Key:           key,
			Count:         1,
			FirstSeenAt:   now,
			WindowResetAt: now.Add(window),
		}
		shard.entries[key] = entry
		return entry.Clone(), nil
	}

	entry.Count++
	return entry.Clone(), nil
}

// Block marks the live entry for key as blocked until the given instant.
func (m *MemoryStore) Block(ctx context.Context, key string, until time.Time) error {
	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok || entry.Expired(m.now()) {
		return ErrNotFound
	}
	entry.Blocked = true
	entry.BlockExpiresAt = until
	return nil
}

// Reset removes the entry for key.
func (m *MemoryStore) Reset(ctx context.Context, key string) error {
	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.entries, key)
	return nil
}

// Cleanup removes expired entries, re-checking expiry under each shard's
// lock so a concurrent Increment can never lose a freshly created entry.
func (m *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	now := m.now()
	removed := 0
	for _, shard := range m.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if entry.Expired(now) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// Len reports the number of live entries.
func (m *MemoryStore) Len(ctx context.Context) (int, error) {
	now := m.now()
	total := 0
	for _, shard := range m.shards {
		shard.mu.Lock()
		for _, entry := range shard.entries {
			if !entry.Expired(now) {
				total++
			}
		}
		shard.mu.Unlock()
	}
	return total, nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
