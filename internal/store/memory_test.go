package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_Increment_FreshWindow(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	entry, err := s.Increment(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Count)
	assert.Equal(t, clock.Now().Add(time.Minute), entry.WindowResetAt)
	assert.Equal(t, clock.Now(), entry.FirstSeenAt)

	entry, err = s.Increment(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Count)
}

func TestMemoryStore_Increment_WindowRollsOver(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	first, err := s.Increment(ctx, "k1", time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	entry, err := s.Increment(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Count, "expired window should start fresh")
	assert.True(t, entry.WindowResetAt.After(first.WindowResetAt))
}

func TestMemoryStore_BlockDominatesWindow(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, err := s.Increment(ctx, "k1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Block(ctx, "k1", clock.Now().Add(5*time.Minute)))

	// Past the window reset but inside the block: entry is still live.
	clock.Advance(2 * time.Minute)
	entry, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, entry.Blocked)

	// Past the block expiry: entry is gone and Increment starts fresh.
	clock.Advance(4 * time.Minute)
	_, err = s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	fresh, err := s.Increment(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.Count)
	assert.False(t, fresh.Blocked)
}

func TestMemoryStore_Block_MissingKey(t *testing.T) {
	s := NewMemoryStore(nil)
	err := s.Block(context.Background(), "absent", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Reset(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, err := s.Increment(ctx, "k1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, "k1"))

	_, err = s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Resetting an absent key is not an error.
	assert.NoError(t, s.Reset(ctx, "never-seen"))
}

func TestMemoryStore_Cleanup_RemovesOnlyExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, err := s.Increment(ctx, "short", time.Minute)
	require.NoError(t, err)
	_, err = s.Increment(ctx, "long", time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	removed, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	entry, err := s.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Count)
}

func TestMemoryStore_Len(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Increment(ctx, fmt.Sprintf("k%d", i), time.Minute)
		require.NoError(t, err)
	}

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	clock.Advance(2 * time.Minute)
	n, err = s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "expired entries do not count as live")
}

func TestMemoryStore_IndependentKeys(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.Increment(ctx, "busy", time.Minute)
		require.NoError(t, err)
	}

	entry, err := s.Increment(ctx, "quiet", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Count)
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, err := s.Increment(ctx, "shared", time.Hour)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	entry, err := s.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perGoroutine), entry.Count, "no increment may be lost")
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	_, err := s.Increment(ctx, "k1", time.Hour)
	require.NoError(t, err)

	entry, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	entry.Count = 999

	again, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Count)
}
