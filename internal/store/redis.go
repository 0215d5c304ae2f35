package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"reqguard/internal/models"
)

// RedisStore implements CounterStore on redis, for deployments where
// several nodes must share counters. Entries are hashes; the increment
// path is a Lua script so the fresh-window decision and the bump execute
// atomically on the server, the redis equivalent of the memory store's
// per-shard lock.
//
// Expiry is delegated to redis TTLs: the hash expires with the window, or
// with the block when blocked, so Cleanup has nothing to sweep.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Hash fields: c=count, r=window reset (unix ms), f=first seen (unix ms),
// b=blocked flag, x=block expiry (unix ms).
var incrScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local e = redis.call('HMGET', KEYS[1], 'c', 'r', 'f', 'b', 'x')
local fresh = false
if not e[1] then
	fresh = true
elseif e[4] == '1' then
	fresh = tonumber(e[5]) <= now
else
	fresh = tonumber(e[2]) <= now
end
if fresh then
	local reset = now + window
	redis.call('HSET', KEYS[1], 'c', 1, 'r', reset, 'f', now, 'b', 0, 'x', 0)
	redis.call('PEXPIRE', KEYS[1], window)
	return {1, reset, now, 0, 0}
end
local count = redis.call('HINCRBY', KEYS[1], 'c', 1)
local blocked = 0
if e[4] == '1' then blocked = 1 end
return {count, tonumber(e[2]), tonumber(e[3]), blocked, tonumber(e[5])}
`)

var blockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'b', 1, 'x', ARGV[1])
redis.call('PEXPIREAT', KEYS[1], ARGV[1])
return 1
`)

// NewRedisStore creates a redis-backed counter store and verifies the
// connection.
func NewRedisStore(config Config) (*RedisStore, error) {
	if config.RedisAddr == "" {
		return nil, fmt.Errorf("redis address is required for redis store")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
		PoolSize: config.RedisPoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "reqguard"
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

func (r *RedisStore) redisKey(key string) string {
	return r.prefix + ":counter:" + key
}

// Get returns the live entry for key.
func (r *RedisStore) Get(ctx context.Context, key string) (*models.CounterEntry, error) {
	fields, err := r.client.HGetAll(ctx, r.redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	entry, err := entryFromHash(key, fields)
	if err != nil {
		return nil, err
	}
	if entry.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Set overwrites the entry for a key and aligns the TTL with its expiry.
func (r *RedisStore) Set(ctx context.Context, entry *models.CounterEntry) error {
	rk := r.redisKey(entry.Key)
	blocked := 0
	if entry.Blocked {
		blocked = 1
	}
	expireAt := entry.WindowResetAt
	if entry.Blocked && entry.BlockExpiresAt.After(expireAt) {
		expireAt = entry.BlockExpiresAt
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, rk,
		"c", entry.Count,
		"r", entry.WindowResetAt.UnixMilli(),
		"f", entry.FirstSeenAt.UnixMilli(),
		"b", blocked,
		"x", entry.BlockExpiresAt.UnixMilli(),
	)
	pipe.PExpireAt(ctx, rk, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Increment runs the atomic fixed-window script for key.
func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (*models.CounterEntry, error) {
	now := time.Now()
	result, err := incrScript.Run(ctx, r.client,
		[]string{r.redisKey(key)},
		now.UnixMilli(), window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis increment: %w", err)
	}
	if len(result) != 5 {
		return nil, fmt.Errorf("redis increment: unexpected script reply of %d values", len(result))
	}

	return &models.CounterEntry{
		Key:            key,
		Count:          result[0],
		WindowResetAt:  time.UnixMilli(result[1]),
		FirstSeenAt:    time.UnixMilli(result[2]),
		Blocked:        result[3] == 1,
		BlockExpiresAt: time.UnixMilli(result[4]),
	}, nil
}

// Block marks the entry for key as blocked and extends its TTL to the
// block expiry.
func (r *RedisStore) Block(ctx context.Context, key string, until time.Time) error {
	ok, err := blockScript.Run(ctx, r.client,
		[]string{r.redisKey(key)},
		until.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis block: %w", err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset removes the entry for key.
func (r *RedisStore) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis reset: %w", err)
	}
	return nil
}

// Cleanup is a no-op: redis TTLs reclaim expired entries server-side.
func (r *RedisStore) Cleanup(ctx context.Context) (int, error) {
	return 0, nil
}

// Len counts live entries under the store's prefix.
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	var cursor uint64
	total := 0
	pattern := r.prefix + ":counter:*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 512).Result()
		if err != nil {
			return 0, fmt.Errorf("redis len: %w", err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// Ping verifies the redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func entryFromHash(key string, fields map[string]string) (*models.CounterEntry, error) {
	count, err := strconv.ParseInt(fields["c"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis entry %s: bad count: %w", key, err)
	}
	reset, err := strconv.ParseInt(fields["r"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis entry %s: bad window reset: %w", key, err)
	}
	first, err := strconv.ParseInt(fields["f"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis entry %s: bad first seen: %w", key, err)
	}
	blockExp, err := strconv.ParseInt(fields["x"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis entry %s: bad block expiry: %w", key, err)
	}

	return &models.CounterEntry{
		Key:            key,
		Count:          count,
		WindowResetAt:  time.UnixMilli(reset),
		FirstSeenAt:    time.UnixMilli(first),
		Blocked:        fields["b"] == "1",
		BlockExpiresAt: time.UnixMilli(blockExp),
	}, nil
}
