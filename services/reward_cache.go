package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"squad-ladder/models"
)

// RewardCache holds resolved reward tables for a bounded time.
type RewardCache interface {
	Get(ctx context.Context, key string) (models.RewardTable, bool, error)
	Set(ctx context.Context, key string, table models.RewardTable) error
	Flush(ctx context.Context) error
}

type memoryEntry struct {
	table     models.RewardTable
	expiresAt time.Time
}

// MemoryRewardCache is a per-process TTL cache.
type MemoryRewardCache struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	ttl     time.Duration
	entries map[string]memoryEntry
}

func NewMemoryRewardCache(clock clockwork.Clock, ttl time.Duration) *MemoryRewardCache {
	return &MemoryRewardCache{clock: clock, ttl: ttl, entries: map[string]memoryEntry{}}
}

func (c *MemoryRewardCache) Get(_ context.Context, key string) (models.RewardTable, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		return models.RewardTable{}, false, nil
	}
	return e.table, true, nil
}

func (c *MemoryRewardCache) Set(_ context.Context, key string, table models.RewardTable) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{table: table, expiresAt: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryRewardCache) Flush(context.Context) error {
	c.mu.Lock()
	c.entries = map[string]memoryEntry{}
	c.mu.Unlock()
	return nil
}

// RedisRewardCache shares resolved tables across replicas so an
// invalidation on one node reaches all of them.
type RedisRewardCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRewardCache(client *redis.Client, prefix string, ttl time.Duration) *RedisRewardCache {
	return &RedisRewardCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisRewardCache) Get(ctx context.Context, key string) (models.RewardTable, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.RewardTable{}, false, nil
	}
	if err != nil {
		return models.RewardTable{}, false, eris.Wrap(err, "redis get failed")
	}
	var table models.RewardTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return models.RewardTable{}, false, eris.Wrap(err, "corrupt cached reward table")
	}
	return table, true, nil
}

func (c *RedisRewardCache) Set(ctx context.Context, key string, table models.RewardTable) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return eris.Wrap(err, "failed to encode reward table")
	}
	return eris.Wrap(c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(), "redis set failed")
}

func (c *RedisRewardCache) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return eris.Wrap(err, "redis scan failed")
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return eris.Wrap(err, "redis del failed")
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
