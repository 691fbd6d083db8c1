package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erp/receiving/internal/domain/receiving"
)

const (
	defaultSnapshotPrefix = "receiving:snapshot:"
	// DefaultSnapshotTTL bounds how long an idle snapshot stays cached
	DefaultSnapshotTTL = time.Hour
)

// InMemorySnapshotCache keeps completed snapshots in process memory
type InMemorySnapshotCache struct {
	entries *ttlMap[*receiving.SessionSnapshot]
	ttl     time.Duration
}

// NewInMemorySnapshotCache creates a cache whose entries live for ttl
func NewInMemorySnapshotCache(ttl time.Duration) *InMemorySnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &InMemorySnapshotCache{
		entries: newTTLMap[*receiving.SessionSnapshot](ttl),
		ttl:     ttl,
	}
}

// Get returns the cached snapshot of key
func (c *InMemorySnapshotCache) Get(_ context.Context, key receiving.SessionKey) (*receiving.SessionSnapshot, bool, error) {
	s, ok := c.entries.get(key.String())
	return s, ok, nil
}

// Set caches snapshot under its session key
func (c *InMemorySnapshotCache) Set(_ context.Context, snapshot *receiving.SessionSnapshot) error {
	c.entries.set(snapshot.Key.String(), snapshot, c.ttl)
	return nil
}

// Close stops the sweeper
func (c *InMemorySnapshotCache) Close() error {
	c.entries.close()
	return nil
}

// RedisSnapshotCache stores snapshots as JSON so every instance shares them
type RedisSnapshotCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSnapshotCache creates a cache on client. Zero values select defaults.
func NewRedisSnapshotCache(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisSnapshotCache {
	if keyPrefix == "" {
		keyPrefix = defaultSnapshotPrefix
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisSnapshotCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (c *RedisSnapshotCache) redisKey(key receiving.SessionKey) string {
	return c.keyPrefix + key.String()
}

// Get returns the cached snapshot of key; a miss is not an error
func (c *RedisSnapshotCache) Get(ctx context.Context, key receiving.SessionKey) (*receiving.SessionSnapshot, bool, error) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	var snapshot receiving.SessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return &snapshot, true, nil
}

// Set writes snapshot with the cache TTL
func (c *RedisSnapshotCache) Set(ctx context.Context, snapshot *receiving.SessionSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", snapshot.Key, err)
	}
	if err := c.client.Set(ctx, c.redisKey(snapshot.Key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", snapshot.Key, err)
	}
	return nil
}

var (
	_ SnapshotCache = (*InMemorySnapshotCache)(nil)
	_ SnapshotCache = (*RedisSnapshotCache)(nil)
)
