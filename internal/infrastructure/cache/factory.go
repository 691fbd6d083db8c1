package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/domain/shared"
	"github.com/erp/receiving/internal/infrastructure/config"
)

// SnapshotCache is the contract shared by the snapshot cache implementations
type SnapshotCache interface {
	Get(ctx context.Context, key receiving.SessionKey) (*receiving.SessionSnapshot, bool, error)
	Set(ctx context.Context, snapshot *receiving.SessionSnapshot) error
}

// Factory builds the cache-backed stores from configuration. With Redis
// enabled and reachable every store is shared through Redis; otherwise the
// in-memory implementations are used if fallback is allowed.
type Factory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	snapshotTTL           time.Duration
	client                redis.UniversalClient
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to
// in-memory stores. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// WithSnapshotTTL sets how long cached snapshots live
func WithSnapshotTTL(ttl time.Duration) FactoryOption {
	return func(f *Factory) {
		f.snapshotTTL = ttl
	}
}

// WithRedisClient reuses an existing client instead of dialing one
func WithRedisClient(client redis.UniversalClient) FactoryOption {
	return func(f *Factory) {
		f.client = client
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		snapshotTTL:           DefaultSnapshotTTL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Stores holds the stores built by a Factory
type Stores struct {
	Idempotency shared.IdempotencyStore
	Snapshots   SnapshotCache
	// Close releases the in-memory sweepers; Redis clients are not closed
	Close func()
	// Shared reports whether the stores are backed by Redis
	Shared bool
}

// Build returns Redis-backed stores when Redis is enabled and answers a ping
func (f *Factory) Build(ctx context.Context) (*Stores, error) {
	if f.redisConfig.Enabled {
		client, err := f.redisClient(ctx)
		if err == nil {
			f.logger.Info("using Redis cache stores", zap.String("addr", f.redisConfig.Addr()))
			return &Stores{
				Idempotency: NewRedisIdempotencyStore(client, ""),
				Snapshots:   NewRedisSnapshotCache(client, "", f.snapshotTTL),
				Close:       func() {},
				Shared:      true,
			}, nil
		}
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("redis required for cache stores but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory cache stores. "+
			"Events may be handled more than once across instances.",
			zap.Error(err),
		)
	}

	idem := NewInMemoryIdempotencyStore()
	snapshots := NewInMemorySnapshotCache(f.snapshotTTL)
	return &Stores{
		Idempotency: idem,
		Snapshots:   snapshots,
		Close: func() {
			_ = idem.Close()
			_ = snapshots.Close()
		},
	}, nil
}

func (f *Factory) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	client := f.client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     f.redisConfig.Addr(),
			Password: f.redisConfig.Password,
			DB:       f.redisConfig.DB,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if f.client == nil {
			_ = client.Close()
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
