package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers which event ids a handler has already run for.
// Implementations must make MarkProcessed atomic across processes sharing
// the store.
type IdempotencyStore interface {
	// MarkProcessed returns true only for the first caller within ttl
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	Close() error
}

// IdempotencyConfig controls the idempotent handler wrapper
type IdempotencyConfig struct {
	Enabled bool
	// TTL bounds how long an event id stays marked
	TTL time.Duration
}

// DefaultIdempotencyConfig keeps ids for a day, well past any redelivery of
// a completion event.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{Enabled: true, TTL: 24 * time.Hour}
}
