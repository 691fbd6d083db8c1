package cache

import (
	"context"
	"time"

	"github.com/erp/receiving/internal/domain/shared"
)

// InMemoryIdempotencyStore implements IdempotencyStore for a single process.
// Use the Redis store when several instances consume the same events.
type InMemoryIdempotencyStore struct {
	entries *ttlMap[struct{}]
}

// NewInMemoryIdempotencyStore creates a store that sweeps expired ids every five minutes
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{entries: newTTLMap[struct{}](5 * time.Minute)}
}

// MarkProcessed returns true if eventID was not yet marked or its mark expired
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	return s.entries.setIfAbsent(eventID, struct{}{}, ttl), nil
}

// IsProcessed reports whether eventID carries a live mark
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	_, ok := s.entries.get(eventID)
	return ok, nil
}

// Close stops the sweeper. Safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.entries.close()
	return nil
}

// Size returns the number of entries, expired ones included until the next sweep
func (s *InMemoryIdempotencyStore) Size() int {
	return s.entries.len()
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
