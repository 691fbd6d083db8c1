package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/receiving/internal/domain/shared"
	"github.com/erp/receiving/internal/infrastructure/cache"
)

// MockEventHandler is a mock implementation of shared.EventHandler
type MockEventHandler struct {
	mock.Mock
}

func (m *MockEventHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventHandler) EventTypes() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

// MockIdempotencyStore is a mock implementation of shared.IdempotencyStore
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, eventID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Close() error {
	return m.Called().Error(0)
}

// resultLog collects what a ResultHook reports
type resultLog struct {
	mu      sync.Mutex
	results map[HandleResult]int
}

func newResultLog() *resultLog {
	return &resultLog{results: map[HandleResult]int{}}
}

func (r *resultLog) hook(_ context.Context, _ string, result HandleResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result]++
}

func (r *resultLog) count(result HandleResult) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result]
}

func TestIdempotentHandler_Handle(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore()
	defer store.Close()

	inner := new(MockEventHandler)
	evt := newStatusEvent()
	inner.On("Handle", mock.Anything, evt).Return(nil).Once()

	results := newResultLog()
	handler := NewIdempotentHandler(inner, store, zap.NewNop(), WithResultHook(results.hook))
	ctx := context.Background()

	require.NoError(t, handler.Handle(ctx, evt))
	require.NoError(t, handler.Handle(ctx, evt))

	inner.AssertExpectations(t)
	assert.Equal(t, 1, results.count(HandleProcessed))
	assert.Equal(t, 1, results.count(HandleDuplicate))

	// a different event id runs again
	other := newStatusEvent()
	inner.On("Handle", mock.Anything, other).Return(nil).Once()
	require.NoError(t, handler.Handle(ctx, other))
	inner.AssertExpectations(t)
}

func TestIdempotentHandler_HandlerError(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore()
	defer store.Close()

	inner := new(MockEventHandler)
	evt := newStatusEvent()
	inner.On("Handle", mock.Anything, evt).Return(errors.New("archive unavailable")).Once()

	results := newResultLog()
	handler := NewIdempotentHandler(inner, store, nil, WithResultHook(results.hook))
	assert.EqualError(t, handler.Handle(context.Background(), evt), "archive unavailable")
	assert.Equal(t, 1, results.count(HandleFailed))

	// still marked, so a redelivery is skipped
	require.NoError(t, handler.Handle(context.Background(), evt))
	inner.AssertExpectations(t)
	assert.Equal(t, 1, results.count(HandleDuplicate))
}

func TestIdempotentHandler_StoreErrorProcessesAnyway(t *testing.T) {
	store := new(MockIdempotencyStore)
	inner := new(MockEventHandler)
	evt := newStatusEvent()

	store.On("MarkProcessed", mock.Anything, evt.EventID().String(), 24*time.Hour).Return(false, errors.New("redis down"))
	inner.On("Handle", mock.Anything, evt).Return(nil)

	results := newResultLog()
	handler := NewIdempotentHandler(inner, store, zap.NewNop(), WithResultHook(results.hook))
	require.NoError(t, handler.Handle(context.Background(), evt))

	store.AssertExpectations(t)
	inner.AssertExpectations(t)
	assert.Equal(t, 1, results.count(HandleProcessed))
}

func TestIdempotentHandler_Config(t *testing.T) {
	evt := newStatusEvent()

	t.Run("disabled skips the store", func(t *testing.T) {
		store := new(MockIdempotencyStore)
		inner := new(MockEventHandler)
		inner.On("Handle", mock.Anything, evt).Return(nil).Twice()

		handler := NewIdempotentHandler(inner, store, zap.NewNop(),
			WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: false}))
		require.NoError(t, handler.Handle(context.Background(), evt))
		require.NoError(t, handler.Handle(context.Background(), evt))

		inner.AssertExpectations(t)
		store.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("custom ttl", func(t *testing.T) {
		store := new(MockIdempotencyStore)
		inner := new(MockEventHandler)
		store.On("MarkProcessed", mock.Anything, evt.EventID().String(), time.Hour).Return(true, nil)
		inner.On("Handle", mock.Anything, evt).Return(nil)

		handler := NewIdempotentHandler(inner, store, zap.NewNop(),
			WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: true, TTL: time.Hour}))
		require.NoError(t, handler.Handle(context.Background(), evt))
		store.AssertExpectations(t)
	})

	t.Run("custom key", func(t *testing.T) {
		store := new(MockIdempotencyStore)
		inner := new(MockEventHandler)
		store.On("MarkProcessed", mock.Anything, "session:"+testKey.String(), 24*time.Hour).Return(true, nil)
		inner.On("Handle", mock.Anything, evt).Return(nil)

		handler := NewIdempotentHandler(inner, store, zap.NewNop(),
			WithKeyFunc(func(e shared.DomainEvent) string { return "session:" + e.AggregateID() }))
		require.NoError(t, handler.Handle(context.Background(), evt))
		store.AssertExpectations(t)
	})
}

func TestIdempotentHandler_EventTypes(t *testing.T) {
	inner := new(MockEventHandler)
	inner.On("EventTypes").Return([]string{"SessionCompleted"})

	handler := NewIdempotentHandler(inner, new(MockIdempotencyStore), nil)
	assert.Equal(t, []string{"SessionCompleted"}, handler.EventTypes())
}

func TestIdempotentHandler_SharedStore(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore()
	defer store.Close()

	results := newResultLog()
	first := newTestHandler()
	second := newTestHandler()
	h1 := NewIdempotentHandler(first, store, nil, WithResultHook(results.hook))
	h2 := NewIdempotentHandler(second, store, nil, WithResultHook(results.hook))

	evt := newManifestEvent()
	require.NoError(t, h1.Handle(context.Background(), evt))
	require.NoError(t, h2.Handle(context.Background(), evt))

	assert.Equal(t, 1, results.count(HandleProcessed))
	assert.Equal(t, 1, results.count(HandleDuplicate))
	assert.Equal(t, 1, first.count())
	assert.Zero(t, second.count())
}

func TestIdempotentHandler_ConcurrentDuplicates(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore()
	defer store.Close()

	inner := newTestHandler()
	results := newResultLog()
	handler := NewIdempotentHandler(inner, store, zap.NewNop(), WithResultHook(results.hook))
	evt := newStatusEvent()

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, handler.Handle(context.Background(), evt))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inner.count())
	assert.Equal(t, 1, results.count(HandleProcessed))
	assert.Equal(t, n-1, results.count(HandleDuplicate))
}
