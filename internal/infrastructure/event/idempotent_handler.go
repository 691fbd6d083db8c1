package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/erp/receiving/internal/domain/shared"
)

// HandleResult is what an IdempotentHandler did with one event
type HandleResult string

const (
	HandleProcessed HandleResult = "processed"
	HandleDuplicate HandleResult = "duplicate"
	HandleFailed    HandleResult = "failed"
)

// KeyFunc derives the deduplication key of an event
type KeyFunc func(shared.DomainEvent) string

// EventIDKey dedupes on the event id
func EventIDKey(evt shared.DomainEvent) string {
	return evt.EventID().String()
}

// ResultHook observes every event passing through an IdempotentHandler
type ResultHook func(ctx context.Context, eventType string, result HandleResult)

// IdempotentHandler runs the wrapped handler at most once per key within
// the configured TTL.
type IdempotentHandler struct {
	handler shared.EventHandler
	store   shared.IdempotencyStore
	config  shared.IdempotencyConfig
	keyOf   KeyFunc
	hook    ResultHook
	logger  *zap.Logger
}

// IdempotentHandlerOption configures an IdempotentHandler
type IdempotentHandlerOption func(*IdempotentHandler)

// WithIdempotencyConfig sets the idempotency configuration
func WithIdempotencyConfig(config shared.IdempotencyConfig) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		h.config = config
	}
}

// WithKeyFunc replaces the event id as deduplication key. Events mapping
// to the same key are handled once, whatever their ids.
func WithKeyFunc(fn KeyFunc) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		if fn != nil {
			h.keyOf = fn
		}
	}
}

// WithResultHook reports each result, typically to a metrics counter
func WithResultHook(hook ResultHook) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		h.hook = hook
	}
}

// NewIdempotentHandler wraps handler with a check against store
func NewIdempotentHandler(
	handler shared.EventHandler,
	store shared.IdempotencyStore,
	logger *zap.Logger,
	opts ...IdempotentHandlerOption,
) *IdempotentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &IdempotentHandler{
		handler: handler,
		store:   store,
		config:  shared.DefaultIdempotencyConfig(),
		keyOf:   EventIDKey,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// EventTypes returns the wrapped handler's event types
func (h *IdempotentHandler) EventTypes() []string {
	return h.handler.EventTypes()
}

// Handle runs the wrapped handler unless the event's key is already marked.
// An unreachable store does not block processing.
func (h *IdempotentHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if !h.config.Enabled {
		return h.run(ctx, event)
	}

	key := h.keyOf(event)
	isNew, err := h.store.MarkProcessed(ctx, key, h.config.TTL)
	if err != nil {
		h.logger.Warn("idempotency store unavailable, handling event anyway",
			zap.String("event_type", event.EventType()),
			zap.String("key", key),
			zap.Error(err),
		)
	} else if !isNew {
		h.logger.Debug("duplicate event skipped",
			zap.String("event_type", event.EventType()),
			zap.String("event_id", event.EventID().String()),
			zap.String("key", key),
		)
		h.report(ctx, event, HandleDuplicate)
		return nil
	}

	// the key stays marked on failure; redelivery waits out the TTL
	return h.run(ctx, event)
}

func (h *IdempotentHandler) run(ctx context.Context, event shared.DomainEvent) error {
	if err := h.handler.Handle(ctx, event); err != nil {
		h.report(ctx, event, HandleFailed)
		return err
	}
	h.report(ctx, event, HandleProcessed)
	return nil
}

func (h *IdempotentHandler) report(ctx context.Context, event shared.DomainEvent, result HandleResult) {
	if h.hook != nil {
		h.hook(ctx, event.EventType(), result)
	}
}

var _ shared.EventHandler = (*IdempotentHandler)(nil)
