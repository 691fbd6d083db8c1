// Package broadcast implements the SyncBroadcaster: an in-process hub and a
// Redis pub/sub transport that feeds it across instances.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSubscriberBuffer is the per-subscriber event buffer
const DefaultSubscriberBuffer = 64

// ErrClosed is returned by Subscribe after the broadcaster was closed
var ErrClosed = errors.New("broadcaster closed")

// HubStats is a snapshot of hub counters
type HubStats struct {
	Published    int64 `json:"published"`
	Delivered    int64 `json:"delivered"`
	SlowDropped  int64 `json:"slow_dropped"`
	Subscribers  int   `json:"subscribers"`
	SessionCount int   `json:"sessions"`
}

// Hub fans session events out to local subscribers. A subscriber whose buffer
// is full is disconnected rather than slowing down the publisher.
type Hub struct {
	mu     sync.RWMutex
	topics map[receiving.SessionKey]map[string]*subscription
	closed bool

	bufferSize int
	logger     *zap.Logger
	onSlow     func(key receiving.SessionKey)

	published   atomic.Int64
	delivered   atomic.Int64
	slowDropped atomic.Int64
}

// HubOption is a functional option for Hub
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber buffer
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithHubLogger sets the logger
func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithSlowSubscriberHook is called whenever a slow subscriber is disconnected
func WithSlowSubscriberHook(fn func(key receiving.SessionKey)) HubOption {
	return func(h *Hub) {
		h.onSlow = fn
	}
}

// NewHub creates a new Hub
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		topics:     make(map[receiving.SessionKey]map[string]*subscription),
		bufferSize: DefaultSubscriberBuffer,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish delivers evt to every current subscriber of its session without blocking
func (h *Hub) Publish(_ context.Context, evt receiving.SessionEvent) {
	key := evt.SessionKey()
	h.published.Add(1)

	var slow []*subscription
	h.mu.RLock()
	for _, sub := range h.topics[key] {
		select {
		case sub.ch <- evt:
			h.delivered.Add(1)
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.slowDropped.Add(1)
		h.logger.Warn("disconnecting slow session subscriber",
			zap.String("session", key.String()),
			zap.String("subscriber_id", sub.id),
		)
		sub.Close()
		if h.onSlow != nil {
			h.onSlow(key)
		}
	}
}

// Subscribe registers a new subscriber for the session
func (h *Hub) Subscribe(_ context.Context, key receiving.SessionKey) (receiving.Subscription, error) {
	sub := &subscription{
		id:  uuid.NewString(),
		key: key,
		ch:  make(chan receiving.SessionEvent, h.bufferSize),
		hub: h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	subs, ok := h.topics[key]
	if !ok {
		subs = make(map[string]*subscription)
		h.topics[key] = subs
	}
	subs[sub.id] = sub
	return sub, nil
}

// DisconnectAll closes every subscription. Observers resynchronize and
// subscribe again; used when the upstream transport lost messages.
func (h *Hub) DisconnectAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for key, subs := range h.topics {
		for _, sub := range subs {
			sub.closeLocked()
			n++
		}
		delete(h.topics, key)
	}
	return n
}

// Close disconnects every subscriber and rejects new ones
func (h *Hub) Close() {
	h.DisconnectAll()
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

// SubscriberCount returns the number of subscribers of a session
func (h *Hub) SubscriberCount(key receiving.SessionKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[key])
}

// Stats returns the hub counters
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	subscribers := 0
	for _, subs := range h.topics {
		subscribers += len(subs)
	}
	sessions := len(h.topics)
	h.mu.RUnlock()

	return HubStats{
		Published:    h.published.Load(),
		Delivered:    h.delivered.Load(),
		SlowDropped:  h.slowDropped.Load(),
		Subscribers:  subscribers,
		SessionCount: sessions,
	}
}

func (h *Hub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.topics[sub.key]; ok {
		if _, ok := subs[sub.id]; ok {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(h.topics, sub.key)
			}
		}
	}
	sub.closeLocked()
}

// subscription channels are closed only while holding the hub write lock,
// so Publish never sends on a closed channel.
type subscription struct {
	id     string
	key    receiving.SessionKey
	ch     chan receiving.SessionEvent
	hub    *Hub
	closed bool
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Events() <-chan receiving.SessionEvent {
	return s.ch
}

func (s *subscription) Close() {
	s.hub.remove(s)
}

func (s *subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

var _ receiving.SyncBroadcaster = (*Hub)(nil)
