package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Defaults for the Redis broadcaster
const (
	DefaultChannelPrefix    = "receiving:session:"
	DefaultPublishQueueSize = 1024
	defaultPublishTimeout   = time.Second
	defaultRetryDelay       = time.Second
	defaultCloseTimeout     = 5 * time.Second
)

// RedisBroadcaster publishes session events to Redis and forwards events from
// every instance into a local Hub. Events published here are delivered to
// local subscribers immediately; their Redis echo is ignored.
type RedisBroadcaster struct {
	client         *redis.Client
	ownsClient     bool
	hub            *Hub
	prefix         string
	origin         string
	publishTimeout time.Duration
	logger         *zap.Logger

	queue   chan outbound
	dropped atomic.Int64
	failed  atomic.Int64
	onDrop  func()

	mu        sync.Mutex
	started   bool
	closed    bool
	cancelFn  context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type outbound struct {
	channel string
	data    []byte
}

// RedisBroadcasterOption is a functional option for RedisBroadcaster
type RedisBroadcasterOption func(*RedisBroadcaster)

// WithChannelPrefix sets the channel prefix; the session key is appended
func WithChannelPrefix(prefix string) RedisBroadcasterOption {
	return func(b *RedisBroadcaster) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithPublishQueueSize bounds the number of events waiting to be sent
func WithPublishQueueSize(n int) RedisBroadcasterOption {
	return func(b *RedisBroadcaster) {
		if n > 0 {
			b.queue = make(chan outbound, n)
		}
	}
}

// WithPublishTimeout bounds each Redis PUBLISH
func WithPublishTimeout(d time.Duration) RedisBroadcasterOption {
	return func(b *RedisBroadcaster) {
		if d > 0 {
			b.publishTimeout = d
		}
	}
}

// WithBroadcasterLogger sets the logger
func WithBroadcasterLogger(logger *zap.Logger) RedisBroadcasterOption {
	return func(b *RedisBroadcaster) {
		b.logger = logger
	}
}

// WithDropHook is called for every event dropped because the queue was full
func WithDropHook(fn func()) RedisBroadcasterOption {
	return func(b *RedisBroadcaster) {
		b.onDrop = fn
	}
}

// NewRedisBroadcaster connects to Redis and creates a broadcaster that owns the client
func NewRedisBroadcaster(addr, password string, db int, hub *Hub, opts ...RedisBroadcasterOption) (*RedisBroadcaster, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	b := NewRedisBroadcasterWithClient(client, hub, opts...)
	b.ownsClient = true
	return b, nil
}

// NewRedisBroadcasterWithClient creates a broadcaster on a shared client.
// The caller keeps ownership of the client.
func NewRedisBroadcasterWithClient(client *redis.Client, hub *Hub, opts ...RedisBroadcasterOption) *RedisBroadcaster {
	b := &RedisBroadcaster{
		client:         client,
		hub:            hub,
		prefix:         DefaultChannelPrefix,
		origin:         uuid.NewString(),
		publishTimeout: defaultPublishTimeout,
		logger:         zap.NewNop(),
		queue:          make(chan outbound, DefaultPublishQueueSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Channel returns the Redis channel of a session
func (b *RedisBroadcaster) Channel(key receiving.SessionKey) string {
	return b.prefix + key.String()
}

// Start launches the publish worker and the subscription loop
func (b *RedisBroadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.started {
		return fmt.Errorf("redis broadcaster already started")
	}
	b.started = true

	runCtx, cancel := context.WithCancel(ctx)
	b.cancelFn = cancel

	b.wg.Add(2)
	go b.publishLoop(runCtx)
	go b.subscribeLoop(runCtx)
	return nil
}

// Publish delivers evt locally and queues it for Redis. It never blocks;
// when the queue is full the event is dropped for remote instances only.
func (b *RedisBroadcaster) Publish(ctx context.Context, evt receiving.SessionEvent) {
	b.hub.Publish(ctx, evt)

	data, err := Encode(evt, b.origin)
	if err != nil {
		b.logger.Error("failed to encode session event", zap.Error(err))
		return
	}

	select {
	case b.queue <- outbound{channel: b.Channel(evt.SessionKey()), data: data}:
	default:
		b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop()
		}
		b.logger.Warn("redis publish queue full, event not forwarded",
			zap.String("session", evt.SessionKey().String()),
			zap.String("event_type", evt.EventType()),
		)
	}
}

// Subscribe registers a local subscriber; remote events reach it through the hub
func (b *RedisBroadcaster) Subscribe(ctx context.Context, key receiving.SessionKey) (receiving.Subscription, error) {
	return b.hub.Subscribe(ctx, key)
}

// Dropped returns the number of events not forwarded because the queue was full
func (b *RedisBroadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Failed returns the number of PUBLISH calls that returned an error
func (b *RedisBroadcaster) Failed() int64 {
	return b.failed.Load()
}

func (b *RedisBroadcaster) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			pubCtx, cancel := context.WithTimeout(ctx, b.publishTimeout)
			err := b.client.Publish(pubCtx, msg.channel, msg.data).Err()
			cancel()
			if err != nil {
				b.failed.Add(1)
				b.logger.Warn("failed to publish session event",
					zap.String("channel", msg.channel),
					zap.Error(err),
				)
			}
		}
	}
}

// subscribeLoop forwards remote events into the hub. go-redis re-establishes
// the subscription after a connection loss; messages sent meanwhile are gone,
// so every local subscriber is disconnected on resubscribe and resyncs.
func (b *RedisBroadcaster) subscribeLoop(ctx context.Context) {
	defer b.wg.Done()

	pattern := b.prefix + "*"
	pubsub := b.client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	subscribedOnce := false
	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("redis subscription interrupted", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(defaultRetryDelay):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind != "psubscribe" {
				continue
			}
			if subscribedOnce {
				n := b.hub.DisconnectAll()
				b.logger.Info("redis subscription restored, observers must resync",
					zap.Int("disconnected", n),
				)
			} else {
				b.logger.Info("subscribed to session events", zap.String("pattern", pattern))
			}
			subscribedOnce = true
		case *redis.Message:
			b.forward(ctx, m)
		}
	}
}

func (b *RedisBroadcaster) forward(ctx context.Context, m *redis.Message) {
	evt, origin, err := Decode([]byte(m.Payload))
	if err != nil {
		b.logger.Error("failed to decode session event",
			zap.String("channel", m.Channel),
			zap.Error(err),
		)
		return
	}
	if origin == b.origin {
		return
	}
	if !strings.HasSuffix(m.Channel, evt.SessionKey().String()) {
		b.logger.Warn("session event on foreign channel",
			zap.String("channel", m.Channel),
			zap.String("session", evt.SessionKey().String()),
		)
		return
	}
	b.hub.Publish(ctx, evt)
}

// Close stops the loops and releases the client if owned
func (b *RedisBroadcaster) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		cancel := b.cancelFn
		b.mu.Unlock()

		if cancel != nil {
			cancel()
			done := make(chan struct{})
			go func() {
				b.wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(defaultCloseTimeout):
				b.logger.Warn("timeout waiting for redis broadcaster to stop")
			}
		}
		b.hub.Close()

		if b.ownsClient {
			err = b.client.Close()
		}
	})
	return err
}

var _ receiving.SyncBroadcaster = (*RedisBroadcaster)(nil)
