package broadcast

import (
	"context"
	"testing"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOfflineBroadcaster returns a broadcaster that is never started, so no
// connection to Redis is attempted.
func newOfflineBroadcaster(t *testing.T, opts ...RedisBroadcasterOption) (*RedisBroadcaster, *Hub) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { client.Close() })

	hub := NewHub()
	return NewRedisBroadcasterWithClient(client, hub, opts...), hub
}

func TestRedisBroadcaster_PublishDeliversLocally(t *testing.T) {
	b, _ := newOfflineBroadcaster(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, dock1)
	require.NoError(t, err)

	b.Publish(ctx, scanEvent(t, dock1, "P1"))
	evt := receive(t, sub)
	assert.Equal(t, dock1, evt.SessionKey())
}

func TestRedisBroadcaster_FullQueueDrops(t *testing.T) {
	drops := 0
	b, _ := newOfflineBroadcaster(t, WithPublishQueueSize(1), WithDropHook(func() { drops++ }))
	ctx := context.Background()

	b.Publish(ctx, scanEvent(t, dock1, "P1"))
	b.Publish(ctx, scanEvent(t, dock1, "P2"))
	b.Publish(ctx, scanEvent(t, dock1, "P3"))

	assert.Equal(t, int64(2), b.Dropped())
	assert.Equal(t, 2, drops)
}

func TestRedisBroadcaster_Channel(t *testing.T) {
	b, _ := newOfflineBroadcaster(t, WithChannelPrefix("rcv:"))
	assert.Equal(t, "rcv:DOCK-1/2026-03-02", b.Channel(dock1))
}

func TestRedisBroadcaster_CloseWithoutStart(t *testing.T) {
	b, hub := newOfflineBroadcaster(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, dock1)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, ok := <-sub.Events()
	assert.False(t, ok)

	_, err = hub.Subscribe(ctx, dock1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Start(ctx), ErrClosed)
}

func TestRedisBroadcaster_IgnoresOwnEcho(t *testing.T) {
	b, _ := newOfflineBroadcaster(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, dock1)
	require.NoError(t, err)

	data, err := Encode(scanEvent(t, dock1, "P1"), b.origin)
	require.NoError(t, err)
	b.forward(ctx, &redis.Message{Channel: b.Channel(dock1), Payload: string(data)})
	assert.Empty(t, sub.Events())

	data, err = Encode(scanEvent(t, dock1, "P2"), "other-node")
	require.NoError(t, err)
	b.forward(ctx, &redis.Message{Channel: b.Channel(dock1), Payload: string(data)})
	evt := receive(t, sub)
	assert.Equal(t, "P2", evt.(*receiving.ScanAcceptedEvent).PackageID)
}
