package receiving

import "context"

// Subscription is one observer's view of a session event stream.
// The channel is closed when the subscription ends, either by Close or
// because the observer fell behind. Missed events are not replayed.
type Subscription interface {
	ID() string
	Events() <-chan SessionEvent
	Close()
}

// SyncBroadcaster fans session events out to every current observer.
// Delivery is at-least-once and unordered across observers. Publish never
// blocks and never fails the caller.
type SyncBroadcaster interface {
	Publish(ctx context.Context, event SessionEvent)
	Subscribe(ctx context.Context, key SessionKey) (Subscription, error)
}
