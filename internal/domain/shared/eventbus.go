package shared

import "context"

// EventHandler reacts to published domain events. EventTypes lists the
// types it wants; the bus uses them when Subscribe is called without types.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

// EventPublisher is what the receiving engine depends on to announce
// completed sessions.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus is an EventPublisher with handler registration and a lifecycle.
// Stop must wait for in-flight handlers.
type EventBus interface {
	EventPublisher
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
