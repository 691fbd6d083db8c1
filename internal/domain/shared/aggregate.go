package shared

// Aggregate carries the optimistic-lock version of an entity and the events
// its state changes produced. Repositories save only when the stored version
// still equals the version the entity was loaded at.
type Aggregate struct {
	Version int
	pending []DomainEvent
}

// NewAggregate starts a fresh aggregate at version 1
func NewAggregate() Aggregate {
	return Aggregate{Version: 1}
}

// Apply advances the version and queues evt for publication
func (a *Aggregate) Apply(evt DomainEvent) {
	a.Version++
	a.pending = append(a.pending, evt)
}

// LoadedVersion is the version the aggregate was read at, before any of the
// pending changes
func (a *Aggregate) LoadedVersion() int {
	return a.Version - len(a.pending)
}

// PendingEvents returns the queued events without clearing them
func (a *Aggregate) PendingEvents() []DomainEvent {
	return a.pending
}

// DrainEvents returns the queued events and clears the queue
func (a *Aggregate) DrainEvents() []DomainEvent {
	evts := a.pending
	a.pending = nil
	return evts
}
