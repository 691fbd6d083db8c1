package shared

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact recorded by an aggregate. AggregateID is the
// natural key of its source, e.g. "DOCK-1/2024-05-02" for a session.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() string
}

// EventMeta is embedded by concrete events; its fields are flattened into
// the event's JSON.
type EventMeta struct {
	ID     uuid.UUID `json:"event_id"`
	Type   string    `json:"event_type"`
	At     time.Time `json:"occurred_at"`
	Source string    `json:"source"`
}

// NewEventMeta stamps a new event of eventType raised by source
func NewEventMeta(eventType, source string) EventMeta {
	return EventMeta{
		ID:     uuid.New(),
		Type:   eventType,
		At:     time.Now().UTC(),
		Source: source,
	}
}

func (m *EventMeta) EventID() uuid.UUID    { return m.ID }
func (m *EventMeta) EventType() string     { return m.Type }
func (m *EventMeta) OccurredAt() time.Time { return m.At }
func (m *EventMeta) AggregateID() string   { return m.Source }
