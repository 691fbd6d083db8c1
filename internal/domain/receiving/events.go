package receiving

import (
	"time"

	"github.com/erp/receiving/internal/domain/shared"
	"github.com/google/uuid"
)

// Receiving event type constants
const (
	EventTypeScanAccepted         = "ScanAccepted"
	EventTypeSessionStatusChanged = "SessionStatusChanged"
	EventTypeManifestReloaded     = "ManifestReloaded"
	EventTypeSessionCompleted     = "SessionCompleted"
)

// SessionEvent is a domain event scoped to one receiving session.
// These are the events carried by the SyncBroadcaster.
type SessionEvent interface {
	shared.DomainEvent
	SessionKey() SessionKey
}

// ScanAcceptedEvent is raised after a scan record has been persisted
type ScanAcceptedEvent struct {
	shared.EventMeta
	Key       SessionKey `json:"session"`
	PackageID string     `json:"package_id"`
	GroupID   string     `json:"group_id"`
	Actor     string     `json:"actor"`
	ScannedAt time.Time  `json:"scanned_at"`
}

// NewScanAcceptedEvent creates a new ScanAcceptedEvent
func NewScanAcceptedEvent(rec *ScanRecord, groupID string) *ScanAcceptedEvent {
	return &ScanAcceptedEvent{
		EventMeta: shared.NewEventMeta(EventTypeScanAccepted, rec.Key.String()),
		Key:       rec.Key,
		PackageID: rec.PackageID,
		GroupID:   groupID,
		Actor:     rec.Actor,
		ScannedAt: rec.ScannedAt,
	}
}

// EventType returns the event type name
func (e *ScanAcceptedEvent) EventType() string {
	return EventTypeScanAccepted
}

// SessionKey returns the session the event belongs to
func (e *ScanAcceptedEvent) SessionKey() SessionKey {
	return e.Key
}

// SessionStatusChangedEvent is raised on every status transition of a session
type SessionStatusChangedEvent struct {
	shared.EventMeta
	Key        SessionKey    `json:"session"`
	From       SessionStatus `json:"from"`
	To         SessionStatus `json:"to"`
	Actor      string        `json:"actor"`
	SnapshotID *uuid.UUID    `json:"snapshot_id,omitempty"`
}

// NewSessionStatusChangedEvent creates a new SessionStatusChangedEvent
func NewSessionStatusChangedEvent(key SessionKey, from, to SessionStatus, actor string, snapshotID *uuid.UUID) *SessionStatusChangedEvent {
	return &SessionStatusChangedEvent{
		EventMeta:  shared.NewEventMeta(EventTypeSessionStatusChanged, key.String()),
		Key:        key,
		From:       from,
		To:         to,
		Actor:      actor,
		SnapshotID: snapshotID,
	}
}

// EventType returns the event type name
func (e *SessionStatusChangedEvent) EventType() string {
	return EventTypeSessionStatusChanged
}

// SessionKey returns the session the event belongs to
func (e *SessionStatusChangedEvent) SessionKey() SessionKey {
	return e.Key
}

// ManifestReloadedEvent is raised when the expected set of an open session is replaced
type ManifestReloadedEvent struct {
	shared.EventMeta
	Key          SessionKey `json:"session"`
	Version      int        `json:"manifest_version"`
	PackageCount int        `json:"package_count"`
}

// NewManifestReloadedEvent creates a new ManifestReloadedEvent
func NewManifestReloadedEvent(key SessionKey, version, packageCount int) *ManifestReloadedEvent {
	return &ManifestReloadedEvent{
		EventMeta:    shared.NewEventMeta(EventTypeManifestReloaded, key.String()),
		Key:          key,
		Version:      version,
		PackageCount: packageCount,
	}
}

// EventType returns the event type name
func (e *ManifestReloadedEvent) EventType() string {
	return EventTypeManifestReloaded
}

// SessionKey returns the session the event belongs to
func (e *ManifestReloadedEvent) SessionKey() SessionKey {
	return e.Key
}

// SessionCompletedEvent is dispatched on the in-process event bus once a
// snapshot has been persisted. It carries the snapshot for downstream
// consumers such as archival.
type SessionCompletedEvent struct {
	shared.EventMeta
	Snapshot *SessionSnapshot `json:"snapshot"`
}

// NewSessionCompletedEvent creates a new SessionCompletedEvent
func NewSessionCompletedEvent(snapshot *SessionSnapshot) *SessionCompletedEvent {
	return &SessionCompletedEvent{
		EventMeta: shared.NewEventMeta(EventTypeSessionCompleted, snapshot.Key.String()),
		Snapshot:  snapshot,
	}
}

// EventType returns the event type name
func (e *SessionCompletedEvent) EventType() string {
	return EventTypeSessionCompleted
}
