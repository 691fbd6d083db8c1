package receiving

import (
	"fmt"
	"time"

	"github.com/erp/receiving/internal/domain/shared"
	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a receiving session
type SessionStatus string

const (
	SessionStatusOpen       SessionStatus = "OPEN"
	SessionStatusCompleting SessionStatus = "COMPLETING"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// IsValid checks if the status is a valid SessionStatus
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusOpen, SessionStatusCompleting, SessionStatusCompleted:
		return true
	}
	return false
}

// String returns the string representation of SessionStatus
func (s SessionStatus) String() string {
	return string(s)
}

// CanTransitionTo checks if the status can transition to the target status.
// COMPLETING may fall back to OPEN when a finalize attempt is abandoned.
func (s SessionStatus) CanTransitionTo(target SessionStatus) bool {
	switch s {
	case SessionStatusOpen:
		return target == SessionStatusCompleting
	case SessionStatusCompleting:
		return target == SessionStatusCompleted || target == SessionStatusOpen
	case SessionStatusCompleted:
		return false // Terminal
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted
}

// ReceivingSession is the aggregate root of a (location, date) receiving workflow
type ReceivingSession struct {
	shared.Aggregate
	Key             SessionKey
	Status          SessionStatus
	ManifestVersion int
	StartedAt       time.Time
	CompletedAt     *time.Time
	CompletedBy     string
	SnapshotID      *uuid.UUID
}

// NewReceivingSession creates an open session
func NewReceivingSession(key SessionKey) *ReceivingSession {
	return &ReceivingSession{
		Aggregate:       shared.NewAggregate(),
		Key:             key,
		Status:          SessionStatusOpen,
		ManifestVersion: 1,
		StartedAt:       time.Now().UTC(),
	}
}

// IsCompleted reports whether the session has been finalized
func (s *ReceivingSession) IsCompleted() bool {
	return s.Status == SessionStatusCompleted
}

// BeginCompletion moves the session from OPEN to COMPLETING
func (s *ReceivingSession) BeginCompletion(actor string) error {
	return s.transition(SessionStatusCompleting, actor, nil)
}

// AbortCompletion returns a COMPLETING session to OPEN so scanning can resume
func (s *ReceivingSession) AbortCompletion(actor string) error {
	return s.transition(SessionStatusOpen, actor, nil)
}

// Complete marks the session COMPLETED with the snapshot that closed it
func (s *ReceivingSession) Complete(snapshot *SessionSnapshot) error {
	if snapshot == nil {
		return shared.NewDomainError("SNAPSHOT_REQUIRED", "Completing a session requires a snapshot")
	}
	if err := s.transition(SessionStatusCompleted, snapshot.CompletedBy, &snapshot.ID); err != nil {
		return err
	}
	completedAt := snapshot.CompletedAt
	s.CompletedAt = &completedAt
	s.CompletedBy = snapshot.CompletedBy
	s.SnapshotID = &snapshot.ID
	return nil
}

// ReloadManifest bumps the manifest version of a session that is still open
func (s *ReceivingSession) ReloadManifest(packageCount int) error {
	if s.Status != SessionStatusOpen {
		return ErrSessionCompleted
	}
	s.ManifestVersion++
	s.Apply(NewManifestReloadedEvent(s.Key, s.ManifestVersion, packageCount))
	return nil
}

func (s *ReceivingSession) transition(target SessionStatus, actor string, snapshotID *uuid.UUID) error {
	if !s.Status.CanTransitionTo(target) {
		return shared.NewDomainError("INVALID_TRANSITION", fmt.Sprintf("Cannot transition from %s to %s", s.Status, target))
	}
	from := s.Status
	s.Status = target
	s.Apply(NewSessionStatusChangedEvent(s.Key, from, target, actor, snapshotID))
	return nil
}
