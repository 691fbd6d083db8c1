package receiving

import "context"

// ManifestSource provides the expected packages of a session
type ManifestSource interface {
	// ListExpected returns the expected set; an empty slice is valid
	ListExpected(ctx context.Context, key SessionKey) ([]ExpectedPackage, error)
}

// ManifestWriter replaces the expected set of a session
type ManifestWriter interface {
	// ReplaceExpected stores packages as the expected set of session and
	// persists its manifest version, atomically and only while the session
	// is OPEN. It returns ErrSessionCompleted otherwise.
	ReplaceExpected(ctx context.Context, session *ReceivingSession, packages []ExpectedPackage) error
}

// ScanRecordRepository is the append-only store of scan records
type ScanRecordRepository interface {
	// Append inserts rec. It returns false without error when a record for
	// the same (session, package) already exists.
	Append(ctx context.Context, rec *ScanRecord) (bool, error)
	// ListBySession returns all records of a session ordered by scan time
	ListBySession(ctx context.Context, key SessionKey) ([]ScanRecord, error)
}

// SessionRepository stores receiving sessions and their status
type SessionRepository interface {
	// GetOrCreate returns the session, creating it OPEN on first access
	GetOrCreate(ctx context.Context, key SessionKey) (*ReceivingSession, error)
	// FindByKey returns ErrSessionNotFound if the session does not exist
	FindByKey(ctx context.Context, key SessionKey) (*ReceivingSession, error)
	// CompareAndSetStatus atomically moves status from -> to and reports
	// whether this caller performed the change.
	CompareAndSetStatus(ctx context.Context, key SessionKey, from, to SessionStatus) (bool, error)
}

// SnapshotRepository is the write-once store of session snapshots
type SnapshotRepository interface {
	// SaveAndComplete writes the snapshot and moves the session from
	// COMPLETING to COMPLETED in one atomic unit.
	SaveAndComplete(ctx context.Context, snapshot *SessionSnapshot) error
	// FindBySession returns ErrSnapshotNotFound if the session has no snapshot
	FindBySession(ctx context.Context, key SessionKey) (*SessionSnapshot, error)
}
