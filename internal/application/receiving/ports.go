package receiving

import (
	"context"
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
)

// SnapshotCache is a read-through cache of completed session snapshots.
// Snapshots never change once written, so entries need no invalidation.
type SnapshotCache interface {
	Get(ctx context.Context, key receiving.SessionKey) (*receiving.SessionSnapshot, bool, error)
	Set(ctx context.Context, snapshot *receiving.SessionSnapshot) error
}

// SnapshotArchiver stores a copy of a completed snapshot outside the database
type SnapshotArchiver interface {
	Archive(ctx context.Context, snapshot *receiving.SessionSnapshot) error
}

// Metrics records engine outcomes
type Metrics interface {
	RecordScan(ctx context.Context, outcome receiving.ScanOutcome, duration time.Duration)
	RecordCompletion(ctx context.Context, outcome receiving.CompletionOutcome, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordScan(context.Context, receiving.ScanOutcome, time.Duration)             {}
func (noopMetrics) RecordCompletion(context.Context, receiving.CompletionOutcome, time.Duration) {}

// Timeouts bounds every store and broadcast call made by the engine
type Timeouts struct {
	Store     time.Duration
	Broadcast time.Duration
	// Resubscribe is the pause before a dropped session subscription is re-established
	Resubscribe time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Store:       3 * time.Second,
		Broadcast:   time.Second,
		Resubscribe: 500 * time.Millisecond,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Store <= 0 {
		t.Store = d.Store
	}
	if t.Broadcast <= 0 {
		t.Broadcast = d.Broadcast
	}
	if t.Resubscribe <= 0 {
		t.Resubscribe = d.Resubscribe
	}
	return t
}

// StaleSessionFinder lists sessions stuck in a status
type StaleSessionFinder interface {
	FindStale(ctx context.Context, status receiving.SessionStatus, cutoff time.Time) ([]receiving.SessionKey, error)
}
