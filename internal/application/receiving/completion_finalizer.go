package receiving

import (
	"context"
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/domain/shared"
	"github.com/erp/receiving/internal/infrastructure/logger"
	"github.com/erp/receiving/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompletionFinalizer moves a session OPEN -> COMPLETING -> COMPLETED and
// writes its snapshot. The status compare-and-set is the only lock.
type CompletionFinalizer struct {
	sessionCtx  *SessionContext
	sessions    receiving.SessionRepository
	snapshots   receiving.SnapshotRepository
	broadcaster receiving.SyncBroadcaster
	eventBus    shared.EventPublisher
	metrics     Metrics
	timeouts    Timeouts
	now         func() time.Time
}

// NewCompletionFinalizer creates a new CompletionFinalizer
func NewCompletionFinalizer(
	sessionCtx *SessionContext,
	sessions receiving.SessionRepository,
	snapshots receiving.SnapshotRepository,
	broadcaster receiving.SyncBroadcaster,
	eventBus shared.EventPublisher,
	metrics Metrics,
	timeouts Timeouts,
) *CompletionFinalizer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &CompletionFinalizer{
		sessionCtx:  sessionCtx,
		sessions:    sessions,
		snapshots:   snapshots,
		broadcaster: broadcaster,
		eventBus:    eventBus,
		metrics:     metrics,
		timeouts:    timeouts.withDefaults(),
		now:         time.Now,
	}
}

// RequestCompletion finalizes the session on behalf of actor
func (f *CompletionFinalizer) RequestCompletion(ctx context.Context, key receiving.SessionKey, actor string) (*CompletionResult, error) {
	actor, err := receiving.ValidateActor(actor)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartOperation(ctx, "request_completion", key, actor)
	defer span.End()
	start := time.Now()

	result, err := f.complete(ctx, key, actor)
	if err != nil && receiving.IsTransient(err) {
		result, err = newCompletionResult(key, receiving.CompletionOutcomeTransientInfra), nil
	}
	if err != nil {
		span.Fail(err)
		logger.L(ctx).Error("session completion failed",
			zap.String("session", key.String()),
			zap.Error(err),
		)
		return nil, err
	}

	span.Outcome(string(result.Outcome))
	if result.Snapshot != nil {
		span.Snapshot(result.Snapshot.ID)
	}
	f.metrics.RecordCompletion(ctx, result.Outcome, time.Since(start))

	log := logger.L(ctx).With(
		zap.String("session", key.String()),
		zap.String("outcome", string(result.Outcome)),
	)
	switch result.Outcome {
	case receiving.CompletionOutcomeCompleted:
		log.Info("session completed",
			zap.String("snapshot_id", result.Snapshot.ID.String()),
			zap.Int("discrepancy_count", result.Snapshot.DiscrepancyCount),
		)
	case receiving.CompletionOutcomePersistenceFailure, receiving.CompletionOutcomeTransientInfra:
		log.Warn("session completion not persisted")
	default:
		log.Info("session completion rejected")
	}
	return result, nil
}

func (f *CompletionFinalizer) complete(ctx context.Context, key receiving.SessionKey, actor string) (*CompletionResult, error) {
	if _, err := f.withStore(ctx, func(ctx context.Context) (bool, error) {
		_, err := f.sessions.GetOrCreate(ctx, key)
		return true, err
	}); err != nil {
		return nil, err
	}

	won, err := f.withStore(ctx, func(ctx context.Context) (bool, error) {
		return f.sessions.CompareAndSetStatus(ctx, key, receiving.SessionStatusOpen, receiving.SessionStatusCompleting)
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return f.lost(ctx, key)
	}
	f.transition(ctx, key, receiving.SessionStatusOpen, receiving.SessionStatusCompleting, actor, nil)

	// Eligibility is re-checked against the store, not any cached view.
	view, err := f.sessionCtx.Refresh(ctx, key)
	if err != nil {
		f.revert(ctx, key, actor)
		return nil, err
	}
	if !view.Progress.IsCompleteEligible() {
		f.revert(ctx, key, actor)
		result := newCompletionResult(key, receiving.CompletionOutcomeEligibilityLost)
		result.Progress = ToProgressResponse(view)
		return result, nil
	}

	snapshot := receiving.BuildSnapshot(view.session(), view.Expected, view.Scanned, actor, f.now())
	_, err = f.withStore(ctx, func(ctx context.Context) (bool, error) {
		return true, f.snapshots.SaveAndComplete(ctx, snapshot)
	})
	if err != nil {
		return f.saveFailed(ctx, key, actor, err)
	}

	f.transition(ctx, key, receiving.SessionStatusCompleting, receiving.SessionStatusCompleted, actor, snapshot)
	f.dispatchCompleted(ctx, snapshot)

	result := newCompletionResult(key, receiving.CompletionOutcomeCompleted)
	result.Snapshot = ToSnapshotResponse(snapshot)
	return result, nil
}

// lost reports why the OPEN -> COMPLETING compare-and-set did not apply
func (f *CompletionFinalizer) lost(ctx context.Context, key receiving.SessionKey) (*CompletionResult, error) {
	var session *receiving.ReceivingSession
	if _, err := f.withStore(ctx, func(ctx context.Context) (bool, error) {
		var err error
		session, err = f.sessions.FindByKey(ctx, key)
		return true, err
	}); err != nil {
		return nil, err
	}

	if session.Status != receiving.SessionStatusCompleted {
		// COMPLETING, or OPEN again after a concurrent attempt reverted
		return newCompletionResult(key, receiving.CompletionOutcomeInProgress), nil
	}
	return f.alreadyCompleted(ctx, key, receiving.CompletionOutcomeAlreadyCompleted)
}

func (f *CompletionFinalizer) alreadyCompleted(ctx context.Context, key receiving.SessionKey, outcome receiving.CompletionOutcome) (*CompletionResult, error) {
	var snapshot *receiving.SessionSnapshot
	if _, err := f.withStore(ctx, func(ctx context.Context) (bool, error) {
		var err error
		snapshot, err = f.snapshots.FindBySession(ctx, key)
		return true, err
	}); err != nil {
		return nil, err
	}
	f.sessionCtx.recordStatus(key, receiving.SessionStatusCompleted, &snapshot.ID)

	result := newCompletionResult(key, outcome)
	result.Snapshot = ToSnapshotResponse(snapshot)
	return result, nil
}

// saveFailed handles a failed snapshot write. A write that timed out may
// still have committed, so the session is re-read when the revert does not apply.
func (f *CompletionFinalizer) saveFailed(ctx context.Context, key receiving.SessionKey, actor string, saveErr error) (*CompletionResult, error) {
	if f.revert(ctx, key, actor) {
		if receiving.IsTransient(saveErr) {
			return nil, saveErr
		}
		logger.L(ctx).Error("snapshot persistence failed",
			zap.String("session", key.String()),
			zap.Error(saveErr),
		)
		return newCompletionResult(key, receiving.CompletionOutcomePersistenceFailure), nil
	}

	session, err := f.sessions.FindByKey(context.WithoutCancel(ctx), key)
	if err == nil && session.Status == receiving.SessionStatusCompleted {
		return f.alreadyCompleted(context.WithoutCancel(ctx), key, receiving.CompletionOutcomeCompleted)
	}
	if receiving.IsTransient(saveErr) {
		return nil, saveErr
	}
	return newCompletionResult(key, receiving.CompletionOutcomePersistenceFailure), nil
}

// revert returns a COMPLETING session to OPEN so scanning can resume. It
// runs even when the caller's context is done.
func (f *CompletionFinalizer) revert(ctx context.Context, key receiving.SessionKey, actor string) bool {
	ok, err := f.withStore(context.WithoutCancel(ctx), func(ctx context.Context) (bool, error) {
		return f.sessions.CompareAndSetStatus(ctx, key, receiving.SessionStatusCompleting, receiving.SessionStatusOpen)
	})
	if err != nil {
		logger.L(ctx).Error("failed to revert session to OPEN",
			zap.String("session", key.String()),
			zap.Error(err),
		)
		return false
	}
	if ok {
		f.transition(ctx, key, receiving.SessionStatusCompleting, receiving.SessionStatusOpen, actor, nil)
	}
	return ok
}

func (f *CompletionFinalizer) transition(ctx context.Context, key receiving.SessionKey, from, to receiving.SessionStatus, actor string, snapshot *receiving.SessionSnapshot) {
	var snapshotID *uuid.UUID
	if snapshot != nil {
		id := snapshot.ID
		snapshotID = &id
	}
	f.sessionCtx.recordStatus(key, to, snapshotID)
	evt := receiving.NewSessionStatusChangedEvent(key, from, to, actor, snapshotID)

	if f.broadcaster == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeouts.Broadcast)
	defer cancel()
	f.broadcaster.Publish(pubCtx, evt)
}

func (f *CompletionFinalizer) dispatchCompleted(ctx context.Context, snapshot *receiving.SessionSnapshot) {
	if f.eventBus == nil {
		return
	}
	if err := f.eventBus.Publish(context.WithoutCancel(ctx), receiving.NewSessionCompletedEvent(snapshot)); err != nil {
		logger.L(ctx).Warn("failed to dispatch session completed event",
			zap.String("session", snapshot.Key.String()),
			zap.Error(err),
		)
	}
}

// withStore runs fn under the store timeout
func (f *CompletionFinalizer) withStore(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeouts.Store)
	defer cancel()
	return fn(ctx)
}
