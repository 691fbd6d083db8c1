package receiving

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/domain/shared"
	"go.uber.org/zap"
)

// SessionCompletedHandler handles SessionCompletedEvent: it warms the
// snapshot cache and archives the snapshot. Either collaborator may be nil.
type SessionCompletedHandler struct {
	cache    SnapshotCache
	archiver SnapshotArchiver
	logger   *zap.Logger
}

// NewSessionCompletedHandler creates a new handler for session completed events
func NewSessionCompletedHandler(cache SnapshotCache, archiver SnapshotArchiver, logger *zap.Logger) *SessionCompletedHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCompletedHandler{
		cache:    cache,
		archiver: archiver,
		logger:   logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *SessionCompletedHandler) EventTypes() []string {
	return []string{receiving.EventTypeSessionCompleted}
}

// Handle processes a SessionCompletedEvent. A cache failure is only logged;
// an archive failure is returned.
func (h *SessionCompletedHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	completed, ok := event.(*receiving.SessionCompletedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			receiving.EventTypeSessionCompleted, event.EventType())
	}
	if completed.Snapshot == nil {
		return errors.New("session completed event without snapshot")
	}

	snapshot := completed.Snapshot
	log := h.logger.With(
		zap.String("session", snapshot.Key.String()),
		zap.String("snapshot_id", snapshot.ID.String()),
	)

	if h.cache != nil {
		if err := h.cache.Set(ctx, snapshot); err != nil {
			log.Warn("failed to warm snapshot cache", zap.Error(err))
		}
	}

	if h.archiver == nil {
		return nil
	}
	if err := h.archiver.Archive(ctx, snapshot); err != nil {
		log.Error("failed to archive snapshot", zap.Error(err))
		return fmt.Errorf("archive snapshot %s: %w", snapshot.Key, err)
	}
	log.Info("session snapshot archived",
		zap.Int("discrepancies", snapshot.DiscrepancyCount),
		zap.Int("extras", snapshot.ExtraCount),
	)
	return nil
}

// CompletionDedupKey keys completion events by snapshot id so a snapshot is
// archived once even when its completion is announced twice.
func CompletionDedupKey(event shared.DomainEvent) string {
	if completed, ok := event.(*receiving.SessionCompletedEvent); ok && completed.Snapshot != nil {
		return "snapshot:" + completed.Snapshot.ID.String()
	}
	return event.EventID().String()
}

var _ shared.EventHandler = (*SessionCompletedHandler)(nil)
