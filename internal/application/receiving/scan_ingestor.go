package receiving

import (
	"context"
	"errors"
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/domain/shared"
	"github.com/erp/receiving/internal/infrastructure/logger"
	"github.com/erp/receiving/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ScanIngestor validates and durably records scans
type ScanIngestor struct {
	sessions    *SessionContext
	scans       receiving.ScanRecordRepository
	broadcaster receiving.SyncBroadcaster
	metrics     Metrics
	timeouts    Timeouts
}

// NewScanIngestor creates a new ScanIngestor
func NewScanIngestor(
	sessions *SessionContext,
	scans receiving.ScanRecordRepository,
	broadcaster receiving.SyncBroadcaster,
	metrics Metrics,
	timeouts Timeouts,
) *ScanIngestor {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ScanIngestor{
		sessions:    sessions,
		scans:       scans,
		broadcaster: broadcaster,
		metrics:     metrics,
		timeouts:    timeouts.withDefaults(),
	}
}

// RegisterScan records one scan of packageID in the session. Business
// rejections are reported through the result outcome. An error is returned
// only for faults that are neither validation nor transient.
func (i *ScanIngestor) RegisterScan(ctx context.Context, key receiving.SessionKey, packageID, actor string) (*ScanResult, error) {
	ctx, span := telemetry.StartOperation(ctx, "register_scan", key, actor)
	defer span.End()
	start := time.Now()

	result, err := i.register(ctx, key, packageID, actor)
	if err != nil {
		span.Fail(err)
		logger.L(ctx).Error("scan registration failed",
			zap.String("session", key.String()),
			zap.String("package_id", packageID),
			zap.Error(err),
		)
		return nil, err
	}

	span.Package(result.PackageID, result.GroupID)
	span.Outcome(string(result.Outcome))
	i.metrics.RecordScan(ctx, result.Outcome, time.Since(start))

	log := logger.L(ctx).With(
		zap.String("session", key.String()),
		zap.String("package_id", result.PackageID),
		zap.String("outcome", string(result.Outcome)),
	)
	switch result.Outcome {
	case receiving.ScanOutcomeSuccess:
		log.Debug("scan accepted", zap.String("group_id", result.GroupID))
	case receiving.ScanOutcomeTransientInfra:
		log.Warn("scan not recorded, store unavailable")
	default:
		log.Info("scan rejected")
	}
	return result, nil
}

func (i *ScanIngestor) register(ctx context.Context, key receiving.SessionKey, raw, actor string) (*ScanResult, error) {
	packageID, err := receiving.ValidatePackageID(raw)
	if err != nil {
		return i.invalid(key, receiving.NormalizePackageID(raw), err), nil
	}
	if _, err := receiving.ValidateActor(actor); err != nil {
		return i.invalid(key, packageID, err), nil
	}

	groupID, expected, status, err := i.sessions.lookup(ctx, key, packageID)
	if err != nil {
		return i.infraOutcome(key, packageID, err)
	}
	if status == receiving.SessionStatusCompleted {
		return newScanResult(key, packageID, receiving.ScanOutcomeSessionClosed), nil
	}
	if !expected {
		return newScanResult(key, packageID, receiving.ScanOutcomeUnexpectedPackage), nil
	}

	rec, err := receiving.NewScanRecord(key, packageID, actor)
	if err != nil {
		return i.invalid(key, packageID, err), nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, i.timeouts.Store)
	inserted, err := i.scans.Append(storeCtx, rec)
	cancel()
	if err != nil {
		return i.infraOutcome(key, packageID, err)
	}
	if !inserted {
		return newScanResult(key, packageID, receiving.ScanOutcomeDuplicate), nil
	}

	// Durable from here on; progress and fan-out follow.
	result := newScanResult(key, packageID, receiving.ScanOutcomeSuccess)
	result.GroupID = groupID
	scannedAt := rec.ScannedAt
	result.ScannedAt = &scannedAt
	if group, ok := i.sessions.recordScan(rec); ok {
		resp := ToGroupProgressResponse(group)
		result.Group = &resp
	}

	i.publish(ctx, receiving.NewScanAcceptedEvent(rec, groupID))
	return result, nil
}

// publish hands the event to the broadcaster without waiting on observers.
// The caller's cancellation does not abort delivery.
func (i *ScanIngestor) publish(ctx context.Context, evt receiving.SessionEvent) {
	if i.broadcaster == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeouts.Broadcast)
	defer cancel()
	i.broadcaster.Publish(pubCtx, evt)
}

func (i *ScanIngestor) invalid(key receiving.SessionKey, packageID string, err error) *ScanResult {
	result := newScanResult(key, packageID, receiving.ScanOutcomeValidationError)
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		result.Reason = domainErr.Message
	}
	return result
}

func (i *ScanIngestor) infraOutcome(key receiving.SessionKey, packageID string, err error) (*ScanResult, error) {
	if receiving.IsTransient(err) {
		return newScanResult(key, packageID, receiving.ScanOutcomeTransientInfra), nil
	}
	return nil, err
}
