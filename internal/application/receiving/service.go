package receiving

import (
	"context"
	"errors"
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/domain/shared"
	"github.com/erp/receiving/internal/infrastructure/logger"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// manifestReloadAttempts bounds retries of a reload that lost a version race
const manifestReloadAttempts = 3

// ServiceDeps collects the collaborators of the receiving Service
type ServiceDeps struct {
	Manifest    receiving.ManifestSource
	Manifests   receiving.ManifestWriter
	Sessions    receiving.SessionRepository
	Scans       receiving.ScanRecordRepository
	Snapshots   receiving.SnapshotRepository
	Stale       StaleSessionFinder
	Broadcaster receiving.SyncBroadcaster
	EventBus    shared.EventPublisher
	Cache       SnapshotCache
	Metrics     Metrics
	Timeouts    Timeouts
	Logger      *zap.Logger
}

// Service is the receiving engine API
type Service struct {
	sessionCtx  *SessionContext
	ingestor    *ScanIngestor
	finalizer   *CompletionFinalizer
	manifests   receiving.ManifestWriter
	sessions    receiving.SessionRepository
	snapshots   receiving.SnapshotRepository
	stale       StaleSessionFinder
	broadcaster receiving.SyncBroadcaster
	cache       SnapshotCache
	timeouts    Timeouts
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewService wires the engine components
func NewService(deps ServiceDeps) *Service {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeouts := deps.Timeouts.withDefaults()

	sessionCtx := NewSessionContext(deps.Manifest, deps.Sessions, deps.Scans, deps.Broadcaster, timeouts, log)
	return &Service{
		sessionCtx:  sessionCtx,
		ingestor:    NewScanIngestor(sessionCtx, deps.Scans, deps.Broadcaster, deps.Metrics, timeouts),
		finalizer:   NewCompletionFinalizer(sessionCtx, deps.Sessions, deps.Snapshots, deps.Broadcaster, deps.EventBus, deps.Metrics, timeouts),
		manifests:   deps.Manifests,
		sessions:    deps.Sessions,
		snapshots:   deps.Snapshots,
		stale:       deps.Stale,
		broadcaster: deps.Broadcaster,
		cache:       deps.Cache,
		timeouts:    timeouts,
		validate:    validator.New(),
		logger:      log,
	}
}

// Close stops the background session subscriptions
func (s *Service) Close() {
	s.sessionCtx.Close()
}

// EvictIdleSessions forgets live state not used for idleFor. An evicted
// session is reloaded from the store on next access.
func (s *Service) EvictIdleSessions(ctx context.Context, idleFor time.Duration) int {
	n := s.sessionCtx.EvictIdle(time.Now().Add(-idleFor))
	if n > 0 {
		logger.L(ctx).Debug("idle sessions evicted",
			zap.Int("evicted", n),
			zap.Int("cached", s.sessionCtx.Len()),
		)
	}
	return n
}

// CachedSessions returns the number of sessions with live state in memory
func (s *Service) CachedSessions() int {
	return s.sessionCtx.Len()
}

// RegisterScan records a scan of packageID by actor
func (s *Service) RegisterScan(ctx context.Context, key receiving.SessionKey, packageID, actor string) (*ScanResult, error) {
	return s.ingestor.RegisterScan(ctx, key, packageID, actor)
}

// GetProgress returns the live view of a session
func (s *Service) GetProgress(ctx context.Context, key receiving.SessionKey) (*ProgressResponse, error) {
	view, err := s.sessionCtx.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return ToProgressResponse(view), nil
}

// Subscribe opens an event stream for the session and returns it with a
// fresh resync view. The subscription is opened first so nothing that
// happens after the view was read is missed.
func (s *Service) Subscribe(ctx context.Context, key receiving.SessionKey) (receiving.Subscription, *ProgressResponse, error) {
	if s.broadcaster == nil {
		return nil, nil, shared.NewDomainError("BROADCAST_DISABLED", "Live updates are not available")
	}

	subCtx, cancel := context.WithTimeout(ctx, s.timeouts.Broadcast)
	sub, err := s.broadcaster.Subscribe(subCtx, key)
	cancel()
	if err != nil {
		return nil, nil, err
	}

	view, err := s.sessionCtx.Refresh(ctx, key)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	return sub, ToProgressResponse(view), nil
}

// RequestCompletion finalizes the session
func (s *Service) RequestCompletion(ctx context.Context, key receiving.SessionKey, actor string) (*CompletionResult, error) {
	return s.finalizer.RequestCompletion(ctx, key, actor)
}

// GetSnapshot returns the snapshot of a completed session
func (s *Service) GetSnapshot(ctx context.Context, key receiving.SessionKey) (*SnapshotResponse, error) {
	if s.cache != nil {
		snapshot, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			logger.L(ctx).Warn("snapshot cache read failed",
				zap.String("session", key.String()),
				zap.Error(err),
			)
		} else if ok {
			return ToSnapshotResponse(snapshot), nil
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()
	snapshot, err := s.snapshots.FindBySession(storeCtx, key)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, snapshot); err != nil {
			logger.L(ctx).Warn("snapshot cache write failed",
				zap.String("session", key.String()),
				zap.Error(err),
			)
		}
	}
	return ToSnapshotResponse(snapshot), nil
}

// ReloadManifest replaces the expected set of a session that is still
// open. Existing scans are kept; every observer is told to refresh.
func (s *Service) ReloadManifest(ctx context.Context, key receiving.SessionKey, req ReloadManifestRequest) (*ProgressResponse, error) {
	if s.manifests == nil {
		return nil, shared.NewDomainError("MANIFEST_READ_ONLY", "Manifest reload is not supported")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.NewDomainError("VALIDATION_ERROR", err.Error())
	}

	packages := make([]receiving.ExpectedPackage, 0, len(req.Packages))
	seen := make(map[string]struct{}, len(req.Packages))
	for _, p := range req.Packages {
		pkg, err := receiving.NewExpectedPackage(key, p.PackageID, p.GroupID, p.UnitCount)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[pkg.PackageID]; dup {
			return nil, shared.NewDomainError("VALIDATION_ERROR", "Duplicate package id "+pkg.PackageID)
		}
		seen[pkg.PackageID] = struct{}{}
		packages = append(packages, pkg)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeouts.Store)
	defer cancel()

	var session *receiving.ReceivingSession
	for attempt := 1; ; attempt++ {
		var err error
		session, err = s.replaceManifest(storeCtx, key, packages)
		if err == nil {
			break
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt == manifestReloadAttempts {
			return nil, err
		}
		logger.L(ctx).Debug("manifest reload raced another writer, retrying",
			zap.String("session", key.String()),
			zap.Int("attempt", attempt),
		)
	}

	s.sessionCtx.Invalidate(key)
	for _, evt := range session.DrainEvents() {
		if se, ok := evt.(receiving.SessionEvent); ok && s.broadcaster != nil {
			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Broadcast)
			s.broadcaster.Publish(pubCtx, se)
			cancel()
		}
	}

	logger.L(ctx).Info("manifest reloaded",
		zap.String("session", key.String()),
		zap.Int("manifest_version", session.ManifestVersion),
		zap.Int("package_count", len(packages)),
	)
	return s.GetProgress(ctx, key)
}

// replaceManifest bumps the manifest version of a fresh read of the session
// and stores packages under it
func (s *Service) replaceManifest(ctx context.Context, key receiving.SessionKey, packages []receiving.ExpectedPackage) (*receiving.ReceivingSession, error) {
	session, err := s.sessions.GetOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := session.ReloadManifest(len(packages)); err != nil {
		return nil, err
	}
	if err := s.manifests.ReplaceExpected(ctx, session, packages); err != nil {
		return nil, err
	}
	return session, nil
}

// RecoverStaleCompletions reopens sessions stuck in COMPLETING for longer
// than olderThan
func (s *Service) RecoverStaleCompletions(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.stale == nil {
		return 0, ErrRecoveryUnavailable
	}
	return s.finalizer.RecoverStale(ctx, s.stale, olderThan)
}
