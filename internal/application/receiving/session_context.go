package receiving

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionView is a consistent copy of one session's live state
type SessionView struct {
	Key             receiving.SessionKey
	Status          receiving.SessionStatus
	ManifestVersion int
	StartedAt       time.Time
	SnapshotID      *uuid.UUID
	Expected        []receiving.ExpectedPackage
	Scanned         []receiving.ScanRecord
	Progress        receiving.SessionProgress
}

// IsCompleted reports whether live scanning must be disabled
func (v *SessionView) IsCompleted() bool {
	return v.Status == receiving.SessionStatusCompleted
}

// session rebuilds a ReceivingSession carrying the fields a snapshot needs
func (v *SessionView) session() *receiving.ReceivingSession {
	return &receiving.ReceivingSession{
		Key:             v.Key,
		Status:          v.Status,
		ManifestVersion: v.ManifestVersion,
		StartedAt:       v.StartedAt,
	}
}

// sessionState is the per-session aggregate owned by SessionContext
type sessionState struct {
	key receiving.SessionKey

	// loadMu serializes store reloads; mu guards the fields below
	loadMu sync.Mutex
	mu     sync.Mutex

	loaded          bool
	status          receiving.SessionStatus
	version         int    // highest store version merged so far
	transitions     uint64 // local status changes, see merge
	manifestVersion int
	startedAt       time.Time
	snapshotID      *uuid.UUID
	expected        []receiving.ExpectedPackage
	scanned         map[string]receiving.ScanRecord
	agg             *receiving.ProgressAggregator

	// guarded by SessionContext.mu
	lastUsed time.Time
	stop     context.CancelFunc
}

func newSessionState(key receiving.SessionKey) *sessionState {
	return &sessionState{
		key:     key,
		status:  receiving.SessionStatusOpen,
		scanned: make(map[string]receiving.ScanRecord),
		agg:     receiving.NewProgressAggregator(nil),
	}
}

// merge installs authoritative store state. Scans known locally but missing
// from the store read are kept. mark is the transition count taken before the
// read: a read older than an earlier merge, or one that overlapped a local
// status change, does not overwrite the status.
func (s *sessionState) merge(session *receiving.ReceivingSession, expected []receiving.ExpectedPackage, scans []receiving.ScanRecord, mark uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case session.Status == receiving.SessionStatusCompleted:
		s.status = session.Status
	case s.status == receiving.SessionStatusCompleted:
		// terminal: a read that raced the final commit must not reopen it
	case session.Version < s.version, mark != s.transitions:
		// stale read; status events keep the local view current
	default:
		s.status = session.Status
	}
	if session.SnapshotID != nil {
		s.snapshotID = session.SnapshotID
	}
	if session.Version > s.version {
		s.version = session.Version
	}
	s.manifestVersion = session.ManifestVersion
	s.startedAt = session.StartedAt
	s.expected = expected

	for _, rec := range scans {
		if _, ok := s.scanned[rec.PackageID]; !ok {
			s.scanned[rec.PackageID] = rec
		}
	}
	s.agg = receiving.NewProgressAggregator(expected)
	for id := range s.scanned {
		s.agg.Apply(id)
	}
	s.loaded = true
}

// applyScan records an accepted scan and returns the progress of its group.
// Re-applying the same package is a no-op.
func (s *sessionState) applyScan(rec receiving.ScanRecord) (receiving.GroupProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scanned[rec.PackageID]; !ok {
		s.scanned[rec.PackageID] = rec
	}
	s.agg.Apply(rec.PackageID)

	groupID, ok := s.agg.Expects(rec.PackageID)
	if !ok {
		return receiving.GroupProgress{}, false
	}
	return s.agg.Group(groupID)
}

// applyStatus records a transition and reports whether the session is now COMPLETED
func (s *sessionState) applyStatus(to receiving.SessionStatus, snapshotID *uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == receiving.SessionStatusCompleted {
		return true
	}
	s.status = to
	s.transitions++
	if snapshotID != nil {
		s.snapshotID = snapshotID
	}
	return to == receiving.SessionStatusCompleted
}

// mark returns the transition count a store read is compared against
func (s *sessionState) mark() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions
}

func (s *sessionState) isCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded && s.status == receiving.SessionStatusCompleted
}

// lookup returns the group of an expected package and the current status
func (s *sessionState) lookup(packageID string) (string, bool, receiving.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groupID, ok := s.agg.Expects(packageID)
	return groupID, ok, s.status
}

func (s *sessionState) isLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *sessionState) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
}

func (s *sessionState) view() *SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	scanned := make([]receiving.ScanRecord, 0, len(s.scanned))
	for _, rec := range s.scanned {
		scanned = append(scanned, rec)
	}
	sort.Slice(scanned, func(i, j int) bool {
		if !scanned[i].ScannedAt.Equal(scanned[j].ScannedAt) {
			return scanned[i].ScannedAt.Before(scanned[j].ScannedAt)
		}
		return scanned[i].PackageID < scanned[j].PackageID
	})

	return &SessionView{
		Key:             s.key,
		Status:          s.status,
		ManifestVersion: s.manifestVersion,
		StartedAt:       s.startedAt,
		SnapshotID:      s.snapshotID,
		Expected:        s.expected,
		Scanned:         scanned,
		Progress:        s.agg.Progress(),
	}
}

// SessionContext resolves and caches the live state of receiving sessions.
// Each resolved session that is not COMPLETED is kept current by a
// subscription to the SyncBroadcaster; a dropped subscription is
// re-established followed by a full refresh from the store. Completed
// sessions release their subscription, and EvictIdle drops sessions nobody
// touched for a while.
type SessionContext struct {
	manifest    receiving.ManifestSource
	sessions    receiving.SessionRepository
	scans       receiving.ScanRecordRepository
	broadcaster receiving.SyncBroadcaster
	timeouts    Timeouts
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.Mutex
	states map[receiving.SessionKey]*sessionState
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionContext creates a new SessionContext
func NewSessionContext(
	manifest receiving.ManifestSource,
	sessions receiving.SessionRepository,
	scans receiving.ScanRecordRepository,
	broadcaster receiving.SyncBroadcaster,
	timeouts Timeouts,
	logger *zap.Logger,
) *SessionContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionContext{
		manifest:    manifest,
		sessions:    sessions,
		scans:       scans,
		broadcaster: broadcaster,
		timeouts:    timeouts.withDefaults(),
		logger:      logger,
		now:         time.Now,
		states:      make(map[receiving.SessionKey]*sessionState),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Resolve returns the cached view of a session, loading it on first access
func (c *SessionContext) Resolve(ctx context.Context, key receiving.SessionKey) (*SessionView, error) {
	st := c.state(key)
	if st.isLoaded() {
		return st.view(), nil
	}
	if err := c.load(ctx, st, false); err != nil {
		return nil, err
	}
	return st.view(), nil
}

// Refresh re-reads the session from the store and merges it into the cached
// view. It is safe to call concurrently with scans.
func (c *SessionContext) Refresh(ctx context.Context, key receiving.SessionKey) (*SessionView, error) {
	st := c.state(key)
	if err := c.load(ctx, st, true); err != nil {
		return nil, err
	}
	return st.view(), nil
}

// Invalidate drops the cached expected set so the next Resolve reloads it
func (c *SessionContext) Invalidate(key receiving.SessionKey) {
	c.mu.Lock()
	st, ok := c.states[key]
	c.mu.Unlock()
	if ok {
		st.invalidate()
	}
}

// EvictIdle drops every session last used before cutoff and stops its
// subscription. It returns the number of sessions evicted.
func (c *SessionContext) EvictIdle(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, st := range c.states {
		if !st.lastUsed.Before(cutoff) {
			continue
		}
		if st.stop != nil {
			st.stop()
			st.stop = nil
		}
		delete(c.states, key)
		evicted++
	}
	return evicted
}

// Len returns the number of cached sessions
func (c *SessionContext) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

// Close stops every session subscription
func (c *SessionContext) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// recordScan applies a scan this instance just persisted
func (c *SessionContext) recordScan(rec *receiving.ScanRecord) (receiving.GroupProgress, bool) {
	return c.state(rec.Key).applyScan(*rec)
}

// recordStatus applies a status transition this instance just performed
func (c *SessionContext) recordStatus(key receiving.SessionKey, to receiving.SessionStatus, snapshotID *uuid.UUID) {
	st := c.state(key)
	if st.applyStatus(to, snapshotID) {
		c.release(st)
	}
}

// lookup resolves the session and reports whether packageID is expected.
// A miss triggers one refresh so that packages added by a manifest import
// after the view was loaded are found.
func (c *SessionContext) lookup(ctx context.Context, key receiving.SessionKey, packageID string) (string, bool, receiving.SessionStatus, error) {
	st := c.state(key)
	fresh := false
	if !st.isLoaded() {
		if err := c.load(ctx, st, false); err != nil {
			return "", false, "", err
		}
		fresh = true
	}
	groupID, ok, status := st.lookup(packageID)
	if ok || fresh || status == receiving.SessionStatusCompleted {
		return groupID, ok, status, nil
	}

	if err := c.load(ctx, st, true); err != nil {
		return "", false, "", err
	}
	groupID, ok, status = st.lookup(packageID)
	return groupID, ok, status, nil
}

func (c *SessionContext) state(key receiving.SessionKey) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[key]
	if !ok {
		st = newSessionState(key)
		c.states[key] = st
	}
	st.lastUsed = c.now()
	return st
}

// load reads the session from the store. The subscription is opened before
// the read so no event between the read and the subscribe is lost.
func (c *SessionContext) load(ctx context.Context, st *sessionState, force bool) error {
	st.loadMu.Lock()
	defer st.loadMu.Unlock()

	if !force && st.isLoaded() {
		return nil
	}
	if !st.isCompleted() {
		c.watch(ctx, st)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Store)
	defer cancel()

	mark := st.mark()
	session, err := c.sessions.GetOrCreate(ctx, st.key)
	if err != nil {
		return err
	}
	expected, err := c.manifest.ListExpected(ctx, st.key)
	if err != nil {
		return err
	}
	scans, err := c.scans.ListBySession(ctx, st.key)
	if err != nil {
		return err
	}

	st.merge(session, expected, scans, mark)
	if st.isCompleted() {
		c.release(st)
	}
	return nil
}

// watch starts the subscription goroutine for a session once
func (c *SessionContext) watch(ctx context.Context, st *sessionState) {
	if c.broadcaster == nil {
		return
	}

	c.mu.Lock()
	// an evicted state is no longer reachable by EvictIdle, so it never follows
	if c.closed || st.stop != nil || c.states[st.key] != st {
		c.mu.Unlock()
		return
	}
	followCtx, stop := context.WithCancel(c.ctx)
	st.stop = stop
	c.wg.Add(1)
	c.mu.Unlock()

	sub, err := c.subscribe(ctx, st.key)
	if err != nil {
		c.logger.Warn("session subscription failed, will retry",
			zap.String("session", st.key.String()),
			zap.Error(err),
		)
	}
	go c.follow(followCtx, st, sub)
}

// release stops the subscription of a session that can no longer change
func (c *SessionContext) release(st *sessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.stop != nil {
		st.stop()
		st.stop = nil
	}
}

func (c *SessionContext) subscribe(ctx context.Context, key receiving.SessionKey) (receiving.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Broadcast)
	defer cancel()
	return c.broadcaster.Subscribe(ctx, key)
}

// follow applies session events until ctx closes. When the subscription
// drops it re-subscribes and resynchronizes from the store.
func (c *SessionContext) follow(ctx context.Context, st *sessionState, sub receiving.Subscription) {
	defer c.wg.Done()
	log := c.logger.With(zap.String("session", st.key.String()))

	for {
		if sub != nil {
			c.drain(ctx, st, sub)
			sub.Close()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.timeouts.Resubscribe):
		}

		var err error
		sub, err = c.subscribe(ctx, st.key)
		if err != nil {
			log.Warn("session resubscribe failed", zap.Error(err))
			sub = nil
			continue
		}
		if err := c.load(ctx, st, true); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("session resync failed", zap.Error(err))
		} else {
			log.Debug("session resynchronized after reconnect")
		}
	}
}

func (c *SessionContext) drain(ctx context.Context, st *sessionState, sub receiving.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			c.apply(ctx, st, evt)
		}
	}
}

func (c *SessionContext) apply(ctx context.Context, st *sessionState, evt receiving.SessionEvent) {
	switch e := evt.(type) {
	case *receiving.ScanAcceptedEvent:
		st.applyScan(receiving.ScanRecord{
			PackageID: e.PackageID,
			Key:       e.Key,
			Actor:     e.Actor,
			ScannedAt: e.ScannedAt,
		})
	case *receiving.SessionStatusChangedEvent:
		if st.applyStatus(e.To, e.SnapshotID) {
			c.release(st)
		}
	case *receiving.ManifestReloadedEvent:
		if err := c.load(ctx, st, true); err != nil {
			c.logger.Warn("refresh after manifest reload failed",
				zap.String("session", st.key.String()),
				zap.Error(err),
			)
		}
	}
}
