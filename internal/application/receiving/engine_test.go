package receiving

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/domain/shared"
	"github.com/erp/receiving/internal/infrastructure/broadcast"
	"github.com/erp/receiving/internal/infrastructure/persistence"
	"github.com/erp/receiving/internal/infrastructure/persistence/models"
)

var testTimeouts = Timeouts{
	Store:       2 * time.Second,
	Broadcast:   time.Second,
	Resubscribe: 10 * time.Millisecond,
}

// MockEventPublisher records events dispatched on the in-process bus
type MockEventPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (m *MockEventPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *MockEventPublisher) GetEventsByType(eventType string) []shared.DomainEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shared.DomainEvent
	for _, e := range m.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockSnapshotRepository is a testify mock of receiving.SnapshotRepository
type MockSnapshotRepository struct {
	mock.Mock
}

func (m *MockSnapshotRepository) SaveAndComplete(ctx context.Context, snapshot *receiving.SessionSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockSnapshotRepository) FindBySession(ctx context.Context, key receiving.SessionKey) (*receiving.SessionSnapshot, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*receiving.SessionSnapshot), args.Error(1)
}

// MockScanRecordRepository is a testify mock of receiving.ScanRecordRepository
type MockScanRecordRepository struct {
	mock.Mock
}

func (m *MockScanRecordRepository) Append(ctx context.Context, rec *receiving.ScanRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *MockScanRecordRepository) ListBySession(ctx context.Context, key receiving.SessionKey) ([]receiving.ScanRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]receiving.ScanRecord), args.Error(1)
}

// mapCache is an in-process SnapshotCache that counts hits
type mapCache struct {
	mu    sync.Mutex
	items map[receiving.SessionKey]*receiving.SessionSnapshot
	hits  int
	sets  int
}

func newMapCache() *mapCache {
	return &mapCache{items: make(map[receiving.SessionKey]*receiving.SessionSnapshot)}
}

func (c *mapCache) Get(_ context.Context, key receiving.SessionKey) (*receiving.SessionSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[key]
	if ok {
		c.hits++
	}
	return s, ok, nil
}

func (c *mapCache) Set(_ context.Context, s *receiving.SessionSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[s.Key] = s
	c.sets++
	return nil
}

// testEngine is a Service backed by an in-memory sqlite store and a local hub
type testEngine struct {
	db        *gorm.DB
	hub       *broadcast.Hub
	bus       *MockEventPublisher
	sessions  *persistence.GormSessionRepository
	manifests *persistence.GormManifestRepository
	scans     *persistence.GormScanRecordRepository
	snapshots *persistence.GormSnapshotRepository
	svc       *Service
}

type engineOption func(*ServiceDeps)

func withSnapshots(repo receiving.SnapshotRepository) engineOption {
	return func(d *ServiceDeps) { d.Snapshots = repo }
}

func withScans(repo receiving.ScanRecordRepository) engineOption {
	return func(d *ServiceDeps) { d.Scans = repo }
}

func withManifestWriter(w receiving.ManifestWriter) engineOption {
	return func(d *ServiceDeps) { d.Manifests = w }
}

func withCache(c SnapshotCache) engineOption {
	return func(d *ServiceDeps) { d.Cache = c }
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

func newTestEngine(t *testing.T, opts ...engineOption) *testEngine {
	t.Helper()
	return newTestEngineOn(t, newTestDB(t), broadcast.NewHub(), opts...)
}

// newTestEngineOn builds an engine over a shared store and hub, as a second
// server instance would see them.
func newTestEngineOn(t *testing.T, db *gorm.DB, hub *broadcast.Hub, opts ...engineOption) *testEngine {
	t.Helper()

	e := &testEngine{
		db:        db,
		hub:       hub,
		bus:       &MockEventPublisher{},
		sessions:  persistence.NewGormSessionRepository(db),
		manifests: persistence.NewGormManifestRepository(db),
		scans:     persistence.NewGormScanRecordRepository(db),
		snapshots: persistence.NewGormSnapshotRepository(db),
	}
	deps := ServiceDeps{
		Manifest:  e.manifests,
		Manifests: e.manifests,
		Sessions:  e.sessions,
		Scans:     e.scans,
		Snapshots: e.snapshots,
		EventBus:  e.bus,
		Timeouts:  testTimeouts,
	}
	if hub != nil {
		deps.Broadcaster = hub
	}
	for _, opt := range opts {
		opt(&deps)
	}
	e.svc = NewService(deps)
	t.Cleanup(e.svc.Close)
	return e
}

// seed stores the manifest given as packageID, groupID pairs
func (e *testEngine) seed(t *testing.T, key receiving.SessionKey, pairs ...string) {
	t.Helper()
	pkgs := make([]receiving.ExpectedPackage, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		p, err := receiving.NewExpectedPackage(key, pairs[i], pairs[i+1], 1)
		require.NoError(t, err)
		pkgs = append(pkgs, p)
	}
	session, err := e.sessions.GetOrCreate(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, e.manifests.ReplaceExpected(context.Background(), session, pkgs))
}

func (e *testEngine) scan(t *testing.T, key receiving.SessionKey, packageID string) *ScanResult {
	t.Helper()
	res, err := e.svc.RegisterScan(context.Background(), key, packageID, "alice")
	require.NoError(t, err)
	return res
}

func (e *testEngine) storedStatus(t *testing.T, key receiving.SessionKey) receiving.SessionStatus {
	t.Helper()
	s, err := e.sessions.FindByKey(context.Background(), key)
	require.NoError(t, err)
	return s.Status
}

func testKey() receiving.SessionKey {
	return receiving.MustSessionKey("DOCK-1", "2026-03-02")
}

func scenarioManifest() []string {
	return []string{"P1", "DN1", "P2", "DN1", "P3", "DN2"}
}

func groupOf(t *testing.T, p *ProgressResponse, groupID string) GroupProgressResponse {
	t.Helper()
	for _, g := range p.Groups {
		if g.GroupID == groupID {
			return g
		}
	}
	t.Fatalf("group %s not in progress", groupID)
	return GroupProgressResponse{}
}

func transient(msg string) error {
	return fmt.Errorf("%w: %s", receiving.ErrStoreUnavailable, msg)
}
