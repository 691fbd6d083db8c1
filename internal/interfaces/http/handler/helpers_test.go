package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	receivingapp "github.com/erp/receiving/internal/application/receiving"
	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/infrastructure/broadcast"
	"github.com/erp/receiving/internal/infrastructure/persistence"
	"github.com/erp/receiving/internal/infrastructure/persistence/models"
	"github.com/erp/receiving/internal/interfaces/http/dto"
	"github.com/erp/receiving/internal/interfaces/http/handler"
	"github.com/erp/receiving/internal/interfaces/http/router"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const sessionPath = "/api/v1/receiving/sessions/DOCK-1/2024-05-02"

var testKey = receiving.MustSessionKey("DOCK-1", "2024-05-02")

// apiResponse mirrors dto.Response with the payload left raw
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
}

type testServer struct {
	db        *gorm.DB
	hub       *broadcast.Hub
	sessions  *persistence.GormSessionRepository
	manifests *persistence.GormManifestRepository
	svc       *receivingapp.Service
	engine    *gin.Engine
}

type serverOption func(*receivingapp.ServiceDeps)

func withoutBroadcaster() serverOption {
	return func(d *receivingapp.ServiceDeps) { d.Broadcaster = nil }
}

func withManifestSource(src receiving.ManifestSource) serverOption {
	return func(d *receivingapp.ServiceDeps) { d.Manifest = src }
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
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

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	db := newTestDB(t)
	s := &testServer{
		db:        db,
		hub:       broadcast.NewHub(),
		sessions:  persistence.NewGormSessionRepository(db),
		manifests: persistence.NewGormManifestRepository(db),
	}
	t.Cleanup(s.hub.Close)

	deps := receivingapp.ServiceDeps{
		Manifest:    s.manifests,
		Manifests:   s.manifests,
		Sessions:    s.sessions,
		Scans:       persistence.NewGormScanRecordRepository(db),
		Snapshots:   persistence.NewGormSnapshotRepository(db),
		Broadcaster: s.hub,
		Timeouts:    receivingapp.Timeouts{Store: 2 * time.Second, Broadcast: time.Second},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	s.svc = receivingapp.NewService(deps)
	t.Cleanup(s.svc.Close)

	engine, err := router.NewEngine(router.EngineDeps{
		Receiving: handler.NewReceivingHandler(s.svc),
		Stream:    handler.NewStreamHandler(s.svc, handler.WithHeartbeatInterval(50*time.Millisecond)),
		Health:    handler.NewHealthHandler(db, nil),
	})
	require.NoError(t, err)
	s.engine = engine
	return s
}

// seed stores the manifest given as packageID, groupID pairs
func (s *testServer) seed(t *testing.T, pairs ...string) {
	t.Helper()
	pkgs := make([]receiving.ExpectedPackage, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		p, err := receiving.NewExpectedPackage(testKey, pairs[i], pairs[i+1], 1)
		require.NoError(t, err)
		pkgs = append(pkgs, p)
	}
	session, err := s.sessions.GetOrCreate(context.Background(), testKey)
	require.NoError(t, err)
	require.NoError(t, s.manifests.ReplaceExpected(context.Background(), session, pkgs))
}

func (s *testServer) do(t *testing.T, method, path string, body any, actor string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) scan(t *testing.T, packageID, actor string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, sessionPath+"/scans", dto.RegisterScanRequest{PackageID: packageID}, actor)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) (apiResponse, T) {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	var data T
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		require.NoError(t, json.Unmarshal(resp.Data, &data))
	}
	return resp, data
}

// unavailableManifest fails every read as an unreachable store would
type unavailableManifest struct{}

func (unavailableManifest) ListExpected(context.Context, receiving.SessionKey) ([]receiving.ExpectedPackage, error) {
	return nil, fmt.Errorf("list expected: %w", receiving.ErrStoreUnavailable)
}
