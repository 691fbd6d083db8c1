package handler_test

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	receivingapp "github.com/erp/receiving/internal/application/receiving"
	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/interfaces/http/dto"
)

func TestReceivingHandler_GroupProgressAndEligibility(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "P1", "G1", "P2", "G1", "P3", "G2")

	w := s.scan(t, "P1", "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp, result := decode[receivingapp.ScanResult](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, receiving.ScanOutcomeSuccess, result.Outcome)
	assert.Equal(t, "G1", result.GroupID)
	require.NotNil(t, result.Group)
	assert.Equal(t, 1, result.Group.ScannedCount)
	assert.Equal(t, 2, result.Group.ExpectedCount)

	w = s.do(t, http.MethodGet, sessionPath+"/progress", nil, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	_, progress := decode[receivingapp.ProgressResponse](t, w)
	assert.Equal(t, 3, progress.ExpectedTotal)
	assert.Equal(t, 1, progress.ScannedTotal)
	assert.False(t, progress.CompleteEligible)
	assert.True(t, progress.ScanningEnabled)

	require.Equal(t, http.StatusOK, s.scan(t, "P2", "alice").Code)
	require.Equal(t, http.StatusOK, s.scan(t, "P3", "bob").Code)

	w = s.do(t, http.MethodGet, sessionPath+"/progress", nil, "alice")
	_, progress = decode[receivingapp.ProgressResponse](t, w)
	assert.Equal(t, 3, progress.ScannedTotal)
	assert.Equal(t, 2, progress.GroupsFullyScanned)
	assert.True(t, progress.CompleteEligible)
}

func TestReceivingHandler_ConcurrentDuplicateScans(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "P1", "G1")

	outcomes := make([]receiving.ScanOutcome, 2)
	var wg sync.WaitGroup
	for i, actor := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := s.scan(t, "P1", actor)
			_, result := decode[receivingapp.ScanResult](t, w)
			outcomes[i] = result.Outcome
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []receiving.ScanOutcome{
		receiving.ScanOutcomeSuccess,
		receiving.ScanOutcomeDuplicate,
	}, outcomes)
}

func TestReceivingHandler_UnexpectedPackage(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "P1", "G1")

	w := s.scan(t, "ZZZ", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	resp, result := decode[receivingapp.ScanResult](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, receiving.ScanOutcomeUnexpectedPackage, result.Outcome)
	assert.NotEmpty(t, result.Reason)

	w = s.do(t, http.MethodGet, sessionPath+"/progress", nil, "alice")
	_, progress := decode[receivingapp.ProgressResponse](t, w)
	assert.Equal(t, 0, progress.ScannedTotal)
}

func TestReceivingHandler_ScanValidation(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "P1", "G1")

	t.Run("blank package id is a 400 with its outcome", func(t *testing.T) {
		w := s.scan(t, "   ", "alice")
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp, result := decode[receivingapp.ScanResult](t, w)
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.Equal(t, receiving.ScanOutcomeValidationError, result.Outcome)
	})

	t.Run("missing actor", func(t *testing.T) {
		w := s.scan(t, "P1", "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		_, result := decode[receivingapp.ScanResult](t, w)
		assert.Equal(t, receiving.ScanOutcomeValidationError, result.Outcome)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := s.do(t, http.MethodPost, sessionPath+"/scans", "{not json", "alice")
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp, _ := decode[any](t, w)
		assert.Equal(t, dto.ErrCodeInvalidJSON, resp.Error.Code)
	})

	t.Run("bad session date", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/receiving/sessions/DOCK-1/02-05-2024/progress", nil, "alice")
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp, _ := decode[any](t, w)
		assert.Equal(t, dto.ErrCodeInvalidDate, resp.Error.Code)
	})
}

func TestReceivingHandler_CompletionIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "P1", "G1", "P2", "G2")
	require.Equal(t, http.StatusOK, s.scan(t, "P1", "alice").Code)
	require.Equal(t, http.StatusOK, s.scan(t, "P2", "alice").Code)

	w := s.do(t, http.MethodGet, sessionPath+"/snapshot", nil, "alice")
	require.Equal(t, http.StatusNotFound, w.Code)
	resp, _ := decode[any](t, w)
	assert.Equal(t, dto.ErrCodeSnapshotNotFound, resp.Error.Code)

	w = s.do(t, http.MethodPost, sessionPath+"/complete", nil, "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, first := decode[receivingapp.CompletionResult](t, w)
	assert.Equal(t, receiving.CompletionOutcomeCompleted, first.Outcome)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, "alice", first.Snapshot.CompletedBy)

	w = s.do(t, http.MethodPost, sessionPath+"/complete", nil, "bob")
	require.Equal(t, http.StatusOK, w.Code)
	_, second := decode[receivingapp.CompletionResult](t, w)
	assert.Equal(t, receiving.CompletionOutcomeAlreadyCompleted, second.Outcome)
	require.NotNil(t, second.Snapshot)
	assert.Equal(t, first.Snapshot.ID, second.Snapshot.ID)

	w = s.do(t, http.MethodGet, sessionPath+"/snapshot", nil, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	_, snapshot := decode[receivingapp.SnapshotResponse](t, w)
	assert.Equal(t, first.Snapshot.ID, snapshot.ID)
	assert.Equal(t, 2, snapshot.ScannedTotal)

	w = s.scan(t, "P1", "carol")
	require.Equal(t, http.StatusOK, w.Code)
	_, result := decode[receivingapp.ScanResult](t, w)
	assert.Equal(t, receiving.ScanOutcomeSessionClosed, result.Outcome)
}

func TestReceivingHandler_ReloadManifest(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "P1", "G1")
	require.Equal(t, http.StatusOK, s.scan(t, "P1", "alice").Code)

	body := receivingapp.ReloadManifestRequest{Packages: []receivingapp.ManifestPackageInput{
		{PackageID: "P1", GroupID: "G1", UnitCount: 2},
		{PackageID: "P2", GroupID: "G1", UnitCount: 1},
	}}
	w := s.do(t, http.MethodPut, sessionPath+"/manifest", body, "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, progress := decode[receivingapp.ProgressResponse](t, w)
	assert.Equal(t, 2, progress.ExpectedTotal)
	assert.Equal(t, 1, progress.ScannedTotal)

	t.Run("duplicate ids are rejected", func(t *testing.T) {
		dup := receivingapp.ReloadManifestRequest{Packages: []receivingapp.ManifestPackageInput{
			{PackageID: "P1", GroupID: "G1"},
			{PackageID: "P1", GroupID: "G2"},
		}}
		w := s.do(t, http.MethodPut, sessionPath+"/manifest", dup, "alice")
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp, _ := decode[any](t, w)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	})

	t.Run("completed sessions are frozen", func(t *testing.T) {
		require.Equal(t, http.StatusOK, s.scan(t, "P2", "alice").Code)
		w := s.do(t, http.MethodPost, sessionPath+"/complete", nil, "alice")
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, http.MethodPut, sessionPath+"/manifest", body, "alice")
		require.Equal(t, http.StatusConflict, w.Code)
		resp, _ := decode[any](t, w)
		assert.Equal(t, dto.ErrCodeSessionCompleted, resp.Error.Code)
	})
}

func TestReceivingHandler_StoreUnavailable(t *testing.T) {
	s := newTestServer(t, withManifestSource(unavailableManifest{}))

	w := s.do(t, http.MethodGet, sessionPath+"/progress", nil, "alice")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp, _ := decode[any](t, w)
	assert.Equal(t, dto.ErrCodeUnavailable, resp.Error.Code)

	w = s.scan(t, "P1", "alice")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp, result := decode[receivingapp.ScanResult](t, w)
	assert.Equal(t, dto.ErrCodeUnavailable, resp.Error.Code)
	assert.Equal(t, receiving.ScanOutcomeTransientInfra, result.Outcome)
	assert.True(t, result.Retryable)
}
