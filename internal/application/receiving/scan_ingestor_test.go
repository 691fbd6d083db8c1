package receiving

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/erp/receiving/internal/domain/receiving"
)

func TestRegisterScan_AllPackagesAnyOrder(t *testing.T) {
	e := newTestEngine(t)
	key := testKey()
	e.seed(t, key, scenarioManifest()...)

	for _, id := range []string{"P3", "P1", "P2"} {
		res := e.scan(t, key, id)
		require.Equal(t, receiving.ScanOutcomeSuccess, res.Outcome, id)
		require.NotNil(t, res.ScannedAt)
	}

	progress, err := e.svc.GetProgress(context.Background(), key)
	require.NoError(t, err)

	dn1 := groupOf(t, progress, "DN1")
	assert.Equal(t, 2, dn1.ScannedCount)
	assert.Equal(t, 2, dn1.ExpectedCount)
	assert.True(t, dn1.FullyScanned)

	dn2 := groupOf(t, progress, "DN2")
	assert.Equal(t, 1, dn2.ScannedCount)
	assert.Equal(t, 1, dn2.ExpectedCount)

	assert.True(t, progress.CompleteEligible)
	assert.Equal(t, 3, progress.ScannedTotal)
	assert.True(t, progress.Percent.Equal(decimal.NewFromInt(100)), progress.Percent.String())
}

func TestRegisterScan_ReturnsGroupProgress(t *testing.T) {
	e := newTestEngine(t)
	key := testKey()
	e.seed(t, key, scenarioManifest()...)

	res := e.scan(t, key, " Ｐ１ ")
	require.Equal(t, receiving.ScanOutcomeSuccess, res.Outcome)
	assert.Equal(t, "P1", res.PackageID)
	assert.Equal(t, "DN1", res.GroupID)
	require.NotNil(t, res.Group)
	assert.Equal(t, 1, res.Group.ScannedCount)
	assert.Equal(t, 1, res.Group.Remaining)
}

func TestRegisterScan_ConcurrentDuplicate(t *testing.T) {
	e := newTestEngine(t)
	key := testKey()
	e.seed(t, key, scenarioManifest()...)

	const callers = 8
	outcomes := make(chan receiving.ScanOutcome, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := e.svc.RegisterScan(context.Background(), key, "P1", "alice")
			if err != nil {
				t.Error(err)
				return
			}
			outcomes <- res.Outcome
		}()
	}
	close(start)
	wg.Wait()
	close(outcomes)

	counts := map[receiving.ScanOutcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[receiving.ScanOutcomeSuccess])
	assert.Equal(t, callers-1, counts[receiving.ScanOutcomeDuplicate])

	progress, err := e.svc.GetProgress(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.ScannedTotal)
	assert.Equal(t, 1, groupOf(t, progress, "DN1").ScannedCount)
}

func TestRegisterScan_DuplicateAcrossInstances(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngineOn(t, a.db, a.hub)
	key := testKey()
	a.seed(t, key, scenarioManifest()...)

	assert.Equal(t, receiving.ScanOutcomeSuccess, a.scan(t, key, "P1").Outcome)
	assert.Equal(t, receiving.ScanOutcomeDuplicate, b.scan(t, key, "P1").Outcome)

	progress, err := b.svc.GetProgress(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.ScannedTotal)
}

func TestRegisterScan_UnexpectedPackage(t *testing.T) {
	e := newTestEngine(t)
	key := testKey()
	e.seed(t, key, scenarioManifest()...)

	res := e.scan(t, key, "P99")
	assert.Equal(t, receiving.ScanOutcomeUnexpectedPackage, res.Outcome)
	assert.False(t, res.Retryable)

	records, err := e.scans.ListBySession(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, records)

	progress, err := e.svc.GetProgress(context.Background(), key)
	require.NoError(t, err)
	assert.Zero(t, progress.ScannedTotal)
}

func TestRegisterScan_Validation(t *testing.T) {
	e := newTestEngine(t)
	key := testKey()
	e.seed(t, key, scenarioManifest()...)

	tests := []struct {
		name      string
		packageID string
		actor     string
	}{
		{"empty package id", "", "alice"},
		{"blank package id", "   ", "alice"},
		{"empty actor", "P1", " "},
		{"actor too long", "P1", strings.Repeat("a", receiving.MaxActorLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.svc.RegisterScan(context.Background(), key, tt.packageID, tt.actor)
			require.NoError(t, err)
			assert.Equal(t, receiving.ScanOutcomeValidationError, res.Outcome)
			assert.NotEmpty(t, res.Reason)
		})
	}

	records, err := e.scans.ListBySession(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRegisterScan_SessionClosed(t *testing.T) {
	e := newTestEngine(t)
	key := testKey()
	e.seed(t, key, "P1", "DN1")
	e.scan(t, key, "P1")

	res, err := e.svc.RequestCompletion(context.Background(), key, "carol")
	require.NoError(t, err)
	require.Equal(t, receiving.CompletionOutcomeCompleted, res.Outcome)

	assert.Equal(t, receiving.ScanOutcomeSessionClosed, e.scan(t, key, "P1").Outcome)
	assert.Equal(t, receiving.ScanOutcomeSessionClosed, e.scan(t, key, "P99").Outcome)
}

func TestRegisterScan_FindsPackageAddedAfterLoad(t *testing.T) {
	e := newTestEngine(t)
	key := testKey()
	e.seed(t, key, "P1", "DN1")
	e.scan(t, key, "P1")

	// Manifest replaced directly in the store; the cached view is stale
	e.seed(t, key, "P1", "DN1", "P2", "DN1")

	res := e.scan(t, key, "P2")
	assert.Equal(t, receiving.ScanOutcomeSuccess, res.Outcome)
	assert.Equal(t, "DN1", res.GroupID)
}

func TestRegisterScan_TransientStore(t *testing.T) {
	db := newTestDB(t)
	scans := new(MockScanRecordRepository)
	scans.On("ListBySession", mock.Anything, mock.Anything).Return([]receiving.ScanRecord{}, nil)
	e := newTestEngineOn(t, db, nil, withScans(scans))
	key := testKey()
	e.seed(t, key, scenarioManifest()...)

	t.Run("append timeout is retryable", func(t *testing.T) {
		scans.On("Append", mock.Anything, mock.Anything).Return(false, transient("deadline exceeded")).Once()

		res := e.scan(t, key, "P1")
		assert.Equal(t, receiving.ScanOutcomeTransientInfra, res.Outcome)
		assert.True(t, res.Retryable)

		progress, err := e.svc.GetProgress(context.Background(), key)
		require.NoError(t, err)
		assert.Zero(t, progress.ScannedTotal)
	})

	t.Run("retry after recovery succeeds", func(t *testing.T) {
		scans.On("Append", mock.Anything, mock.Anything).Return(true, nil).Once()
		assert.Equal(t, receiving.ScanOutcomeSuccess, e.scan(t, key, "P1").Outcome)
	})

	t.Run("non transient fault is an error", func(t *testing.T) {
		boom := errors.New("syntax error")
		scans.On("Append", mock.Anything, mock.Anything).Return(false, boom).Once()

		res, err := e.svc.RegisterScan(context.Background(), key, "P2", "alice")
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, res)
	})

	scans.AssertExpectations(t)
}
