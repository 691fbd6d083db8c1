package receiving

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() SessionKey {
	return MustSessionKey("DOCK-1", "2026-03-02")
}

func manifest(t *testing.T, pairs ...string) []ExpectedPackage {
	t.Helper()
	require.Zero(t, len(pairs)%2, "pairs must be packageID, groupID")
	out := make([]ExpectedPackage, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		p, err := NewExpectedPackage(testKey(), pairs[i], pairs[i+1], 1)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestProgressAggregator_GroupCounts(t *testing.T) {
	t.Run("all packages scanned in any order", func(t *testing.T) {
		orders := [][]string{
			{"P1", "P2", "P3"},
			{"P3", "P1", "P2"},
			{"P2", "P3", "P1"},
		}
		for _, order := range orders {
			agg := NewProgressAggregator(manifest(t, "P1", "DN1", "P2", "DN1", "P3", "DN2"))
			for _, id := range order {
				assert.True(t, agg.Apply(id))
			}

			dn1, ok := agg.Group("DN1")
			require.True(t, ok)
			assert.Equal(t, 2, dn1.ExpectedCount)
			assert.Equal(t, 2, dn1.ScannedCount)

			dn2, ok := agg.Group("DN2")
			require.True(t, ok)
			assert.Equal(t, 1, dn2.ExpectedCount)
			assert.Equal(t, 1, dn2.ScannedCount)

			assert.True(t, agg.IsCompleteEligible())
			progress := agg.Progress()
			assert.Equal(t, 3, progress.ExpectedTotal)
			assert.Equal(t, 3, progress.ScannedTotal)
			assert.Equal(t, 2, progress.GroupsTotal)
			assert.Equal(t, 2, progress.GroupsFullyScanned)
		}
	})

	t.Run("partial progress is not eligible", func(t *testing.T) {
		agg := NewProgressAggregator(manifest(t, "P1", "DN1", "P2", "DN1", "P3", "DN2"))
		agg.Apply("P1")

		progress := agg.Progress()
		assert.False(t, progress.IsCompleteEligible())
		assert.Equal(t, 0, progress.GroupsFullyScanned)
		assert.True(t, progress.Groups[0].Percent().Equal(decimal.NewFromInt(50)))
		assert.True(t, progress.Percent().Equal(decimal.RequireFromString("33.33")))
	})
}

func TestProgressAggregator_Idempotent(t *testing.T) {
	agg := NewProgressAggregator(manifest(t, "P1", "DN1", "P2", "DN1"))

	assert.True(t, agg.Apply("P1"))
	once := agg.Progress()

	assert.False(t, agg.Apply("P1"))
	assert.False(t, agg.Apply("P1"))
	assert.Equal(t, once, agg.Progress())
	assert.True(t, agg.IsApplied("P1"))
	assert.False(t, agg.IsApplied("P2"))
}

func TestProgressAggregator_IgnoresUnexpected(t *testing.T) {
	agg := NewProgressAggregator(manifest(t, "P1", "DN1"))

	assert.False(t, agg.Apply("P99"))
	assert.Equal(t, 0, agg.ScannedTotal())
	_, ok := agg.Expects("P99")
	assert.False(t, ok)

	groupID, ok := agg.Expects("P1")
	assert.True(t, ok)
	assert.Equal(t, "DN1", groupID)
}

func TestProgressAggregator_EmptyManifest(t *testing.T) {
	agg := NewProgressAggregator(nil)

	progress := agg.Progress()
	assert.Equal(t, 0, progress.ExpectedTotal)
	assert.Equal(t, 0, progress.GroupsTotal)
	assert.Empty(t, progress.Groups)
	assert.True(t, progress.Percent().IsZero())
	assert.False(t, agg.IsCompleteEligible(), "an empty session is never complete-eligible")
}

func TestProgressAggregator_DuplicateManifestEntries(t *testing.T) {
	agg := NewProgressAggregator(manifest(t, "P1", "DN1", "P1", "DN2"))

	assert.Equal(t, 1, agg.ExpectedTotal())
	_, ok := agg.Group("DN2")
	assert.False(t, ok)
}

func TestProgressAggregator_ScannedNeverExceedsExpected(t *testing.T) {
	agg := NewProgressAggregator(manifest(t, "P1", "DN1", "P2", "DN2", "P3", "DN2"))
	for _, id := range []string{"P1", "P1", "P2", "P9", "P3", "P2", "P3"} {
		agg.Apply(id)
		for _, g := range agg.Progress().Groups {
			assert.LessOrEqual(t, g.ScannedCount, g.ExpectedCount)
		}
	}
	assert.Equal(t, 3, agg.ScannedTotal())
}

func TestGroupProgress_Percent(t *testing.T) {
	assert.True(t, GroupProgress{GroupID: "DN", ExpectedCount: 0}.Percent().IsZero())
	assert.True(t, GroupProgress{ExpectedCount: 3, ScannedCount: 1}.Percent().Equal(decimal.RequireFromString("33.33")))
	assert.True(t, GroupProgress{ExpectedCount: 4, ScannedCount: 4}.Percent().Equal(decimal.NewFromInt(100)))
	assert.False(t, GroupProgress{ExpectedCount: 0}.IsFullyScanned())
	assert.Equal(t, 3, GroupProgress{ExpectedCount: 4, ScannedCount: 1}.Remaining())
}
