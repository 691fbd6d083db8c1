package event

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/receiving/internal/domain/receiving"
)

func TestEventSerializer_Register(t *testing.T) {
	serializer := NewEventSerializer()
	serializer.Register(&receiving.ManifestReloadedEvent{})

	assert.True(t, serializer.IsRegistered(receiving.EventTypeManifestReloaded))
	assert.False(t, serializer.IsRegistered(receiving.EventTypeScanAccepted))
}

func TestNewReceivingSerializer_RegisteredTypes(t *testing.T) {
	assert.Equal(t, []string{
		receiving.EventTypeManifestReloaded,
		receiving.EventTypeScanAccepted,
		receiving.EventTypeSessionCompleted,
		receiving.EventTypeSessionStatusChanged,
	}, NewReceivingSerializer().RegisteredTypes())
}

func TestEventSerializer_RoundTrip_StatusChanged(t *testing.T) {
	serializer := NewReceivingSerializer()
	snapshotID := uuid.New()
	evt := receiving.NewSessionStatusChangedEvent(testKey, receiving.SessionStatusCompleting, receiving.SessionStatusCompleted, "bob", &snapshotID)

	data, err := serializer.Serialize(evt)
	require.NoError(t, err)

	decoded, err := serializer.Deserialize(evt.EventType(), data)
	require.NoError(t, err)

	got, ok := decoded.(*receiving.SessionStatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, evt.EventID(), got.EventID())
	assert.Equal(t, evt.AggregateID(), got.AggregateID())
	assert.True(t, evt.OccurredAt().Equal(got.OccurredAt()))
	assert.Equal(t, testKey, got.SessionKey())
	assert.Equal(t, receiving.SessionStatusCompleted, got.To)
	require.NotNil(t, got.SnapshotID)
	assert.Equal(t, snapshotID, *got.SnapshotID)
}

func TestEventSerializer_RoundTrip_SessionCompleted(t *testing.T) {
	serializer := NewReceivingSerializer()
	scannedAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	snapshot := &receiving.SessionSnapshot{
		ID:              uuid.New(),
		Key:             testKey,
		ManifestVersion: 1,
		Lines: []receiving.SnapshotLine{
			{PackageID: "P1", GroupID: "G1", UnitCount: 2, Expected: true, Scanned: true, ScannedBy: "alice", ScannedAt: &scannedAt},
		},
		ExpectedTotal: 1,
		ScannedTotal:  1,
		CompletedBy:   "alice",
	}
	evt := receiving.NewSessionCompletedEvent(snapshot)

	data, err := serializer.Serialize(evt)
	require.NoError(t, err)
	decoded, err := serializer.Deserialize(receiving.EventTypeSessionCompleted, data)
	require.NoError(t, err)

	got := decoded.(*receiving.SessionCompletedEvent)
	require.NotNil(t, got.Snapshot)
	assert.Equal(t, snapshot.ID, got.Snapshot.ID)
	assert.Equal(t, testKey, got.Snapshot.Key)
	require.Len(t, got.Snapshot.Lines, 1)
	assert.True(t, scannedAt.Equal(*got.Snapshot.Lines[0].ScannedAt))
}

func TestEventSerializer_Deserialize_Errors(t *testing.T) {
	serializer := NewReceivingSerializer()

	_, err := serializer.Deserialize("UnknownEvent", []byte(`{}`))
	assert.ErrorContains(t, err, "unknown event type")

	_, err = serializer.Deserialize(receiving.EventTypeScanAccepted, []byte(`{not json`))
	assert.ErrorContains(t, err, "failed to unmarshal")
}
