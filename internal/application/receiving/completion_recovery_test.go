package receiving

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/receiving/internal/domain/receiving"
)

func TestRecoverStale_ReopensStuckSession(t *testing.T) {
	e := newTestEngine(t)
	key := testKey()
	e.seed(t, key, "P1", "DN1")
	e.scan(t, key, "P1")

	// A finalizer that died after its first compare-and-set
	won, err := e.sessions.CompareAndSetStatus(context.Background(), key, receiving.SessionStatusOpen, receiving.SessionStatusCompleting)
	require.NoError(t, err)
	require.True(t, won)

	res, err := e.svc.RequestCompletion(context.Background(), key, "carol")
	require.NoError(t, err)
	assert.Equal(t, receiving.CompletionOutcomeInProgress, res.Outcome)

	sub, _, err := e.svc.Subscribe(context.Background(), key)
	require.NoError(t, err)
	defer sub.Close()
	changed := waitFor(sub, receiving.EventTypeSessionStatusChanged)

	n, err := e.svc.finalizer.RecoverStale(context.Background(), e.sessions, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "session is not old enough yet")

	n, err = e.svc.finalizer.RecoverStale(context.Background(), e.sessions, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case evt := <-changed:
		sc := evt.(*receiving.SessionStatusChangedEvent)
		assert.Equal(t, receiving.SessionStatusCompleting, sc.From)
		assert.Equal(t, receiving.SessionStatusOpen, sc.To)
		assert.Equal(t, RecoveryActor, sc.Actor)
	case <-time.After(2 * time.Second):
		t.Fatal("no status change broadcast")
	}

	session, err := e.sessions.FindByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, receiving.SessionStatusOpen, session.Status)

	res, err = e.svc.RequestCompletion(context.Background(), key, "carol")
	require.NoError(t, err)
	assert.Equal(t, receiving.CompletionOutcomeCompleted, res.Outcome)

	n, err = e.svc.finalizer.RecoverStale(context.Background(), e.sessions, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "completed sessions are left alone")
}

func TestService_RecoverStaleCompletionsNeedsFinder(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.svc.RecoverStaleCompletions(context.Background(), time.Minute)
	assert.ErrorIs(t, err, ErrRecoveryUnavailable)
}
