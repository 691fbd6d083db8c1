package receiving

import (
	"context"
	"errors"
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// RecoveryActor is recorded on status changes made by the recovery sweep
const RecoveryActor = "system:recovery"

// ErrRecoveryUnavailable is returned when the service has no StaleSessionFinder
var ErrRecoveryUnavailable = errors.New("completion recovery is not configured")

// RecoverStale reopens sessions left COMPLETING for longer than olderThan,
// which happens when a finalizer dies between its two status changes. It
// returns how many sessions were reopened.
func (f *CompletionFinalizer) RecoverStale(ctx context.Context, finder StaleSessionFinder, olderThan time.Duration) (int, error) {
	var keys []receiving.SessionKey
	if _, err := f.withStore(ctx, func(ctx context.Context) (bool, error) {
		var err error
		keys, err = finder.FindStale(ctx, receiving.SessionStatusCompleting, f.now().Add(-olderThan))
		return true, err
	}); err != nil {
		return 0, err
	}

	reopened := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return reopened, ctx.Err()
		}
		if f.revert(ctx, key, RecoveryActor) {
			reopened++
			logger.L(ctx).Warn("reopened session stuck in COMPLETING",
				zap.String("session", key.String()),
				zap.Duration("older_than", olderThan),
			)
		}
	}
	return reopened, nil
}
