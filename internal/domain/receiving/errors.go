package receiving

import (
	"errors"

	"github.com/erp/receiving/internal/domain/shared"
)

// ErrStoreUnavailable marks a timeout or connectivity fault in a store or
// transport. Repositories wrap the driver error with it; callers test with
// errors.Is and report TransientInfra.
var ErrStoreUnavailable = errors.New("receiving store unavailable")

// Domain errors
var (
	ErrEmptyPackageID   = shared.NewDomainError("VALIDATION_ERROR", "Package id cannot be empty")
	ErrPackageIDTooLong = shared.NewDomainError("VALIDATION_ERROR", "Package id is too long")
	ErrEmptyActor       = shared.NewDomainError("VALIDATION_ERROR", "Actor cannot be empty")
	ErrActorTooLong     = shared.NewDomainError("VALIDATION_ERROR", "Actor is too long")
	ErrSnapshotNotFound = shared.NewDomainError("SNAPSHOT_NOT_FOUND", "Session has not been completed")
	ErrSessionCompleted = shared.NewDomainError("SESSION_COMPLETED", "Session is already completed")
	ErrSessionNotFound  = shared.NewDomainError("SESSION_NOT_FOUND", "Receiving session not found")
)

// IsTransient reports whether err signals a retryable infrastructure fault
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
