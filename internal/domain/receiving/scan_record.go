package receiving

import (
	"strings"
	"time"
)

// ScanRecord is the durable proof that a package was received in a session.
// At most one exists per (session, package); it is never updated or deleted.
type ScanRecord struct {
	PackageID string
	Key       SessionKey
	Actor     string
	ScannedAt time.Time
}

// MaxActorLength bounds the length of a trimmed actor name
const MaxActorLength = 128

// ValidateActor trims actor and checks it is non-empty and short enough to store
func ValidateActor(actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", ErrEmptyActor
	}
	if len(actor) > MaxActorLength {
		return "", ErrActorTooLong
	}
	return actor, nil
}

// NewScanRecord creates a scan record stamped with the current time
func NewScanRecord(key SessionKey, packageID, actor string) (*ScanRecord, error) {
	id, err := ValidatePackageID(packageID)
	if err != nil {
		return nil, err
	}
	actor, err = ValidateActor(actor)
	if err != nil {
		return nil, err
	}
	return &ScanRecord{
		PackageID: id,
		Key:       key,
		Actor:     actor,
		ScannedAt: time.Now().UTC(),
	}, nil
}
