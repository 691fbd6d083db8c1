package receiving

import (
	"strings"

	"github.com/erp/receiving/internal/domain/shared"
)

// ExpectedPackage is one shipping unit listed on the manifest of a session.
// It is created by the manifest import and never modified afterwards.
type ExpectedPackage struct {
	PackageID string
	GroupID   string
	Key       SessionKey
	UnitCount int
}

// MaxGroupIDLength bounds the length of a trimmed group id
const MaxGroupIDLength = 128

// NewExpectedPackage creates a manifest entry for the given session
func NewExpectedPackage(key SessionKey, packageID, groupID string, unitCount int) (ExpectedPackage, error) {
	id, err := ValidatePackageID(packageID)
	if err != nil {
		return ExpectedPackage{}, err
	}
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return ExpectedPackage{}, shared.NewDomainError("INVALID_GROUP", "Group id cannot be empty")
	}
	if len(groupID) > MaxGroupIDLength {
		return ExpectedPackage{}, shared.NewDomainError("INVALID_GROUP", "Group id is too long")
	}
	if unitCount < 0 {
		return ExpectedPackage{}, shared.NewDomainError("INVALID_UNIT_COUNT", "Unit count cannot be negative")
	}
	return ExpectedPackage{
		PackageID: id,
		GroupID:   groupID,
		Key:       key,
		UnitCount: unitCount,
	}, nil
}
