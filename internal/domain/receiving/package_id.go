package receiving

import (
	"strings"

	"golang.org/x/text/width"
)

// MaxPackageIDLength bounds the length of a normalized package id
const MaxPackageIDLength = 128

// NormalizePackageID trims surrounding whitespace and folds full-width
// characters emitted by some handheld scanners to their ASCII form.
func NormalizePackageID(raw string) string {
	return strings.TrimSpace(width.Fold.String(strings.TrimSpace(raw)))
}

// ValidatePackageID normalizes raw and rejects empty or oversized ids
func ValidatePackageID(raw string) (string, error) {
	id := NormalizePackageID(raw)
	if id == "" {
		return "", ErrEmptyPackageID
	}
	if len(id) > MaxPackageIDLength {
		return id, ErrPackageIDTooLong
	}
	return id, nil
}
