package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeUnavailable is used when a backing store cannot be reached in time
	ErrCodeUnavailable = "ERR_SERVICE_UNAVAILABLE"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeInvalidLocation is used for a malformed location path segment
	ErrCodeInvalidLocation = "ERR_VALIDATION_LOCATION"
	// ErrCodeInvalidDate is used for a session date that is not YYYY-MM-DD
	ErrCodeInvalidDate = "ERR_VALIDATION_DATE"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when no actor can be established
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeTokenInvalid is used when the bearer token fails verification
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeSessionNotFound is used when a receiving session does not exist
	ErrCodeSessionNotFound = "ERR_SESSION_NOT_FOUND"
	// ErrCodeSnapshotNotFound is used when a session has no snapshot yet
	ErrCodeSnapshotNotFound = "ERR_SNAPSHOT_NOT_FOUND"
	// ErrCodeConcurrencyConflict is used when a concurrent writer won
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
)

// Business rule error codes
const (
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeSessionCompleted is used when a completed session is modified
	ErrCodeSessionCompleted = "ERR_SESSION_COMPLETED"
	// ErrCodeNotSupported is used when the deployment lacks a feature
	ErrCodeNotSupported = "ERR_NOT_SUPPORTED"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,

	// Validation errors -> 400 Bad Request
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeInvalidLocation: http.StatusBadRequest,
	ErrCodeInvalidDate:     http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeSessionNotFound:     http.StatusNotFound,
	ErrCodeSnapshotNotFound:    http.StatusNotFound,
	ErrCodeConcurrencyConflict: http.StatusConflict,

	// Business rule errors -> 409/422
	ErrCodeInvalidState:     http.StatusUnprocessableEntity,
	ErrCodeSessionCompleted: http.StatusConflict,
	ErrCodeNotSupported:     http.StatusNotImplemented,

	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":            ErrCodeNotFound,
	"SESSION_NOT_FOUND":    ErrCodeSessionNotFound,
	"SNAPSHOT_NOT_FOUND":   ErrCodeSnapshotNotFound,
	"INVALID_INPUT":        ErrCodeInvalidInput,
	"INVALID_LOCATION":     ErrCodeInvalidLocation,
	"INVALID_DATE":         ErrCodeInvalidDate,
	"INVALID_GROUP":        ErrCodeValidation,
	"INVALID_UNIT_COUNT":   ErrCodeValidation,
	"VALIDATION_ERROR":     ErrCodeValidation,
	"INVALID_STATE":        ErrCodeInvalidState,
	"INVALID_TRANSITION":   ErrCodeInvalidState,
	"SNAPSHOT_REQUIRED":    ErrCodeInvalidState,
	"SESSION_COMPLETED":    ErrCodeSessionCompleted,
	"CONCURRENCY_CONFLICT": ErrCodeConcurrencyConflict,
	"UNAUTHORIZED":         ErrCodeUnauthorized,
	"BROADCAST_DISABLED":   ErrCodeNotSupported,
	"MANIFEST_READ_ONLY":   ErrCodeNotSupported,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes already in the API format or unknown are returned as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
