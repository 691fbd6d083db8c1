package receiving

// ScanOutcome is the business result of registering a scan
type ScanOutcome string

const (
	ScanOutcomeSuccess           ScanOutcome = "SUCCESS"
	ScanOutcomeDuplicate         ScanOutcome = "DUPLICATE_SCAN"
	ScanOutcomeUnexpectedPackage ScanOutcome = "UNEXPECTED_PACKAGE"
	ScanOutcomeSessionClosed     ScanOutcome = "SESSION_CLOSED"
	ScanOutcomeValidationError   ScanOutcome = "VALIDATION_ERROR"
	ScanOutcomeTransientInfra    ScanOutcome = "TRANSIENT_INFRA"
)

// Accepted reports whether the scan was recorded
func (o ScanOutcome) Accepted() bool {
	return o == ScanOutcomeSuccess
}

// Retryable reports whether the caller may retry the same scan
func (o ScanOutcome) Retryable() bool {
	return o == ScanOutcomeTransientInfra
}

// Reason returns an operator-facing explanation of the outcome
func (o ScanOutcome) Reason() string {
	switch o {
	case ScanOutcomeSuccess:
		return "scan recorded"
	case ScanOutcomeDuplicate:
		return "package already scanned in this session"
	case ScanOutcomeUnexpectedPackage:
		return "package is not part of this session's shipment"
	case ScanOutcomeSessionClosed:
		return "session is completed, scanning is disabled"
	case ScanOutcomeValidationError:
		return "package id is empty or malformed"
	case ScanOutcomeTransientInfra:
		return "temporary storage problem, try again"
	}
	return string(o)
}

// CompletionOutcome is the business result of a completion request
type CompletionOutcome string

const (
	CompletionOutcomeCompleted          CompletionOutcome = "COMPLETED"
	CompletionOutcomeAlreadyCompleted   CompletionOutcome = "ALREADY_COMPLETED"
	CompletionOutcomeInProgress         CompletionOutcome = "IN_PROGRESS"
	CompletionOutcomeEligibilityLost    CompletionOutcome = "ELIGIBILITY_LOST"
	CompletionOutcomePersistenceFailure CompletionOutcome = "PERSISTENCE_FAILURE"
	CompletionOutcomeTransientInfra     CompletionOutcome = "TRANSIENT_INFRA"
)

// HasSnapshot reports whether the outcome carries a snapshot
func (o CompletionOutcome) HasSnapshot() bool {
	return o == CompletionOutcomeCompleted || o == CompletionOutcomeAlreadyCompleted
}

// Reason returns an operator-facing explanation of the outcome
func (o CompletionOutcome) Reason() string {
	switch o {
	case CompletionOutcomeCompleted:
		return "session completed"
	case CompletionOutcomeAlreadyCompleted:
		return "session was already completed"
	case CompletionOutcomeInProgress:
		return "another completion is in progress"
	case CompletionOutcomeEligibilityLost:
		return "session is no longer fully scanned"
	case CompletionOutcomePersistenceFailure:
		return "snapshot could not be saved, session remains open"
	case CompletionOutcomeTransientInfra:
		return "temporary storage problem, try again"
	}
	return string(o)
}
