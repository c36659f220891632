package models

import (
	"errors"
	"fmt"
)

// Error codes used by the attempt loop and the run summary.
const (
	ErrCodeTimeout             = "NAVIGATION_TIMEOUT"
	ErrCodeNavigation          = "NAVIGATION_FAILED"
	ErrCodeChallengeUnresolved = "CHALLENGE_UNRESOLVED"
	ErrCodeStructureMissing    = "STRUCTURE_MISSING"
	ErrCodeExtractionFailed    = "EXTRACTION_FAILED"
	ErrCodeSessionFault        = "SESSION_FAULT"
	ErrCodeLedgerWrite         = "LEDGER_WRITE_FAILED"
	ErrCodeLoad                = "LOAD_FAILED"
)

// HarvestError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type HarvestError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *HarvestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *HarvestError) Unwrap() error {
	return e.Err
}

// NewHarvestError creates a new HarvestError.
func NewHarvestError(code, message string, err error) *HarvestError {
	return &HarvestError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first HarvestError in err's chain, or ""
// when there is none.
func CodeOf(err error) string {
	var he *HarvestError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}
