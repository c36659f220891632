package retry

import (
	"time"

	"github.com/use-agent/harvest/models"
)

// Outcome is the tagged result of one attempt or of a whole target.
type Outcome int

const (
	Success Outcome = iota
	Absent
	Timeout
	NavigationFailed
	ChallengeUnresolved
	StructureMissing
	ExtractionFailed
	SessionFault
	LedgerFailed

	// Interrupted marks a target cut short by cancellation of the run.
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Absent:
		return "absent"
	case Timeout:
		return "timeout"
	case NavigationFailed:
		return "navigation-failed"
	case ChallengeUnresolved:
		return "challenge-unresolved"
	case StructureMissing:
		return "structure-missing"
	case ExtractionFailed:
		return "extraction-failed"
	case SessionFault:
		return "session-fault"
	case LedgerFailed:
		return "ledger-failed"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Resolved reports whether the target has terminally concluded and belongs
// in the seen-set.
func (o Outcome) Resolved() bool { return o == Success || o == Absent }

// retryable reports whether another attempt on the same session may help.
func (o Outcome) retryable() bool {
	switch o {
	case Timeout, NavigationFailed, ChallengeUnresolved, StructureMissing, ExtractionFailed:
		return true
	default:
		return false
	}
}

// outcomeOf maps a HarvestError code to its attempt outcome.
func outcomeOf(err error) Outcome {
	if err == nil {
		return Success
	}
	switch models.CodeOf(err) {
	case models.ErrCodeTimeout:
		return Timeout
	case models.ErrCodeChallengeUnresolved:
		return ChallengeUnresolved
	case models.ErrCodeStructureMissing:
		return StructureMissing
	case models.ErrCodeExtractionFailed:
		return ExtractionFailed
	case models.ErrCodeSessionFault:
		return SessionFault
	case models.ErrCodeLedgerWrite:
		return LedgerFailed
	default:
		return NavigationFailed
	}
}

// Attempt is the ephemeral record of one try at a target.
type Attempt struct {
	Number  int
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// Result is what the controller reports for a target.
type Result struct {
	Target   string
	Outcome  Outcome
	Record   *models.Company
	Attempts []Attempt

	// Err is the error behind a non-resolved Outcome.
	Err error

	// Challenges counts rendered pages that matched a challenge signature.
	Challenges int

	// ResetFailed is set when clearing storage failed after some attempt.
	ResetFailed bool
}

// NeedsRotation reports whether the session must be replaced before the
// next target.
func (r Result) NeedsRotation() bool { return r.Outcome == SessionFault || r.ResetFailed }

// WholeTargetFailure reports whether the target counts toward the
// consecutive-failure streak. Interrupted targets do not.
func (r Result) WholeTargetFailure() bool {
	return !r.Outcome.Resolved() && r.Outcome != Interrupted
}
