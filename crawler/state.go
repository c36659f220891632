package crawler

import (
	"fmt"
	"time"
)

// Phase is the run's position in LOADING → RUNNING → INTERRUPTED|COMPLETED.
// FAILED ends a run that could not start: the seen-set was unreadable or no
// first session could be created.
type Phase int

const (
	Loading Phase = iota
	Running
	Interrupted
	Completed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "RUNNING"
	case Interrupted:
		return "INTERRUPTED"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	default:
		return "LOADING"
	}
}

// MarshalText lets the phase appear by name in JSON snapshots.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// RunState is every counter of a run. The control loop owns the live copy;
// readers get snapshots.
type RunState struct {
	RunID string `json:"run_id"`
	Phase Phase  `json:"phase"`

	// Total is the queue length after subtracting the seen-set.
	Total int `json:"total"`

	// Index is the queue position of the target in flight.
	Index int `json:"index"`

	Processed           int `json:"processed"`
	Successes           int `json:"successes"`
	Absent              int `json:"absent"`
	Failures            int `json:"failures"`
	ConsecutiveFailures int `json:"consecutive_failures"`
	Challenges          int `json:"challenges"`

	Rotations        int `json:"rotations"`
	FailureRotations int `json:"failure_rotations"`
	FaultRotations   int `json:"fault_rotations"`
	CadenceRotations int `json:"cadence_rotations"`

	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished,omitzero"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// SuccessRate is successes over queued targets, in percent.
func (s RunState) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Total) * 100
}

// Summary is the one-line report emitted when a run ends.
func (s RunState) Summary() string {
	return fmt.Sprintf("%d/%d harvested (%.1f%%) in %s",
		s.Successes, s.Total, s.SuccessRate(), s.Elapsed.Round(10*time.Millisecond))
}
