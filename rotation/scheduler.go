// Package rotation decides when the active session is retired and how long
// the run pauses between targets.
package rotation

import (
	"context"
	"time"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/policy"
)

// Reason records why a session was retired.
type Reason int

const (
	None Reason = iota

	// Failure follows a streak of whole-target failures.
	Failure

	// Fault follows a session that became unusable mid-target.
	Fault

	// Cadence refreshes the fingerprint every RotateEvery targets.
	Cadence
)

func (r Reason) String() string {
	switch r {
	case Failure:
		return "failure"
	case Fault:
		return "fault"
	case Cadence:
		return "cadence"
	default:
		return "none"
	}
}

// Config holds the rotation thresholds and pacing ranges.
type Config struct {
	FailureThreshold int
	RotateEvery      int

	InterTargetMin time.Duration
	InterTargetMax time.Duration

	MediumPauseEvery int
	MediumPauseMin   time.Duration
	MediumPauseMax   time.Duration

	LongPauseEvery int
	LongPauseMin   time.Duration
	LongPauseMax   time.Duration

	LaunchAttempts   int
	LaunchBackoffMin time.Duration
	LaunchBackoffMax time.Duration
}

// ConfigFrom builds a Config from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		FailureThreshold: cfg.Crawl.FailureThreshold,
		RotateEvery:      cfg.Pacing.RotateEvery,
		InterTargetMin:   cfg.Pacing.InterTargetMin,
		InterTargetMax:   cfg.Pacing.InterTargetMax,
		MediumPauseEvery: cfg.Pacing.MediumPauseEvery,
		MediumPauseMin:   cfg.Pacing.MediumPauseMin,
		MediumPauseMax:   cfg.Pacing.MediumPauseMax,
		LongPauseEvery:   cfg.Pacing.LongPauseEvery,
		LongPauseMin:     cfg.Pacing.LongPauseMin,
		LongPauseMax:     cfg.Pacing.LongPauseMax,
		LaunchAttempts:   cfg.Crawl.LaunchAttempts,
		LaunchBackoffMin: cfg.Pacing.LaunchBackoffMin,
		LaunchBackoffMax: cfg.Pacing.LaunchBackoffMax,
	}
}

// Pause is one scheduled delay.
type Pause struct {
	Kind     string // "inter-target", "medium", "long" or "launch-backoff"
	Duration time.Duration
}

// Scheduler evaluates the rotation triggers and pacing pauses. It holds no
// run state; callers pass the counters in.
type Scheduler struct {
	cfg    Config
	policy policy.Policy
	sleep  policy.SleepFunc
}

// New creates a Scheduler. A nil sleep defaults to policy.Sleep.
func New(cfg Config, pol policy.Policy, sleep policy.SleepFunc) *Scheduler {
	if sleep == nil {
		sleep = policy.Sleep
	}
	return &Scheduler{cfg: cfg, policy: pol, sleep: sleep}
}

// FailureDue reports whether the failure streak forces a rotation before the
// next target starts.
func (s *Scheduler) FailureDue(consecutiveFailures int) bool {
	return s.cfg.FailureThreshold > 0 && consecutiveFailures >= s.cfg.FailureThreshold
}

// CadenceDue reports whether the session is refreshed after the target at
// queue position idx, independent of its outcome.
func (s *Scheduler) CadenceDue(idx int) bool {
	return every(idx, s.cfg.RotateEvery)
}

// Pauses returns the delays that follow the target at queue position idx.
func (s *Scheduler) Pauses(idx int) []Pause {
	pauses := []Pause{{
		Kind:     "inter-target",
		Duration: s.policy.Between(s.cfg.InterTargetMin, s.cfg.InterTargetMax),
	}}
	if every(idx, s.cfg.MediumPauseEvery) {
		pauses = append(pauses, Pause{
			Kind:     "medium",
			Duration: s.policy.Between(s.cfg.MediumPauseMin, s.cfg.MediumPauseMax),
		})
	}
	if every(idx, s.cfg.LongPauseEvery) {
		pauses = append(pauses, Pause{
			Kind:     "long",
			Duration: s.policy.Between(s.cfg.LongPauseMin, s.cfg.LongPauseMax),
		})
	}
	return pauses
}

// LaunchAttempts is how many times one session creation is tried. It is at
// least 1.
func (s *Scheduler) LaunchAttempts() int {
	return max(s.cfg.LaunchAttempts, 1)
}

// LaunchBackoff is the delay before retrying a failed session creation.
func (s *Scheduler) LaunchBackoff() Pause {
	return Pause{
		Kind:     "launch-backoff",
		Duration: s.policy.Between(s.cfg.LaunchBackoffMin, s.cfg.LaunchBackoffMax),
	}
}

// Sleep performs p, returning early with ctx's error on cancellation.
func (s *Scheduler) Sleep(ctx context.Context, p Pause) error {
	return s.sleep(ctx, p.Duration)
}

// every reports idx > 0 && idx%n == 0; a non-positive n disables the trigger.
func every(idx, n int) bool {
	return n > 0 && idx > 0 && idx%n == 0
}
