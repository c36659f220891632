// Package crawler composes the attempt loop, rotation and ledger into one
// sequential run over the target queue.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/use-agent/harvest/metrics"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/retry"
	"github.com/use-agent/harvest/rotation"
	"github.com/use-agent/harvest/session"
	"github.com/use-agent/harvest/targets"
	"golang.org/x/time/rate"
)

// Attempter processes one target on a session. *retry.Controller
// implements it.
type Attempter interface {
	Run(ctx context.Context, s session.Session, target string) retry.Result
}

// SeenLister lists the targets concluded by earlier runs.
type SeenLister interface {
	Seen(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	RunID     string
	Targets   []string
	Ledger    SeenLister
	Factory   session.Factory
	Limiter   *rate.Limiter
	Attempter Attempter
	Scheduler *rotation.Scheduler
	Metrics   *metrics.Metrics
}

// Orchestrator runs the queue with exactly one live session at a time.
type Orchestrator struct {
	d Deps

	mu   sync.Mutex
	snap RunState
}

// New creates an Orchestrator in the LOADING phase.
func New(d Deps) *Orchestrator {
	return &Orchestrator{d: d, snap: RunState{RunID: d.RunID, Phase: Loading}}
}

// Snapshot returns a copy of the latest published run state. It is safe to
// call from other goroutines while Run is in progress.
func (o *Orchestrator) Snapshot() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.snap
	if s.Phase == Running {
		s.Elapsed = time.Since(s.Started)
	}
	return s
}

func (o *Orchestrator) publish(st *RunState) {
	o.mu.Lock()
	o.snap = *st
	o.mu.Unlock()
}

// Run builds the queue and processes it in order. It returns the final
// run state in every case. The error is non-nil only when the run could not
// start: the seen-set could not be read or no first session could be
// created. Sessions lost mid-run are recreated with backoff and never end
// the run. An interrupt of ctx ends the run in the INTERRUPTED phase with a
// nil error.
func (o *Orchestrator) Run(ctx context.Context) (RunState, error) {
	st := RunState{RunID: o.d.RunID, Phase: Loading, Started: time.Now()}
	o.publish(&st)

	seen, err := o.d.Ledger.Seen(ctx)
	if err != nil {
		o.finish(&st, Failed)
		return st, err
	}
	queue := targets.BuildQueue(o.d.Targets, seen)
	st.Total = len(queue)
	slog.Info("queue built", "targets", len(o.d.Targets), "seen", len(seen), "queued", st.Total)

	err = o.withSession(ctx, func(h *holder) error {
		st.Phase = Running
		o.publish(&st)
		return o.loop(ctx, h, queue, &st)
	})

	switch {
	case ctx.Err() != nil:
		o.finish(&st, Interrupted)
		err = nil
	case err != nil:
		o.finish(&st, Failed)
	default:
		o.finish(&st, Completed)
	}
	return st, err
}

func (o *Orchestrator) finish(st *RunState, phase Phase) {
	st.Phase = phase
	st.Finished = time.Now()
	st.Elapsed = st.Finished.Sub(st.Started)
	o.publish(st)
}

func (o *Orchestrator) loop(ctx context.Context, h *holder, queue []string, st *RunState) error {
	o.d.Metrics.SetQueueRemaining(len(queue))

	for idx, target := range queue {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.Index = idx

		switch {
		case h.current == nil:
			if err := o.rotate(ctx, h, st, rotation.Fault); err != nil {
				return err
			}
		case o.d.Scheduler.FailureDue(st.ConsecutiveFailures):
			slog.Warn("too many consecutive failures, rotating session", "failures", st.ConsecutiveFailures)
			if err := o.rotate(ctx, h, st, rotation.Failure); err != nil {
				return err
			}
		}

		var res retry.Result
		if h.current == nil {
			res = retry.Result{Target: target, Outcome: retry.SessionFault, Err: h.err}
		} else {
			res = o.d.Attempter.Run(ctx, h.current, target)
		}
		if res.Outcome == retry.Interrupted {
			return ctx.Err()
		}
		o.account(st, res)
		o.publish(st)
		o.d.Metrics.SetQueueRemaining(len(queue) - st.Processed)
		logProgress(st)

		switch {
		case h.current == nil:
			// The next target retries the launch.
		case res.NeedsRotation():
			if err := o.rotate(ctx, h, st, rotation.Fault); err != nil {
				return err
			}
		case o.d.Scheduler.CadenceDue(idx):
			if err := o.rotate(ctx, h, st, rotation.Cadence); err != nil {
				return err
			}
		}

		if idx == len(queue)-1 {
			break
		}
		for _, p := range o.d.Scheduler.Pauses(idx) {
			if p.Kind != "inter-target" {
				slog.Info("pausing", "kind", p.Kind, "duration", p.Duration.Round(time.Millisecond))
			}
			if err := o.d.Scheduler.Sleep(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// account folds one target result into the run counters.
func (o *Orchestrator) account(st *RunState, res retry.Result) {
	st.Processed++
	st.Challenges += res.Challenges
	switch {
	case res.Outcome == retry.Success:
		st.Successes++
		st.ConsecutiveFailures = 0
	case res.Outcome == retry.Absent:
		st.Absent++
		st.ConsecutiveFailures = 0
	case res.WholeTargetFailure():
		st.Failures++
		st.ConsecutiveFailures++
		slog.Debug("target failed", "url", res.Target, "outcome", res.Outcome.String(),
			"attempts", len(res.Attempts), "error", res.Err)
	}
	o.d.Metrics.ObserveTarget(res.Outcome.String())
}

// rotate retires the current session and installs a fresh one. Failure and
// fault rotations clear the failure streak. When no session can be created
// the run continues without one and rotate returns nil; it returns an error
// only when ctx ends.
func (o *Orchestrator) rotate(ctx context.Context, h *holder, st *RunState, reason rotation.Reason) error {
	if err := h.replace(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("session unavailable, continuing without one", "reason", reason.String(), "error", err)
		return nil
	}
	st.Rotations++
	switch reason {
	case rotation.Failure:
		st.FailureRotations++
		st.ConsecutiveFailures = 0
	case rotation.Fault:
		st.FaultRotations++
		st.ConsecutiveFailures = 0
	case rotation.Cadence:
		st.CadenceRotations++
	}
	o.publish(st)
	o.d.Metrics.ObserveRotation(reason.String())
	slog.Info("session rotated", "reason", reason.String(), "rotations", st.Rotations,
		"userAgent", h.current.Identity().UserAgent)
	return nil
}

// holder owns the single live session of a run.
type holder struct {
	factory session.Factory
	limiter *rate.Limiter
	sched   *rotation.Scheduler
	current session.Session

	// err is the last creation failure while current is nil.
	err error
}

// acquire creates a session, retrying with the scheduler's launch backoff.
func (h *holder) acquire(ctx context.Context) error {
	attempts := h.sched.LaunchAttempts()
	var err error
	for i := 1; i <= attempts; i++ {
		var s session.Session
		if s, err = h.factory.New(ctx); err == nil {
			h.current = session.RateLimited(s, h.limiter)
			h.err = nil
			return nil
		}
		if i == attempts || ctx.Err() != nil {
			break
		}
		p := h.sched.LaunchBackoff()
		slog.Warn("session creation failed, retrying", "attempt", i, "backoff", p.Duration.Round(time.Millisecond), "error", err)
		if serr := h.sched.Sleep(ctx, p); serr != nil {
			break
		}
	}
	h.err = models.NewHarvestError(models.ErrCodeSessionFault, "failed to create session", err)
	return h.err
}

func (h *holder) replace(ctx context.Context) error {
	h.release()
	return h.acquire(ctx)
}

// release closes the current session. Teardown errors are logged and
// swallowed.
func (h *holder) release() {
	if h.current == nil {
		return
	}
	if err := h.current.Close(); err != nil {
		slog.Debug("session teardown failed", "error", err)
	}
	h.current = nil
}

// withSession acquires a session, runs fn and releases whatever session is
// current when fn returns, on every path.
func (o *Orchestrator) withSession(ctx context.Context, fn func(h *holder) error) (err error) {
	h := &holder{factory: o.d.Factory, limiter: o.d.Limiter, sched: o.d.Scheduler}
	defer func() {
		h.release()
		if r := recover(); r != nil {
			err = fmt.Errorf("crawler: panic in run loop: %v", r)
		}
	}()
	if err := h.acquire(ctx); err != nil {
		return err
	}
	return fn(h)
}

func logProgress(st *RunState) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	slog.Info("progress",
		"done", st.Processed,
		"total", st.Total,
		"successes", st.Successes,
		"failStreak", st.ConsecutiveFailures,
		"elapsed", time.Since(st.Started).Round(100*time.Millisecond).String(),
		"challenges", st.Challenges,
		"heapMB", fmt.Sprintf("%.1f", float64(ms.HeapInuse)/(1<<20)),
	)
}
