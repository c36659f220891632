// Package retry drives the bounded attempt loop for a single target.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/use-agent/harvest/challenge"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/metrics"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/policy"
	"github.com/use-agent/harvest/session"
)

// Config holds the attempt-loop parameters.
type Config struct {
	MaxAttempts       int
	NavigationTimeout time.Duration
	StructureTimeout  time.Duration
	StructureSelector string
	StructurePhrase   string
	NotFoundMarker    string
	Referers          []string
	JitterMin         time.Duration
	JitterMax         time.Duration
}

// ConfigFrom builds a Config from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxAttempts:       cfg.Crawl.MaxAttempts,
		NavigationTimeout: cfg.Crawl.NavigationTimeout,
		StructureTimeout:  cfg.Crawl.StructureTimeout,
		StructureSelector: cfg.Crawl.StructureSelector,
		StructurePhrase:   cfg.Crawl.StructurePhrase,
		NotFoundMarker:    cfg.Crawl.NotFoundMarker,
		Referers:          cfg.Crawl.Referers,
		JitterMin:         cfg.Pacing.AttemptJitterMin,
		JitterMax:         cfg.Pacing.AttemptJitterMax,
	}
}

// Handler clears a challenge in place. *challenge.Resolver implements it.
type Handler interface {
	Handle(ctx context.Context, s session.Session, url string) challenge.Resolution
}

// Recorder persists terminal outcomes. *ledger.Ledger implements it.
type Recorder interface {
	RecordSuccess(ctx context.Context, target string, rec *models.Company) error
	RecordAbsent(ctx context.Context, target string) error
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Detector *challenge.Detector
	Handler  Handler
	Extract  extract.Func
	Ledger   Recorder
	Policy   policy.Policy
	Sleep    policy.SleepFunc
	Metrics  *metrics.Metrics
}

// Controller runs up to MaxAttempts attempts per target against the
// session it is given.
type Controller struct {
	cfg      Config
	detector *challenge.Detector
	handler  Handler
	extract  extract.Func
	ledger   Recorder
	policy   policy.Policy
	sleep    policy.SleepFunc
	metrics  *metrics.Metrics
}

// New creates a Controller. A nil Sleep defaults to policy.Sleep and a nil
// Extract to extract.Company.
func New(cfg Config, d Deps) *Controller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if d.Sleep == nil {
		d.Sleep = policy.Sleep
	}
	if d.Extract == nil {
		d.Extract = extract.Company
	}
	return &Controller{
		cfg:      cfg,
		detector: d.Detector,
		handler:  d.Handler,
		extract:  d.Extract,
		ledger:   d.Ledger,
		policy:   d.Policy,
		sleep:    d.Sleep,
		metrics:  d.Metrics,
	}
}

// Run processes target. Every attempt failure is converted to an Outcome
// and retried locally; only Success and Absent reach the ledger.
func (c *Controller) Run(ctx context.Context, s session.Session, target string) Result {
	res := Result{Target: target}

	var rec *models.Company
	for n := 1; n <= c.cfg.MaxAttempts; n++ {
		start := time.Now()
		got, absent, resetErr, err := c.attempt(ctx, s, target, &res)

		a := Attempt{Number: n, Err: err, Elapsed: time.Since(start)}
		switch {
		case absent:
			a.Outcome = Absent
		case err == nil:
			a.Outcome = Success
		case ctx.Err() != nil:
			a.Outcome, a.Err = Interrupted, ctx.Err()
		default:
			a.Outcome = outcomeOf(err)
		}
		if resetErr != nil {
			res.ResetFailed = true
			if a.Outcome.retryable() {
				a.Outcome, a.Err = SessionFault, resetErr
			}
		}
		res.Attempts = append(res.Attempts, a)
		res.Outcome, res.Err = a.Outcome, a.Err
		c.metrics.ObserveAttempt(a.Outcome.String(), a.Elapsed.Seconds())

		if a.Outcome == Success {
			rec = got
		}
		if !a.Outcome.retryable() || n == c.cfg.MaxAttempts {
			break
		}

		slog.Debug("attempt failed", "url", target, "attempt", n, "outcome", a.Outcome.String(), "error", a.Err)
		if err := c.sleep(ctx, c.policy.Between(c.cfg.JitterMin, c.cfg.JitterMax)); err != nil {
			res.Outcome, res.Err = Interrupted, err
			break
		}
	}

	c.record(ctx, &res, rec)
	return res
}

// record persists a terminal outcome. It runs detached from cancellation so
// a target that concluded just before an interrupt is not lost.
func (c *Controller) record(ctx context.Context, res *Result, rec *models.Company) {
	ctx = context.WithoutCancel(ctx)

	var err error
	switch res.Outcome {
	case Success:
		err = c.ledger.RecordSuccess(ctx, res.Target, rec)
		if err == nil {
			res.Record = rec
		}
	case Absent:
		err = c.ledger.RecordAbsent(ctx, res.Target)
	default:
		return
	}
	if err != nil {
		slog.Error("failed to record outcome", "url", res.Target, "outcome", res.Outcome.String(), "error", err)
		res.Outcome, res.Err = LedgerFailed, err
	}
}

// attempt makes one try at target. absent is true when the page is a
// confirmed not-found. Storage is reset on every return path; resetErr
// reports a failed reset.
func (c *Controller) attempt(ctx context.Context, s session.Session, target string, res *Result) (rec *models.Company, absent bool, resetErr, err error) {
	defer func() {
		if rerr := s.ResetStorage(context.WithoutCancel(ctx)); rerr != nil {
			slog.Debug("storage reset failed", "url", target, "error", rerr)
			resetErr = rerr
		}
	}()

	if err := s.Navigate(ctx, target, session.NavigateOptions{
		Referer:   c.referer(),
		WaitUntil: session.WaitInteractive,
		Timeout:   c.cfg.NavigationTimeout,
	}); err != nil {
		return nil, false, nil, err
	}

	markup, err := s.HTML(ctx)
	if err != nil {
		return nil, false, nil, err
	}
	if c.notFound(markup) {
		return nil, true, nil, nil
	}

	if phrase, ok := c.detector.Match(markup); ok {
		res.Challenges++
		c.metrics.ObserveChallenge()
		slog.Debug("challenge detected", "url", target, "phrase", phrase, "title", challenge.Title(markup))

		r := c.handler.Handle(ctx, s, target)
		if !r.Cleared {
			return nil, false, nil, models.NewHarvestError(models.ErrCodeChallengeUnresolved, "challenge handling failed", nil)
		}
		if markup, err = s.HTML(ctx); err != nil {
			return nil, false, nil, err
		}
		if c.notFound(markup) {
			return nil, true, nil, nil
		}
		if c.detector.LooksChallenged(markup) {
			return nil, false, nil, models.NewHarvestError(models.ErrCodeChallengeUnresolved,
				fmt.Sprintf("challenge persists after %s", r.Via), nil)
		}
	}

	if err := s.WaitSelector(ctx, c.cfg.StructureSelector, c.cfg.StructureTimeout); err != nil {
		if ctx.Err() != nil || session.IsFault(err) {
			return nil, false, nil, err
		}
		if markup, err = s.HTML(ctx); err != nil {
			return nil, false, nil, err
		}
		if !strings.Contains(markup, c.cfg.StructurePhrase) {
			return nil, false, nil, models.NewHarvestError(models.ErrCodeStructureMissing,
				fmt.Sprintf("no %s and no %q", c.cfg.StructureSelector, c.cfg.StructurePhrase), err)
		}
	} else if markup, err = s.HTML(ctx); err != nil {
		return nil, false, nil, err
	}

	rec, ok := c.extract(markup, target)
	if !ok || rec == nil {
		return nil, false, nil, models.NewHarvestError(models.ErrCodeExtractionFailed, "page yielded no record", nil)
	}
	if rec.URL == "" {
		rec.URL = target
	}
	return rec, false, nil, nil
}

func (c *Controller) notFound(markup string) bool {
	return c.cfg.NotFoundMarker != "" && strings.Contains(markup, c.cfg.NotFoundMarker)
}

func (c *Controller) referer() string {
	if len(c.cfg.Referers) == 0 {
		return ""
	}
	return c.cfg.Referers[c.policy.Pick(len(c.cfg.Referers))]
}
