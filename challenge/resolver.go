package challenge

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/harvest/policy"
	"github.com/use-agent/harvest/session"
)

// scriptedChallengeJS seeds the options object scripted challenge flows wait
// for and fires the event they listen on.
const scriptedChallengeJS = `() => {
	window.__cf_chl_opt = {
		cvId: "2",
		cType: "non-interactive",
		cNounce: "12345",
		cRay: "mock_ray_id",
		cHash: "mock_hash",
		cPMd: "",
		cRT: "1",
		cT: Math.floor(Date.now() / 1000)
	};
	document.dispatchEvent(new Event('cf_chl_opt'));
}`

// Step identifies one technique of the layered strategy.
type Step int

const (
	StepNone Step = iota
	StepPassiveWait
	StepVerifyClick
	StepScriptedTrigger
	StepReload
	StepRenavigate
)

func (s Step) String() string {
	switch s {
	case StepPassiveWait:
		return "passive-wait"
	case StepVerifyClick:
		return "verify-click"
	case StepScriptedTrigger:
		return "scripted-trigger"
	case StepReload:
		return "reload"
	case StepRenavigate:
		return "renavigate"
	default:
		return "none"
	}
}

// Resolution is the outcome of Resolve or Handle. Via is StepNone when the
// challenge is not believed cleared.
type Resolution struct {
	Cleared bool
	Via     Step
}

func cleared(via Step) Resolution { return Resolution{Cleared: true, Via: via} }

// Config holds the selectors and timings of the strategy.
type Config struct {
	// ClearedSelector matches once the challenge shell has been replaced.
	ClearedSelector string
	ClearedTimeout  time.Duration

	// VerifySelector is the interactive human-verification control.
	VerifySelector string

	// Dwell is the pause after a click or a scripted trigger.
	Dwell time.Duration

	// ReloadDwell is the pause between a cache-bypassing reload and the re-check.
	ReloadDwell time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration

	// RenavigateTimeout bounds the final network-idle navigation.
	RenavigateTimeout time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		ClearedSelector:   "body:not([class*='no-js'])",
		ClearedTimeout:    10 * time.Second,
		VerifySelector:    "input[value='Verify I am human']",
		Dwell:             5 * time.Second,
		ReloadDwell:       3 * time.Second,
		BackoffMin:        5 * time.Second,
		BackoffMax:        10 * time.Second,
		RenavigateTimeout: 10 * time.Second,
	}
}

// Resolver runs the escalation strategy against a live session.
type Resolver struct {
	cfg      Config
	detector *Detector
	policy   policy.Policy
	sleep    policy.SleepFunc
}

// NewResolver creates a Resolver. A nil sleep defaults to policy.Sleep.
func NewResolver(cfg Config, detector *Detector, pol policy.Policy, sleep policy.SleepFunc) *Resolver {
	if sleep == nil {
		sleep = policy.Sleep
	}
	return &Resolver{cfg: cfg, detector: detector, policy: pol, sleep: sleep}
}

// Resolve tries, in order, a passive wait for the cleared marker, a click on
// the verification control and a scripted completion trigger, stopping at
// the first that succeeds. A failing step, renderer errors included, falls
// through to the next one.
func (r *Resolver) Resolve(ctx context.Context, s session.Session, url string) Resolution {
	steps := []struct {
		step Step
		run  func(context.Context, session.Session) bool
	}{
		{StepPassiveWait, r.passiveWait},
		{StepVerifyClick, r.verifyClick},
		{StepScriptedTrigger, r.scriptedTrigger},
	}
	for _, st := range steps {
		if ctx.Err() != nil {
			return Resolution{}
		}
		if st.run(ctx, s) {
			slog.Debug("challenge step succeeded", "url", url, "step", st.step.String())
			return cleared(st.step)
		}
	}
	return Resolution{}
}

func (r *Resolver) passiveWait(ctx context.Context, s session.Session) bool {
	return s.WaitSelector(ctx, r.cfg.ClearedSelector, r.cfg.ClearedTimeout) == nil
}

// verifyClick reports success without re-checking the page: the click is
// best-effort and the caller re-reads the markup anyway.
func (r *Resolver) verifyClick(ctx context.Context, s session.Session) bool {
	has, err := s.Has(ctx, r.cfg.VerifySelector)
	if err != nil || !has {
		return false
	}
	if err := s.Click(ctx, r.cfg.VerifySelector); err != nil {
		return false
	}
	return r.sleep(ctx, r.cfg.Dwell) == nil
}

func (r *Resolver) scriptedTrigger(ctx context.Context, s session.Session) bool {
	if _, err := s.Eval(ctx, scriptedChallengeJS); err != nil {
		return false
	}
	return r.sleep(ctx, r.cfg.Dwell) == nil
}

// Handle is the escalation used when a navigation lands on a challenge:
//
//  1. cache-bypassing reload, then re-check the markup
//  2. Resolve
//  3. randomized backoff, then one direct network-idle re-navigation
//
// Step 3 reports success as soon as the navigation completes; it does not
// re-check the markup.
func (r *Resolver) Handle(ctx context.Context, s session.Session, url string) Resolution {
	if r.reloadClears(ctx, s) {
		return cleared(StepReload)
	}

	if res := r.Resolve(ctx, s, url); res.Cleared {
		return res
	}

	backoff := r.policy.Between(r.cfg.BackoffMin, r.cfg.BackoffMax)
	slog.Debug("challenge persists, backing off before re-navigation", "url", url, "backoff", backoff)
	if err := r.sleep(ctx, backoff); err != nil {
		return Resolution{}
	}

	if err := s.Navigate(ctx, url, session.NavigateOptions{
		WaitUntil: session.WaitNetworkIdle,
		Timeout:   r.cfg.RenavigateTimeout,
	}); err != nil {
		return Resolution{}
	}
	return cleared(StepRenavigate)
}

func (r *Resolver) reloadClears(ctx context.Context, s session.Session) bool {
	if err := s.Reload(ctx); err != nil {
		return false
	}
	if err := r.sleep(ctx, r.cfg.ReloadDwell); err != nil {
		return false
	}
	markup, err := s.HTML(ctx)
	if err != nil {
		return false
	}
	return !r.detector.LooksChallenged(markup)
}
