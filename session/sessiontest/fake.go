// Package sessiontest provides a scripted in-memory session.Session for
// tests that exercise the attempt loop, challenge handling and the run loop
// without a browser.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/use-agent/harvest/identity"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/session"
	"github.com/ysmood/gson"
)

// Navigation records one Navigate call.
type Navigation struct {
	URL  string
	Opts session.NavigateOptions
}

// Fake is a session.Session whose page state is plain fields. Hooks let a
// test rewrite that state in response to calls. It is not safe for
// concurrent use.
type Fake struct {
	ID identity.Identity

	// Markup is what HTML returns.
	Markup string

	// Elements lists the selectors that currently match.
	Elements map[string]bool

	// OnNavigate runs on every Navigate; its error is returned as-is.
	OnNavigate func(f *Fake, url string, opts session.NavigateOptions) error
	OnReload   func(f *Fake) error
	OnEval     func(f *Fake, js string) error
	OnClick    func(f *Fake, selector string) error

	HTMLErr  error
	ResetErr error
	HasErr   error
	CloseErr error

	Navigations []Navigation
	Evals       []string
	Clicks      []string
	Waits       []string
	Reloads     int
	Resets      int
	Closes      int
}

var _ session.Session = (*Fake)(nil)

// New returns a Fake serving markup with no matching elements.
func New(markup string) *Fake {
	return &Fake{Markup: markup, Elements: map[string]bool{}}
}

// Closed reports whether Close was called at least once.
func (f *Fake) Closed() bool { return f.Closes > 0 }

func (f *Fake) Identity() identity.Identity { return f.ID }

func (f *Fake) Navigate(ctx context.Context, url string, opts session.NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Navigations = append(f.Navigations, Navigation{URL: url, Opts: opts})
	if f.OnNavigate != nil {
		return f.OnNavigate(f, url, opts)
	}
	return nil
}

func (f *Fake) HTML(ctx context.Context) (string, error) {
	if f.HTMLErr != nil {
		return "", f.HTMLErr
	}
	return f.Markup, nil
}

func (f *Fake) Eval(ctx context.Context, js string) (gson.JSON, error) {
	f.Evals = append(f.Evals, js)
	if f.OnEval != nil {
		if err := f.OnEval(f, js); err != nil {
			return gson.New(nil), err
		}
	}
	return gson.New(nil), nil
}

func (f *Fake) WaitSelector(ctx context.Context, selector string, timeout time.Duration) error {
	f.Waits = append(f.Waits, selector)
	if f.Elements[selector] {
		return nil
	}
	return Timeout(fmt.Sprintf("selector %s did not appear", selector))
}

func (f *Fake) Has(ctx context.Context, selector string) (bool, error) {
	if f.HasErr != nil {
		return false, f.HasErr
	}
	return f.Elements[selector], nil
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	f.Clicks = append(f.Clicks, selector)
	if f.OnClick != nil {
		return f.OnClick(f, selector)
	}
	if !f.Elements[selector] {
		return errors.New("click target not found")
	}
	return nil
}

func (f *Fake) Reload(ctx context.Context) error {
	f.Reloads++
	if f.OnReload != nil {
		return f.OnReload(f)
	}
	return nil
}

func (f *Fake) ResetStorage(ctx context.Context) error {
	f.Resets++
	return f.ResetErr
}

func (f *Fake) Close() error {
	f.Closes++
	return f.CloseErr
}

// Timeout builds the error a real session returns for an expired wait.
func Timeout(msg string) error {
	return models.NewHarvestError(models.ErrCodeTimeout, msg, context.DeadlineExceeded)
}

// Fault builds the error a real session returns when the browser is gone.
func Fault(msg string) error {
	return models.NewHarvestError(models.ErrCodeSessionFault, msg, errors.New("websocket: close 1006"))
}

// Factory hands out sessions built by Build, recording each one.
type Factory struct {
	// Build creates the n-th session (0-based). Nil yields New("").
	Build func(n int) *Fake

	// Err, when set, fails every New call.
	Err error

	// FailCall, when set, is consulted with the 0-based index of every New
	// call; a non-nil result fails that call.
	FailCall func(call int) error

	// Calls counts New calls, failed ones included.
	Calls int

	Created []*Fake
}

var _ session.Factory = (*Factory)(nil)

func (f *Factory) New(ctx context.Context) (session.Session, error) {
	call := f.Calls
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if f.FailCall != nil {
		if err := f.FailCall(call); err != nil {
			return nil, err
		}
	}
	var s *Fake
	if f.Build != nil {
		s = f.Build(len(f.Created))
	} else {
		s = New("")
	}
	f.Created = append(f.Created, s)
	return s, nil
}

// Live returns the sessions that were created but not closed.
func (f *Factory) Live() []*Fake {
	var out []*Fake
	for _, s := range f.Created {
		if !s.Closed() {
			out = append(out, s)
		}
	}
	return out
}
