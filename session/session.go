// Package session wraps one renderer identity and its live browser context.
//
// A Session is created with an Identity drawn from the pool, its init
// scripts and resource-blocking rules attached before the first navigation,
// and is torn down exactly once by Close. Every operation is bounded: either
// by an explicit timeout argument or by the default operation timeout.
package session

import (
	"context"
	"time"

	"github.com/use-agent/harvest/identity"
	"github.com/ysmood/gson"
)

// opTimeout bounds operations whose caller supplied no deadline.
const opTimeout = 10 * time.Second

// WaitUntil selects the lifecycle point a navigation waits for.
type WaitUntil int

const (
	// WaitInteractive returns once the document is parsed (DOMContentLoaded).
	WaitInteractive WaitUntil = iota

	// WaitNetworkIdle returns once the network is substantially idle.
	WaitNetworkIdle
)

func (w WaitUntil) String() string {
	switch w {
	case WaitNetworkIdle:
		return "network-idle"
	default:
		return "interactive"
	}
}

// NavigateOptions controls a single navigation.
type NavigateOptions struct {
	Referer   string
	WaitUntil WaitUntil
	Timeout   time.Duration
}

// Session is one renderer context bound to one identity. It is owned by a
// single caller and is not safe for concurrent use.
type Session interface {
	// Identity returns the fingerprint chosen at creation.
	Identity() identity.Identity

	// Navigate loads url and waits for opts.WaitUntil within opts.Timeout.
	Navigate(ctx context.Context, url string, opts NavigateOptions) error

	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)

	// Eval runs a JS function definition such as `() => 1`.
	Eval(ctx context.Context, js string) (gson.JSON, error)

	// WaitSelector blocks until selector matches or timeout elapses.
	WaitSelector(ctx context.Context, selector string, timeout time.Duration) error

	// Has reports whether selector currently matches, without waiting.
	Has(ctx context.Context, selector string) (bool, error)

	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error

	// Reload reloads the current document bypassing the cache.
	Reload(ctx context.Context) error

	// ResetStorage clears cookies, session storage and local storage.
	ResetStorage(ctx context.Context) error

	// Close releases every resource. It is idempotent and tolerates a
	// partially constructed or already crashed session.
	Close() error
}

// Factory creates sessions. Each call draws a fresh identity.
type Factory interface {
	New(ctx context.Context) (Session, error)
}

// withTimeout derives a bounded context, falling back to opTimeout.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = opTimeout
	}
	return context.WithTimeout(ctx, d)
}
