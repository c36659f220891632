package session

import (
	"context"

	"golang.org/x/time/rate"
)

// limited gates every page load of an inner Session on a shared limiter.
type limited struct {
	Session
	limiter *rate.Limiter
}

// RateLimited wraps s so that Navigate and Reload first wait on limiter.
// A nil limiter returns s unchanged.
func RateLimited(s Session, limiter *rate.Limiter) Session {
	if limiter == nil {
		return s
	}
	return &limited{Session: s, limiter: limiter}
}

// NewLimiter returns a limiter allowing perMinute page loads with a burst
// of one, or nil when perMinute is not positive.
func NewLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), 1)
}

func (l *limited) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return categorizeError(err, "navigation rate limit")
	}
	return l.Session.Navigate(ctx, url, opts)
}

func (l *limited) Reload(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return categorizeError(err, "reload rate limit")
	}
	return l.Session.Reload(ctx)
}
