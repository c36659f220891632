// Package policy supplies the randomness and sleeping used for identity
// selection, referer choice, jitter and pacing. Production code uses Random
// and Sleep; tests inject Fixed and a recording sleeper.
package policy

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Policy draws the random choices of a run.
type Policy interface {
	// Pick returns a uniform index in [0, n). n must be positive.
	Pick(n int) int

	// Between returns a duration uniformly drawn from [lo, hi].
	Between(lo, hi time.Duration) time.Duration
}

// SleepFunc pauses for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Random is the run-time Policy backed by math/rand/v2.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a Random seeded from the runtime's entropy source.
func NewRandom() *Random {
	return &Random{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded creates a Random with a fixed seed, for reproducible runs.
func NewSeeded(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *Random) Pick(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

func (r *Random) Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + time.Duration(r.rng.Int64N(int64(hi-lo)+1))
}

// Fixed always picks Index (clamped to n) and returns Delay for every
// duration draw. The zero value picks the first entry and never waits.
type Fixed struct {
	Index int
	Delay time.Duration
}

func (f Fixed) Pick(n int) int {
	if f.Index >= n {
		return n - 1
	}
	return f.Index
}

func (f Fixed) Between(lo, hi time.Duration) time.Duration {
	return f.Delay
}

// Sleep is the run-time SleepFunc. A non-positive d returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
