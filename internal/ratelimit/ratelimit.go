// Package ratelimit bounds the decision-fetch phase of the simulation loop.
// The limiter is always injected as an explicit dependency; there is no
// process-wide instance.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits at most maxRequests starts per window, as a token bucket
// with burst capacity maxRequests. Safe for concurrent use.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a limiter admitting maxRequests per window. A non-positive
// maxRequests means unlimited.
func New(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{
		rl: rate.NewLimiter(rate.Every(window/time.Duration(maxRequests)), maxRequests),
	}
}

// Wait blocks until a request may start without exceeding the limit, or
// until ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Allow reports whether a request may start right now, consuming a token if
// so. Never blocks.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// allowAt is Allow evaluated at an explicit instant, for tests.
func (l *Limiter) allowAt(t time.Time) bool {
	return l.rl.AllowN(t, 1)
}
