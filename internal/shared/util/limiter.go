package util

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket bounding how many payload reloads and warm
// requests reach the data provider per second.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter creates a limiter admitting r events per second with burst b.
func NewLimiter(r float64, b int) *Limiter {
	return &Limiter{
		inner: rate.NewLimiter(rate.Limit(r), b),
	}
}

// Allow reports whether a batch of weight n may proceed now. Denied
// batches stay queued and retry on the next flush.
func (l *Limiter) Allow(n int) bool {
	return l.inner.AllowN(time.Now(), n)
}
