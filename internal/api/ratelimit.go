package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// SubmitLimiter rate limits query submissions per principal.
type SubmitLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewSubmitLimiter allows perSecond sustained submissions per principal with
// the given burst. A non-positive burst is treated as 1.
func NewSubmitLimiter(perSecond float64, burst int) *SubmitLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &SubmitLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether principal may submit now.
func (l *SubmitLimiter) Allow(principal string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[principal]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[principal] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
