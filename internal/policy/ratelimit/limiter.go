// Package ratelimit throttles outbound wiki calls across every worker sharing a permit store.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalPermits is an in-process PermitStore built on token buckets. It only
// coordinates goroutines of one process; multi-process deployments use the
// Postgres permit store.
type LocalPermits struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

var _ PermitStore = (*LocalPermits)(nil)

// NewLocalPermits creates an empty LocalPermits.
func NewLocalPermits() *LocalPermits {
	return &LocalPermits{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Acquire takes the named permit or reports how long until it is free.
func (l *LocalPermits) Acquire(_ context.Context, name string, interval time.Duration) (time.Duration, error) {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[name]
	if !exists {
		limiter = rate.NewLimiter(limit, 1)
		l.limiters[name] = limiter
	} else if limiter.Limit() != limit {
		limiter.SetLimitAt(l.now(), limit)
	}

	now := l.now()
	reservation := limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return delay, nil
	}
	return 0, nil
}
