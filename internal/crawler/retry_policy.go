package crawler

import (
	"context"
	"errors"
	"time"
)

// Default retry budget for every task kind.
const (
	DefaultMaxAttempts      = 3
	DefaultTraversalBackoff = 60 * time.Second
	DefaultPageBackoff      = 120 * time.Second
)

// FixedRetryPolicy allows a bounded number of attempts with a per-kind fixed backoff.
type FixedRetryPolicy struct {
	maxAttempts      int
	traversalBackoff time.Duration
	pageBackoff      time.Duration
}

// NewFixedRetryPolicy builds a policy with the default budget.
func NewFixedRetryPolicy() *FixedRetryPolicy {
	return &FixedRetryPolicy{
		maxAttempts:      DefaultMaxAttempts,
		traversalBackoff: DefaultTraversalBackoff,
		pageBackoff:      DefaultPageBackoff,
	}
}

// NewFixedRetryPolicyWith overrides the defaults; non-positive values keep the default.
func NewFixedRetryPolicyWith(maxAttempts int, traversalBackoff, pageBackoff time.Duration) *FixedRetryPolicy {
	p := NewFixedRetryPolicy()
	if maxAttempts > 0 {
		p.maxAttempts = maxAttempts
	}
	if traversalBackoff > 0 {
		p.traversalBackoff = traversalBackoff
	}
	if pageBackoff > 0 {
		p.pageBackoff = pageBackoff
	}
	return p
}

// ShouldRetry decides whether a failed attempt gets another try.
// attempt is the 1-based number of the attempt that just failed.
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Backoff returns the wait before the next attempt of a task of the given kind.
func (p *FixedRetryPolicy) Backoff(kind TaskKind) time.Duration {
	if kind.IsTraversal() {
		return p.traversalBackoff
	}
	return p.pageBackoff
}

// MaxAttempts exposes the attempt budget.
func (p *FixedRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}
