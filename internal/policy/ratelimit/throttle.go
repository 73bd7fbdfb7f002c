package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikigames-crawler/internal/metrics"
)

// DefaultLockName is the permit shared by every caller of the wiki API.
const DefaultLockName = "wikipedia-api"

// PermitStore grants a named permit at most once per interval.
type PermitStore interface {
	// Acquire returns 0 when the permit was taken, else the time until it frees up.
	Acquire(ctx context.Context, name string, interval time.Duration) (time.Duration, error)
}

// DeferredError reports that the action did not run and should be retried
// after RetryAfter.
type DeferredError struct {
	RetryAfter time.Duration
}

func (e *DeferredError) Error() string {
	return fmt.Sprintf("throttled: retry after %s", e.RetryAfter)
}

// AsDeferred extracts the retry delay from a DeferredError anywhere in err's chain.
func AsDeferred(err error) (time.Duration, bool) {
	var deferred *DeferredError
	if errors.As(err, &deferred) {
		return deferred.RetryAfter, true
	}
	return 0, false
}

// Config controls the throttle.
type Config struct {
	LockName string
	Interval time.Duration
}

// Throttle runs actions only when the shared permit is available.
type Throttle struct {
	store    PermitStore
	name     string
	interval time.Duration
	logger   *zap.Logger
}

// NewThrottle constructs a Throttle over store.
func NewThrottle(store PermitStore, cfg Config, logger *zap.Logger) (*Throttle, error) {
	if store == nil {
		return nil, fmt.Errorf("permit store is required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("throttle interval must be >= 0")
	}
	name := cfg.LockName
	if name == "" {
		name = DefaultLockName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{store: store, name: name, interval: cfg.Interval, logger: logger}, nil
}

// Run executes action when the permit is granted. Otherwise the action is
// not run and a *DeferredError carries the remaining wait; callers re-queue
// instead of blocking.
func (t *Throttle) Run(ctx context.Context, action func(context.Context) error) error {
	wait, err := t.store.Acquire(ctx, t.name, t.interval)
	if err != nil {
		return fmt.Errorf("acquire throttle permit: %w", err)
	}
	if wait > 0 {
		metrics.ObserveThrottleDeferral()
		t.logger.Debug("throttle permit busy", zap.String("lock", t.name), zap.Duration("retry_after", wait))
		return &DeferredError{RetryAfter: wait}
	}
	return action(ctx)
}
