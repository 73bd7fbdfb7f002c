// Package worker implements the crawl task execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
	"github.com/JakeFAU/wikigames-crawler/internal/metrics"
	"github.com/JakeFAU/wikigames-crawler/internal/policy/ratelimit"
)

// Task outcomes reported to metrics.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeDeferred  = "deferred"
	OutcomeFailed    = "failed"
)

// dequeueBackoff is the pause after a failed dequeue.
const dequeueBackoff = time.Second

// Handler executes one task.
type Handler interface {
	Handle(ctx context.Context, task crawler.CrawlTask) error
}

// Throttle gates handler execution on the shared permit.
type Throttle interface {
	Run(ctx context.Context, action func(context.Context) error) error
}

// RetryPolicy decides what happens to a failed attempt.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(kind crawler.TaskKind) time.Duration
}

// Config controls Worker behavior.
type Config struct {
	// DeadLetterTopic receives a report for every permanently failed task.
	DeadLetterTopic string
}

// Worker consumes queue items and executes them through the handler.
type Worker struct {
	queue     crawler.Queue
	handler   Handler
	throttle  Throttle
	retry     RetryPolicy
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	busy atomic.Bool
}

// New constructs a Worker. A nil throttle runs every task immediately, a nil
// publisher disables dead-letter reports.
func New(
	queue crawler.Queue,
	handler Handler,
	throttle Throttle,
	retry RetryPolicy,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if retry == nil {
		retry = crawler.NewFixedRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		handler:   handler,
		throttle:  throttle,
		retry:     retry,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("task_key", item.Task.DedupKey()),
			zap.Int("attempt", item.Attempt),
		)
		w.processTask(ctx, item)
	}
}

// Busy reports whether the worker is executing a task.
func (w *Worker) Busy() bool {
	return w.busy.Load()
}

func (w *Worker) processTask(ctx context.Context, item crawler.QueueItem) {
	w.busy.Store(true)
	defer w.busy.Store(false)
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(
		zap.String("task_key", item.Task.DedupKey()),
		zap.String("kind", string(item.Task.Kind)),
		zap.Int("attempt", item.Attempt),
	)
	kind := string(item.Task.Kind)

	err := w.execute(ctx, item.Task)
	if err == nil {
		if ackErr := w.queue.Ack(ctx, item); ackErr != nil {
			logger.Error("ack task failed", zap.Error(ackErr))
		}
		metrics.ObserveTask(kind, OutcomeSucceeded)
		logger.Debug("task succeeded")
		return
	}

	if wait, deferred := ratelimit.AsDeferred(err); deferred {
		if retryErr := w.queue.Retry(ctx, item, wait, false, err); retryErr != nil {
			logger.Error("defer task failed", zap.Error(retryErr))
		}
		metrics.ObserveTask(kind, OutcomeDeferred)
		logger.Debug("task deferred by throttle", zap.Duration("retry_after", wait))
		return
	}

	if ctx.Err() != nil {
		// Shutdown interrupted the attempt; hand it back without charging it.
		if retryErr := w.queue.Retry(context.WithoutCancel(ctx), item, 0, false, err); retryErr != nil {
			logger.Warn("requeue interrupted task failed", zap.Error(retryErr))
		}
		return
	}

	if w.retry.ShouldRetry(err, item.Attempt) {
		backoff := w.retry.Backoff(item.Task.Kind)
		if retryErr := w.queue.Retry(ctx, item, backoff, true, err); retryErr != nil {
			logger.Error("retry task failed", zap.Error(retryErr))
		}
		metrics.ObserveTask(kind, OutcomeRetried)
		logger.Warn("task failed, retrying", zap.Duration("backoff", backoff), zap.Error(err))
		return
	}

	if failErr := w.queue.Fail(ctx, item, err); failErr != nil {
		logger.Error("mark task failed", zap.Error(failErr))
	}
	metrics.ObserveTask(kind, OutcomeFailed)
	logger.Error("task failed permanently", zap.Error(err))
	w.publishDeadLetter(ctx, item, err, logger)
}

func (w *Worker) execute(ctx context.Context, task crawler.CrawlTask) error {
	if w.throttle == nil {
		return w.handler.Handle(ctx, task)
	}
	return w.throttle.Run(ctx, func(ctx context.Context) error {
		return w.handler.Handle(ctx, task)
	})
}

// DeadLetter is the payload published for a permanently failed task.
type DeadLetter struct {
	TaskKey      string           `json:"task_key"`
	Kind         crawler.TaskKind `json:"kind"`
	Title        string           `json:"title,omitempty"`
	Continuation string           `json:"continuation,omitempty"`
	Attempts     int              `json:"attempts"`
	Error        string           `json:"error"`
	FailedAt     time.Time        `json:"failed_at"`
}

func (w *Worker) publishDeadLetter(ctx context.Context, item crawler.QueueItem, cause error, logger *zap.Logger) {
	if w.cfg.DeadLetterTopic == "" || w.publisher == nil {
		return
	}
	now := time.Now()
	if w.clock != nil {
		now = w.clock.Now()
	}
	payload := DeadLetter{
		TaskKey:      item.Task.DedupKey(),
		Kind:         item.Task.Kind,
		Title:        item.Task.Title,
		Continuation: item.Task.Continuation,
		Attempts:     item.Attempt,
		Error:        cause.Error(),
		FailedAt:     now.UTC(),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.DeadLetterTopic, payload)
	if err != nil {
		logger.Error("publish dead letter failed", zap.Error(fmt.Errorf("publish payload: %w", err)))
		return
	}
	logger.Info("dead letter published", zap.String("message_id", id))
}
