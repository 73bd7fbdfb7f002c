// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
	"github.com/JakeFAU/wikigames-crawler/internal/worker"
)

// DefaultIdlePoll is how often RunUntilIdle checks for remaining work.
const DefaultIdlePoll = 250 * time.Millisecond

// PendingCounter reports how many tasks still wait for delivery.
type PendingCounter interface {
	Pending(ctx context.Context) (int, error)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Submitter
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue crawler.Submitter, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// RunUntilIdle runs the workers until nothing is pending and every worker
// has been idle for two consecutive polls, or until ctx finishes.
func (d *Dispatcher) RunUntilIdle(ctx context.Context, pending PendingCounter, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultIdlePoll
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(runCtx)
		close(done)
	}()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	idleTicks := 0
	for {
		select {
		case <-ctx.Done():
			<-done
			return fmt.Errorf("run until idle: %w", ctx.Err())
		case <-ticker.C:
		}
		n, err := pending.Pending(ctx)
		if err != nil {
			cancel()
			<-done
			return fmt.Errorf("count pending tasks: %w", err)
		}
		if n > 0 || d.busy() {
			idleTicks = 0
			continue
		}
		idleTicks++
		if idleTicks >= 2 {
			cancel()
			<-done
			return nil
		}
	}
}

func (d *Dispatcher) busy() bool {
	for _, w := range d.workers {
		if w.Busy() {
			return true
		}
	}
	return false
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task crawler.CrawlTask, delay time.Duration) (bool, error) {
	enqueued, err := d.queue.Enqueue(ctx, task, delay)
	if err != nil {
		return false, fmt.Errorf("queue enqueue: %w", err)
	}
	return enqueued, nil
}
