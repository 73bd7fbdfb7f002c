package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
	memqueue "github.com/JakeFAU/wikigames-crawler/internal/queue/memory"
	"github.com/JakeFAU/wikigames-crawler/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, nil, nil, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	_, err := dispatch.Enqueue(context.Background(), crawler.PageProcessing("Doom", ""), 0)
	require.EqualError(t, err, "queue enqueue: boom")
}

// TestDispatcherRunUntilIdleDrainsSpawnedWork runs a fan-out to completion.
func TestDispatcherRunUntilIdleDrainsSpawnedWork(t *testing.T) {
	t.Parallel()

	queue := memqueue.NewQueue(0, nil)
	handler := &spawningHandler{queue: queue}

	workers := make([]*worker.Worker, 0, 3)
	for i := 0; i < 3; i++ {
		workers = append(workers, worker.New(queue, handler, nil, nil, nil, nil, worker.Config{}, zap.NewNop()))
	}
	dispatch := New(queue, workers)

	ctx := context.Background()
	_, err := dispatch.Enqueue(ctx, crawler.CategoryTraversal("Category:Video games", ""), 0)
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, dispatch.RunUntilIdle(runCtx, queue, 10*time.Millisecond))
	require.Equal(t, 11, handler.count(), "one traversal plus ten pages")
}

func TestDispatcherRunUntilIdleHonoursContext(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1), pending: 1}
	w := worker.New(queue, nil, nil, nil, nil, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := dispatch.RunUntilIdle(ctx, queue, 5*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type spawningHandler struct {
	queue *memqueue.Queue
	mu    sync.Mutex
	calls int
}

func (h *spawningHandler) Handle(ctx context.Context, task crawler.CrawlTask) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if task.Kind != crawler.TaskCategory {
		return nil
	}
	for i := 0; i < 10; i++ {
		if _, err := h.queue.Enqueue(ctx, crawler.PageProcessing(fmt.Sprintf("Game %d", i), ""), 0); err != nil {
			return err
		}
	}
	return nil
}

func (h *spawningHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type blockingQueue struct {
	started chan struct{}
	err     error
	pending int
}

func (q *blockingQueue) Enqueue(context.Context, crawler.CrawlTask, time.Duration) (bool, error) {
	if q.err != nil {
		return false, q.err
	}
	return true, nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

func (q *blockingQueue) Ack(context.Context, crawler.QueueItem) error { return nil }

func (q *blockingQueue) Retry(context.Context, crawler.QueueItem, time.Duration, bool, error) error {
	return nil
}

func (q *blockingQueue) Fail(context.Context, crawler.QueueItem, error) error { return nil }

func (q *blockingQueue) Pending(context.Context) (int, error) { return q.pending, nil }
