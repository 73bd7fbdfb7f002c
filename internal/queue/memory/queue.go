// Package memory provides queue implementations for local development.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
)

type entry struct {
	id          string
	task        crawler.CrawlTask
	key         string
	attempts    int
	availableAt time.Time
	submitted   time.Time
	seq         uint64
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].availableAt.Equal(h[j].availableAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].availableAt.Before(h[j].availableAt)
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// FailedItem records a task that exhausted its attempts.
type FailedItem struct {
	Item  crawler.QueueItem
	Cause string
}

// Queue is a bounded in-memory crawler.Queue with delayed redelivery and
// dedup of pending tasks. Enqueue blocks while the queue is full.
type Queue struct {
	mu       sync.Mutex
	capacity int
	ids      crawler.IDGenerator
	now      func() time.Time

	pending  entryHeap
	keys     map[string]struct{}
	inflight map[string]*entry
	failed   []FailedItem
	seq      uint64
	closed   bool
	// changed is closed and replaced on every state change.
	changed chan struct{}
}

var _ crawler.Queue = (*Queue)(nil)

// NewQueue constructs a queue holding at most capacity pending tasks
// (0 means unbounded). A nil ids generator numbers items sequentially.
func NewQueue(capacity int, ids crawler.IDGenerator) *Queue {
	return &Queue{
		capacity: capacity,
		ids:      ids,
		now:      time.Now,
		keys:     make(map[string]struct{}),
		inflight: make(map[string]*entry),
		changed:  make(chan struct{}),
	}
}

// Enqueue adds a task unless an identical one is already pending.
func (q *Queue) Enqueue(ctx context.Context, task crawler.CrawlTask, delay time.Duration) (bool, error) {
	if err := task.Validate(); err != nil {
		return false, err
	}
	key := task.DedupKey()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return false, crawler.ErrQueueClosed
		}
		if _, dup := q.keys[key]; dup {
			q.mu.Unlock()
			return false, nil
		}
		if q.capacity <= 0 || len(q.pending) < q.capacity {
			id, err := q.nextID()
			if err != nil {
				q.mu.Unlock()
				return false, err
			}
			now := q.now()
			q.push(&entry{id: id, task: task, key: key, availableAt: now.Add(delay), submitted: now})
			q.mu.Unlock()
			return true, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return false, fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Dequeue pops the next available task, waiting for delayed ones to mature.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return crawler.QueueItem{}, crawler.ErrQueueClosed
		}
		var timer *time.Timer
		var matured <-chan time.Time
		if len(q.pending) > 0 {
			head := q.pending[0]
			if until := head.availableAt.Sub(q.now()); until > 0 {
				timer = time.NewTimer(until)
				matured = timer.C
			} else {
				heap.Pop(&q.pending)
				delete(q.keys, head.key)
				q.inflight[head.id] = head
				q.signal()
				q.mu.Unlock()
				return head.item(), nil
			}
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		case <-matured:
		}
		stopTimer(timer)
	}
}

// Ack forgets a delivered task.
func (q *Queue) Ack(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[item.ID]; !ok {
		return fmt.Errorf("ack unknown item %q", item.ID)
	}
	delete(q.inflight, item.ID)
	return nil
}

// Retry redelivers a task after delay. If an identical task was enqueued
// meanwhile this delivery is dropped in its favour.
func (q *Queue) Retry(
	_ context.Context,
	item crawler.QueueItem,
	delay time.Duration,
	consumeAttempt bool,
	_ error,
) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.inflight[item.ID]
	if !ok {
		return fmt.Errorf("retry unknown item %q", item.ID)
	}
	delete(q.inflight, item.ID)
	if q.closed {
		return crawler.ErrQueueClosed
	}
	if _, dup := q.keys[e.key]; dup {
		return nil
	}
	if consumeAttempt {
		e.attempts++
	}
	e.availableAt = q.now().Add(delay)
	q.push(e)
	return nil
}

// Fail parks a task as permanently failed.
func (q *Queue) Fail(_ context.Context, item crawler.QueueItem, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[item.ID]; !ok {
		return fmt.Errorf("fail unknown item %q", item.ID)
	}
	delete(q.inflight, item.ID)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	q.failed = append(q.failed, FailedItem{Item: item, Cause: msg})
	return nil
}

// Pending reports how many tasks wait for delivery, including delayed ones.
func (q *Queue) Pending(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

// Failed returns the tasks parked by Fail.
func (q *Queue) Failed() []FailedItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]FailedItem(nil), q.failed...)
}

// Close stops delivery and wakes every waiter.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

func (q *Queue) push(e *entry) {
	q.seq++
	e.seq = q.seq
	heap.Push(&q.pending, e)
	q.keys[e.key] = struct{}{}
	q.signal()
}

func (q *Queue) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) nextID() (string, error) {
	if q.ids == nil {
		return strconv.FormatUint(q.seq+1, 10), nil
	}
	id, err := q.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate item id: %w", err)
	}
	return id, nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (e *entry) item() crawler.QueueItem {
	return crawler.QueueItem{
		ID:        e.id,
		Task:      e.task,
		Attempt:   e.attempts + 1,
		Submitted: e.submitted,
	}
}
