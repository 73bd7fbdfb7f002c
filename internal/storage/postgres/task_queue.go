package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
)

const (
	defaultPollInterval      = time.Second
	defaultVisibilityTimeout = 5 * time.Minute
)

// TaskQueueConfig names the logical queue and controls polling.
type TaskQueueConfig struct {
	Name         string
	PollInterval time.Duration
	// VisibilityTimeout is how long a claimed task stays leased before
	// another consumer may reclaim it.
	VisibilityTimeout time.Duration
}

// TaskQueue is a durable crawler.Queue backed by the crawl_tasks table.
// Rows are claimed with FOR UPDATE SKIP LOCKED so any number of processes
// can consume the same queue. A claim leases the row until available_at;
// a running row whose lease expired is claimable again and the lost run
// counts as an attempt.
type TaskQueue struct {
	db    dbtx
	name  string
	poll  time.Duration
	lease time.Duration
}

var _ crawler.Queue = (*TaskQueue)(nil)

// NewTaskQueue constructs a TaskQueue over a pool (or pgxmock pool).
func NewTaskQueue(db dbtx, cfg TaskQueueConfig) (*TaskQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	lease := cfg.VisibilityTimeout
	if lease <= 0 {
		lease = defaultVisibilityTimeout
	}
	return &TaskQueue{db: db, name: name, poll: poll, lease: lease}, nil
}

// Enqueue inserts the task unless a pending task with the same dedup key exists.
func (q *TaskQueue) Enqueue(ctx context.Context, task crawler.CrawlTask, delay time.Duration) (bool, error) {
	if err := task.Validate(); err != nil {
		return false, err
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("marshal task: %w", err)
	}
	tag, err := q.db.Exec(ctx, `
INSERT INTO crawl_tasks (queue, dedup_key, kind, payload, available_at)
VALUES ($1, $2, $3, $4, now() + $5 * interval '1 millisecond')
ON CONFLICT (queue, dedup_key) WHERE status = 'pending' DO NOTHING`,
		q.name, task.DedupKey(), string(task.Kind), payload, millis(delay))
	if err != nil {
		return false, fmt.Errorf("insert crawl task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Dequeue claims the oldest available task, polling until one appears or ctx ends.
func (q *TaskQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		item, ok, err := q.claim(ctx)
		if err != nil {
			return crawler.QueueItem{}, err
		}
		if ok {
			return item, nil
		}
		timer := time.NewTimer(q.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawler.QueueItem{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *TaskQueue) claim(ctx context.Context) (crawler.QueueItem, bool, error) {
	var (
		id        int64
		payload   []byte
		attempts  int
		createdAt time.Time
	)
	err := q.db.QueryRow(ctx, `
UPDATE crawl_tasks
SET attempts = attempts + CASE WHEN status = 'running' THEN 1 ELSE 0 END,
	status = 'running',
	available_at = now() + $2 * interval '1 millisecond',
	updated_at = now()
WHERE id = (
	SELECT id FROM crawl_tasks
	WHERE queue = $1 AND status IN ('pending', 'running') AND available_at <= now()
	ORDER BY available_at, id
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, payload, attempts, created_at`, q.name, millis(q.lease)).Scan(&id, &payload, &attempts, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.QueueItem{}, false, nil
	}
	if err != nil {
		return crawler.QueueItem{}, false, fmt.Errorf("claim crawl task: %w", err)
	}
	var task crawler.CrawlTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return crawler.QueueItem{}, false, fmt.Errorf("decode crawl task %d: %w", id, err)
	}
	return crawler.QueueItem{
		ID:        strconv.FormatInt(id, 10),
		Task:      task,
		Attempt:   attempts + 1,
		Submitted: createdAt,
	}, true, nil
}

// Ack removes a finished task.
func (q *TaskQueue) Ack(ctx context.Context, item crawler.QueueItem) error {
	id, err := parseTaskID(item)
	if err != nil {
		return err
	}
	if _, err := q.db.Exec(ctx, `DELETE FROM crawl_tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ack crawl task %d: %w", id, err)
	}
	return nil
}

// Retry makes the task pending again after delay. When an identical task was
// enqueued meanwhile the running row is dropped in favour of it.
func (q *TaskQueue) Retry(
	ctx context.Context,
	item crawler.QueueItem,
	delay time.Duration,
	consumeAttempt bool,
	cause error,
) error {
	id, err := parseTaskID(item)
	if err != nil {
		return err
	}
	consumed := 0
	if consumeAttempt {
		consumed = 1
	}
	_, err = q.db.Exec(ctx, `
UPDATE crawl_tasks
SET status = 'pending',
	attempts = attempts + $2,
	available_at = now() + $3 * interval '1 millisecond',
	last_error = $4,
	updated_at = now()
WHERE id = $1`, id, consumed, millis(delay), errorText(cause))
	if isUniqueViolation(err) {
		if _, delErr := q.db.Exec(ctx, `DELETE FROM crawl_tasks WHERE id = $1`, id); delErr != nil {
			return fmt.Errorf("drop duplicate crawl task %d: %w", id, delErr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("retry crawl task %d: %w", id, err)
	}
	return nil
}

// Fail parks the task as failed, keeping it for inspection.
func (q *TaskQueue) Fail(ctx context.Context, item crawler.QueueItem, cause error) error {
	id, err := parseTaskID(item)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `
UPDATE crawl_tasks
SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = now()
WHERE id = $1`, id, errorText(cause))
	if err != nil {
		return fmt.Errorf("fail crawl task %d: %w", id, err)
	}
	return nil
}

// Pending reports how many tasks are waiting, including delayed ones.
func (q *TaskQueue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT count(*) FROM crawl_tasks WHERE queue = $1 AND status = 'pending'`, q.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count crawl tasks: %w", err)
	}
	return n, nil
}

func parseTaskID(item crawler.QueueItem) (int64, error) {
	id, err := strconv.ParseInt(item.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q: %w", item.ID, err)
	}
	return id, nil
}

func errorText(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
