package crawler

import (
	"context"
	"time"
)

// Gateway is the read-only view of the remote encyclopedia.
type Gateway interface {
	CategoryMembers(ctx context.Context, category, continuation string) (MemberPage, error)
	EmbeddedIn(ctx context.Context, template, continuation string) (MemberPage, error)
	AllPages(ctx context.Context, limit int, continuation string) (MemberPage, error)
	PageContent(ctx context.Context, title string) (PageContent, error)
	LeadDescription(ctx context.Context, title string) (string, error)
	MainImage(ctx context.Context, title string) (string, error)
	IsDisambiguation(ctx context.Context, title string) (bool, error)
	IsRedirect(ctx context.Context, title string) (bool, error)
}

// Queue provides at-least-once delivery of crawl tasks.
type Queue interface {
	// Enqueue submits a task. A duplicate of a still-pending task is dropped
	// and reported with enqueued=false.
	Enqueue(ctx context.Context, task CrawlTask, delay time.Duration) (enqueued bool, err error)
	Dequeue(ctx context.Context) (QueueItem, error)
	Ack(ctx context.Context, item QueueItem) error
	// Retry makes the item available again after delay. consumeAttempt=false
	// leaves the attempt counter untouched (throttle deferrals).
	Retry(ctx context.Context, item QueueItem, delay time.Duration, consumeAttempt bool, cause error) error
	Fail(ctx context.Context, item QueueItem, cause error) error
}

// Submitter is the enqueue half of Queue, used by task producers.
type Submitter interface {
	Enqueue(ctx context.Context, task CrawlTask, delay time.Duration) (bool, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes failure reports to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Hasher computes digests for archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
