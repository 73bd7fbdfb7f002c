// Package pipeline routes dequeued crawl tasks to the component that executes them.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
)

// Handler executes one task.
type Handler interface {
	Handle(ctx context.Context, task crawler.CrawlTask) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task crawler.CrawlTask) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task crawler.CrawlTask) error {
	return f(ctx, task)
}

// Router sends traversal tasks to the frontier and page tasks to the processor.
type Router struct {
	traversal Handler
	pages     Handler
}

// New constructs a Router.
func New(traversal, pages Handler) (*Router, error) {
	if traversal == nil || pages == nil {
		return nil, errors.New("traversal and page handlers are required")
	}
	return &Router{traversal: traversal, pages: pages}, nil
}

// Handle validates task and dispatches it by kind.
func (r *Router) Handle(ctx context.Context, task crawler.CrawlTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("route task: %w", err)
	}
	if task.Kind.IsTraversal() {
		return r.traversal.Handle(ctx, task)
	}
	return r.pages.Handle(ctx, task)
}
