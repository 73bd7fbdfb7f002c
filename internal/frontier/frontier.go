// Package frontier seeds and executes the traversal tasks that discover
// pages to process: category trees, template transclusions and the full
// main-namespace enumeration.
package frontier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
)

// Frontier pages through remote listings one continuation token at a time.
type Frontier struct {
	gateway crawler.Gateway
	submit  crawler.Submitter
	skip    *titleFilter
	logger  *zap.Logger
}

// Option customises a Frontier.
type Option func(*Frontier)

// WithSkippedTitles drops listing members matching any pattern. A pattern is
// an exact title or a prefix ending in "*", compared case-insensitively.
func WithSkippedTitles(patterns []string) Option {
	return func(f *Frontier) {
		f.skip = newTitleFilter(patterns)
	}
}

// New constructs a Frontier.
func New(gateway crawler.Gateway, submit crawler.Submitter, logger *zap.Logger, opts ...Option) (*Frontier, error) {
	if gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if submit == nil {
		return nil, errors.New("submitter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Frontier{gateway: gateway, submit: submit, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// StartCategoryTraversal submits the first batch of a category walk.
func (f *Frontier) StartCategoryTraversal(ctx context.Context, category string) (crawler.CrawlTask, error) {
	return f.seed(ctx, crawler.CategoryTraversal(category, ""))
}

// StartTemplateTransclusion submits the first batch of a template transclusion listing.
func (f *Frontier) StartTemplateTransclusion(ctx context.Context, template string) (crawler.CrawlTask, error) {
	return f.seed(ctx, crawler.TemplateTransclusion(template, ""))
}

// StartAllPagesEnumeration submits an all-pages enumeration, optionally
// resuming from continuation.
func (f *Frontier) StartAllPagesEnumeration(ctx context.Context, pageSize int, continuation string) (crawler.CrawlTask, error) {
	return f.seed(ctx, crawler.AllPagesEnumeration(pageSize, continuation))
}

// StartPage submits a single page for processing.
func (f *Frontier) StartPage(ctx context.Context, title string, kind crawler.PageKind) (crawler.CrawlTask, error) {
	return f.seed(ctx, crawler.PageProcessing(title, kind))
}

func (f *Frontier) seed(ctx context.Context, task crawler.CrawlTask) (crawler.CrawlTask, error) {
	if err := task.Validate(); err != nil {
		return crawler.CrawlTask{}, fmt.Errorf("validate seed: %w", err)
	}
	enqueued, err := f.submit.Enqueue(ctx, task, 0)
	if err != nil {
		return crawler.CrawlTask{}, fmt.Errorf("enqueue seed: %w", err)
	}
	f.logger.Info("seed submitted",
		zap.String("task_key", task.DedupKey()),
		zap.Bool("duplicate", !enqueued),
	)
	return task, nil
}

// Handle executes one traversal batch: list the members, fan them out, then
// submit the continuation. The continuation is only submitted after every
// member of the batch has been submitted.
func (f *Frontier) Handle(ctx context.Context, task crawler.CrawlTask) error {
	page, err := f.list(ctx, task)
	if err != nil {
		return err
	}

	var subcats, pages, skipped int
	for _, member := range page.Members {
		if member.Title == "" {
			continue
		}
		if f.skip.Skips(member.Title) {
			skipped++
			continue
		}
		child, ok := f.childTask(ctx, task, member)
		if !ok {
			skipped++
			continue
		}
		if _, err := f.submit.Enqueue(ctx, child, 0); err != nil {
			return fmt.Errorf("enqueue member %q: %w", member.Title, err)
		}
		if child.Kind == crawler.TaskCategory {
			subcats++
		} else {
			pages++
		}
	}

	if page.Continuation != "" {
		next := task.WithContinuation(page.Continuation)
		if _, err := f.submit.Enqueue(ctx, next, 0); err != nil {
			return fmt.Errorf("enqueue continuation: %w", err)
		}
	}

	f.logger.Info("traversal batch processed",
		zap.String("task_key", task.DedupKey()),
		zap.Int("members", len(page.Members)),
		zap.Int("subcategories", subcats),
		zap.Int("pages", pages),
		zap.Int("skipped", skipped),
		zap.Bool("has_more", page.Continuation != ""),
	)
	return nil
}

func (f *Frontier) list(ctx context.Context, task crawler.CrawlTask) (crawler.MemberPage, error) {
	var (
		page crawler.MemberPage
		err  error
	)
	switch task.Kind {
	case crawler.TaskCategory:
		page, err = f.gateway.CategoryMembers(ctx, task.Title, task.Continuation)
	case crawler.TaskTemplate:
		page, err = f.gateway.EmbeddedIn(ctx, task.Title, task.Continuation)
	case crawler.TaskAllPages:
		page, err = f.gateway.AllPages(ctx, task.PageSize, task.Continuation)
	default:
		return crawler.MemberPage{}, fmt.Errorf("frontier cannot execute %q tasks", task.Kind)
	}
	if err != nil {
		return crawler.MemberPage{}, fmt.Errorf("list %s %q: %w", task.Kind, task.Title, err)
	}
	return page, nil
}

// childTask maps a listing member to the task it spawns. ok=false drops it.
func (f *Frontier) childTask(ctx context.Context, parent crawler.CrawlTask, member crawler.PageDescriptor) (crawler.CrawlTask, bool) {
	switch parent.Kind {
	case crawler.TaskCategory:
		if member.IsCategory() {
			return crawler.CategoryTraversal(member.Title, ""), true
		}
	case crawler.TaskTemplate:
		disambiguation, err := f.gateway.IsDisambiguation(ctx, member.Title)
		if err != nil {
			f.logger.Warn("disambiguation check failed, processing page anyway",
				zap.String("title", member.Title), zap.Error(err))
		} else if disambiguation {
			f.logger.Debug("skipping disambiguation page", zap.String("title", member.Title))
			return crawler.CrawlTask{}, false
		}
	}
	return crawler.PageProcessing(member.Title, crawler.PageGame), true
}
