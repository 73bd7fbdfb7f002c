package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// NamespaceMain and NamespaceCategory are the MediaWiki namespaces the frontier cares about.
const (
	NamespaceMain     = 0
	NamespaceCategory = 14
)

// ErrPageNotFound is returned by a Gateway when the remote page has no content.
var ErrPageNotFound = errors.New("page not found")

// ErrQueueClosed is returned by queues after shutdown.
var ErrQueueClosed = errors.New("queue closed")

// HTTPStatusError reports a response outside the 2xx range.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// PageDescriptor identifies a remote page.
type PageDescriptor struct {
	Title     string `json:"title"`
	Namespace int    `json:"ns"`
}

// IsCategory reports whether the page is a subcategory listing.
func (p PageDescriptor) IsCategory() bool {
	return p.Namespace == NamespaceCategory
}

// MemberPage is one page of a paginated remote listing.
// An empty Continuation marks the end of the listing.
type MemberPage struct {
	Members      []PageDescriptor
	Continuation string
}

// PageContent bundles the rendered HTML and raw markup from a single parse call.
type PageContent struct {
	Title    string
	HTML     string
	Wikitext string
}

// Summary carries the lead description and representative image of a page.
type Summary struct {
	Description string
	ImageURL    string
}

// TaskKind discriminates the CrawlTask variants.
type TaskKind string

// Task kinds.
const (
	TaskCategory TaskKind = "category"
	TaskTemplate TaskKind = "template"
	TaskAllPages TaskKind = "allpages"
	TaskPage     TaskKind = "page"
)

// IsTraversal reports whether the kind pages through a remote listing.
func (k TaskKind) IsTraversal() bool {
	return k == TaskCategory || k == TaskTemplate || k == TaskAllPages
}

// PageKind selects which processor handles a page task.
type PageKind string

// Page kinds. Every kind except PageGame maps to a taxonomy variant.
const (
	PageGame     PageKind = "game"
	PageCompany  PageKind = "company"
	PagePlatform PageKind = "platform"
	PageGenre    PageKind = "genre"
	PageMode     PageKind = "mode"
	PageSeries   PageKind = "series"
	PageEngine   PageKind = "engine"
)

// ParsePageKind validates a page kind string; empty means PageGame.
func ParsePageKind(raw string) (PageKind, error) {
	switch k := PageKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case "":
		return PageGame, nil
	case PageGame, PageCompany, PagePlatform, PageGenre, PageMode, PageSeries, PageEngine:
		return k, nil
	default:
		return "", fmt.Errorf("unknown page kind %q", raw)
	}
}

// CrawlTask is the tagged union of frontier and processing work.
//
// Title holds the category, template or page title depending on Kind.
// PageSize is only meaningful for TaskAllPages and PageKind only for TaskPage.
type CrawlTask struct {
	Kind         TaskKind `json:"kind"`
	Title        string   `json:"title,omitempty"`
	Continuation string   `json:"continuation,omitempty"`
	PageSize     int      `json:"page_size,omitempty"`
	PageKind     PageKind `json:"page_kind,omitempty"`
}

// CategoryTraversal builds a category task.
func CategoryTraversal(category, continuation string) CrawlTask {
	return CrawlTask{Kind: TaskCategory, Title: category, Continuation: continuation}
}

// TemplateTransclusion builds a template task.
func TemplateTransclusion(template, continuation string) CrawlTask {
	return CrawlTask{Kind: TaskTemplate, Title: template, Continuation: continuation}
}

// AllPagesEnumeration builds an all-pages task.
func AllPagesEnumeration(pageSize int, continuation string) CrawlTask {
	return CrawlTask{Kind: TaskAllPages, PageSize: pageSize, Continuation: continuation}
}

// PageProcessing builds a page task. An empty kind means PageGame.
func PageProcessing(title string, kind PageKind) CrawlTask {
	if kind == "" {
		kind = PageGame
	}
	return CrawlTask{Kind: TaskPage, Title: title, PageKind: kind}
}

// WithContinuation returns the same traversal positioned at the next token.
func (t CrawlTask) WithContinuation(token string) CrawlTask {
	next := t
	next.Continuation = token
	return next
}

// DedupKey derives the identity used to collapse duplicate pending submissions.
func (t CrawlTask) DedupKey() string {
	parts := []string{string(t.Kind), t.Title}
	switch t.Kind {
	case TaskAllPages:
		parts = append(parts, strconv.Itoa(t.PageSize), t.Continuation)
	case TaskPage:
		kind := t.PageKind
		if kind == "" {
			kind = PageGame
		}
		parts = append(parts, string(kind))
	default:
		parts = append(parts, t.Continuation)
	}
	return strings.Join(parts, "|")
}

// Validate rejects tasks that cannot be executed.
func (t CrawlTask) Validate() error {
	switch t.Kind {
	case TaskCategory, TaskTemplate, TaskPage:
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("%s task requires a title", t.Kind)
		}
	case TaskAllPages:
		if t.PageSize <= 0 {
			return errors.New("allpages task requires a positive page size")
		}
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	return nil
}

// QueueItem wraps a task ready to run.
type QueueItem struct {
	ID        string
	Task      CrawlTask
	Attempt   int
	Submitted time.Time
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is returned by fetchers.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
