// Package mediawiki reads listings, page content and summaries from a
// MediaWiki installation through its action API and REST summary endpoint.
package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
	"github.com/JakeFAU/wikigames-crawler/internal/metrics"
)

const (
	listLimit        = 100
	maxAllPagesLimit = 500
	thumbSize        = 1000
	defaultCacheSize = 512
)

// Config describes the remote wiki.
type Config struct {
	APIEndpoint  string
	RESTEndpoint string
	UserAgent    string
	// CacheSize bounds the per-title memo of parse bundles and summaries.
	CacheSize int
}

type pageEntry struct {
	content crawler.PageContent
	missing bool
}

// Client implements crawler.Gateway.
type Client struct {
	fetcher crawler.Fetcher
	cfg     Config
	logger  *zap.Logger

	group     singleflight.Group
	mu        sync.Mutex
	pages     map[string]pageEntry
	summaries map[string]crawler.Summary
}

var _ crawler.Gateway = (*Client)(nil)

// New builds a Client over fetcher.
func New(cfg Config, fetcher crawler.Fetcher, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if _, err := url.ParseRequestURI(cfg.APIEndpoint); err != nil {
		return nil, fmt.Errorf("parse api endpoint: %w", err)
	}
	if _, err := url.ParseRequestURI(cfg.RESTEndpoint); err != nil {
		return nil, fmt.Errorf("parse rest endpoint: %w", err)
	}
	cfg.RESTEndpoint = strings.TrimRight(cfg.RESTEndpoint, "/")
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher:   fetcher,
		cfg:       cfg,
		logger:    logger,
		pages:     make(map[string]pageEntry),
		summaries: make(map[string]crawler.Summary),
	}, nil
}

// CategoryMembers lists one batch of a category's pages and subcategories.
func (c *Client) CategoryMembers(ctx context.Context, category, continuation string) (crawler.MemberPage, error) {
	params := url.Values{
		"action":  {"query"},
		"list":    {"categorymembers"},
		"cmtitle": {category},
		"cmtype":  {"subcat|page"},
		"cmlimit": {strconv.Itoa(listLimit)},
	}
	if continuation != "" {
		params.Set("cmcontinue", continuation)
	}
	var resp listResponse
	if err := c.query(ctx, "categorymembers", params, &resp); err != nil {
		return crawler.MemberPage{}, err
	}
	if resp.Error != nil {
		return crawler.MemberPage{}, fmt.Errorf("list category members: %s", resp.Error)
	}
	members := make([]crawler.PageDescriptor, 0, len(resp.Query.CategoryMembers))
	for _, m := range resp.Query.CategoryMembers {
		ns := m.NS
		if m.Type == "subcat" {
			ns = crawler.NamespaceCategory
		}
		members = append(members, crawler.PageDescriptor{Title: m.Title, Namespace: ns})
	}
	return crawler.MemberPage{Members: members, Continuation: resp.Continue["cmcontinue"]}, nil
}

// EmbeddedIn lists one batch of main-namespace pages transcluding template.
func (c *Client) EmbeddedIn(ctx context.Context, template, continuation string) (crawler.MemberPage, error) {
	params := url.Values{
		"action":      {"query"},
		"list":        {"embeddedin"},
		"eititle":     {template},
		"einamespace": {strconv.Itoa(crawler.NamespaceMain)},
		"eilimit":     {strconv.Itoa(listLimit)},
	}
	if continuation != "" {
		params.Set("eicontinue", continuation)
	}
	var resp listResponse
	if err := c.query(ctx, "embeddedin", params, &resp); err != nil {
		return crawler.MemberPage{}, err
	}
	if resp.Error != nil {
		return crawler.MemberPage{}, fmt.Errorf("list transclusions: %s", resp.Error)
	}
	return crawler.MemberPage{
		Members:      descriptors(resp.Query.EmbeddedIn),
		Continuation: resp.Continue["eicontinue"],
	}, nil
}

// AllPages lists one batch of main-namespace pages. limit is clamped to 1..500.
func (c *Client) AllPages(ctx context.Context, limit int, continuation string) (crawler.MemberPage, error) {
	params := url.Values{
		"action":      {"query"},
		"list":        {"allpages"},
		"aplimit":     {strconv.Itoa(ClampLimit(limit))},
		"apnamespace": {strconv.Itoa(crawler.NamespaceMain)},
	}
	if continuation != "" {
		params.Set("apcontinue", continuation)
	}
	var resp listResponse
	if err := c.query(ctx, "allpages", params, &resp); err != nil {
		return crawler.MemberPage{}, err
	}
	if resp.Error != nil {
		return crawler.MemberPage{}, fmt.Errorf("list all pages: %s", resp.Error)
	}
	return crawler.MemberPage{
		Members:      descriptors(resp.Query.AllPages),
		Continuation: resp.Continue["apcontinue"],
	}, nil
}

// ClampLimit bounds an all-pages batch size to what the API accepts.
func ClampLimit(limit int) int {
	return max(1, min(maxAllPagesLimit, limit))
}

// PageContent returns the rendered HTML and wikitext of title from a single
// parse call. Results, including missing pages, are memoised per title.
func (c *Client) PageContent(ctx context.Context, title string) (crawler.PageContent, error) {
	if entry, ok := c.cachedPage(title); ok {
		if entry.missing {
			return crawler.PageContent{}, crawler.ErrPageNotFound
		}
		return entry.content, nil
	}

	v, err, _ := c.group.Do("parse\x00"+title, func() (any, error) {
		return c.fetchPage(ctx, title)
	})
	if err != nil {
		return crawler.PageContent{}, err
	}
	entry := v.(pageEntry)
	if entry.missing {
		return crawler.PageContent{}, crawler.ErrPageNotFound
	}
	return entry.content, nil
}

func (c *Client) fetchPage(ctx context.Context, title string) (pageEntry, error) {
	params := url.Values{
		"action":    {"parse"},
		"page":      {title},
		"prop":      {"text|wikitext"},
		"redirects": {"1"},
	}
	var resp parseResponse
	if err := c.query(ctx, "parse", params, &resp); err != nil {
		return pageEntry{}, err
	}
	var entry pageEntry
	switch {
	case resp.Error != nil && resp.Error.Code == "missingtitle":
		entry.missing = true
	case resp.Error != nil:
		return pageEntry{}, fmt.Errorf("parse page %q: %s", title, resp.Error)
	case resp.Parse.Text == "":
		entry.missing = true
	default:
		entry.content = crawler.PageContent{
			Title:    title,
			HTML:     string(resp.Parse.Text),
			Wikitext: string(resp.Parse.Wikitext),
		}
	}
	c.storePage(title, entry)
	return entry, nil
}

// Summary returns the REST summary of title. A page without a summary yields
// an empty Summary. Results are memoised per title.
func (c *Client) Summary(ctx context.Context, title string) (crawler.Summary, error) {
	c.mu.Lock()
	summary, ok := c.summaries[title]
	c.mu.Unlock()
	if ok {
		return summary, nil
	}

	v, err, _ := c.group.Do("summary\x00"+title, func() (any, error) {
		return c.fetchSummary(ctx, title)
	})
	if err != nil {
		return crawler.Summary{}, err
	}
	return v.(crawler.Summary), nil
}

func (c *Client) fetchSummary(ctx context.Context, title string) (crawler.Summary, error) {
	endpoint := c.cfg.RESTEndpoint + "/page/summary/" + url.PathEscape(title)
	var resp summaryResponse
	err := c.getJSON(ctx, "summary", endpoint, &resp)
	if err != nil && crawler.StatusCode(err) != http.StatusNotFound {
		return crawler.Summary{}, err
	}
	summary := crawler.Summary{Description: strings.TrimSpace(resp.Extract)}
	if summary.ImageURL = resp.OriginalImage.url(); summary.ImageURL == "" {
		summary.ImageURL = resp.Thumbnail.url()
	}

	c.mu.Lock()
	if len(c.summaries) >= c.cfg.CacheSize {
		clear(c.summaries)
	}
	c.summaries[title] = summary
	c.mu.Unlock()
	return summary, nil
}

// LeadDescription returns the plain-text introduction of title, preferring the
// REST summary extract.
func (c *Client) LeadDescription(ctx context.Context, title string) (string, error) {
	summary, err := c.Summary(ctx, title)
	if err != nil {
		c.logger.Warn("summary lookup failed, falling back to extracts",
			zap.String("title", title), zap.Error(err))
	}
	if summary.Description != "" {
		return summary.Description, nil
	}

	params := url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"explaintext": {"1"},
		"titles":      {title},
	}
	var resp pagesResponse
	if err := c.query(ctx, "extracts", params, &resp); err != nil {
		return "", err
	}
	pages := resp.orderedPages()
	if len(pages) == 0 {
		return "", nil
	}
	return strings.TrimSpace(pages[0].Extract), nil
}

// MainImage returns the representative image of title, preferring the REST
// summary image.
func (c *Client) MainImage(ctx context.Context, title string) (string, error) {
	summary, err := c.Summary(ctx, title)
	if err != nil {
		c.logger.Warn("summary lookup failed, falling back to pageimages",
			zap.String("title", title), zap.Error(err))
	}
	if summary.ImageURL != "" {
		return summary.ImageURL, nil
	}

	params := url.Values{
		"action":      {"query"},
		"prop":        {"pageimages"},
		"piprop":      {"original|thumbnail"},
		"pithumbsize": {strconv.Itoa(thumbSize)},
		"titles":      {title},
	}
	var resp pagesResponse
	if err := c.query(ctx, "pageimages", params, &resp); err != nil {
		return "", err
	}
	pages := resp.orderedPages()
	if len(pages) == 0 {
		return "", nil
	}
	if src := pages[0].Original.url(); src != "" {
		return src, nil
	}
	return pages[0].Thumbnail.url(), nil
}

// IsDisambiguation reports whether title (after redirects) is a disambiguation page.
func (c *Client) IsDisambiguation(ctx context.Context, title string) (bool, error) {
	params := url.Values{
		"action":    {"query"},
		"prop":      {"pageprops"},
		"ppprop":    {"disambiguation"},
		"redirects": {"1"},
		"titles":    {title},
	}
	var resp pagesResponse
	if err := c.query(ctx, "pageprops", params, &resp); err != nil {
		return false, err
	}
	if resp.Error != nil {
		return false, fmt.Errorf("read page props: %s", resp.Error)
	}
	for _, page := range resp.Query.Pages {
		if _, ok := page.PageProps["disambiguation"]; ok {
			return true, nil
		}
	}
	return false, nil
}

// IsRedirect reports whether title is a redirect to another page.
func (c *Client) IsRedirect(ctx context.Context, title string) (bool, error) {
	params := url.Values{
		"action":    {"query"},
		"redirects": {"1"},
		"titles":    {title},
	}
	var resp pagesResponse
	if err := c.query(ctx, "redirects", params, &resp); err != nil {
		return false, err
	}
	if resp.Error != nil {
		return false, fmt.Errorf("resolve redirects: %s", resp.Error)
	}
	for _, r := range resp.Query.Redirects {
		if strings.EqualFold(r.From, title) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) query(ctx context.Context, op string, params url.Values, out any) error {
	params.Set("format", "json")
	return c.getJSON(ctx, op, c.cfg.APIEndpoint+"?"+params.Encode(), out)
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		headers.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: endpoint, Headers: headers})
	if err != nil {
		metrics.ObserveGatewayRequest(op, "error")
		return fmt.Errorf("fetch %s: %w", op, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		metrics.ObserveGatewayRequest(op, "error")
		return fmt.Errorf("fetch %s: %w", op, &crawler.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		})
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		metrics.ObserveGatewayRequest(op, "error")
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	metrics.ObserveGatewayRequest(op, "ok")
	c.logger.Debug("wiki request completed",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", resp.Duration),
	)
	return nil
}

func (c *Client) cachedPage(title string) (pageEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pages[title]
	return entry, ok
}

func (c *Client) storePage(title string, entry pageEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pages) >= c.cfg.CacheSize {
		clear(c.pages)
	}
	c.pages[title] = entry
}

func (e *apiError) String() string {
	if e.Info == "" {
		return e.Code
	}
	return e.Code + ": " + e.Info
}

func descriptors(members []member) []crawler.PageDescriptor {
	out := make([]crawler.PageDescriptor, 0, len(members))
	for _, m := range members {
		out = append(out, crawler.PageDescriptor{Title: m.Title, Namespace: m.NS})
	}
	return out
}
