package mediawiki

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
)

const (
	testAPI  = "https://wiki.example.org/w/api.php"
	testREST = "https://wiki.example.org/api/rest_v1/"
)

type fakeFetcher struct {
	mu       sync.Mutex
	requests []crawler.FetchRequest
	respond  func(u *url.URL) (int, string, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	u, err := url.Parse(req.URL)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	status, body, err := f.respond(u)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: status, Body: []byte(body)}, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeFetcher) lastQuery(t *testing.T) url.Values {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	u, err := url.Parse(f.requests[len(f.requests)-1].URL)
	require.NoError(t, err)
	return u.Query()
}

func newTestClient(t *testing.T, respond func(u *url.URL) (int, string, error)) (*Client, *fakeFetcher) {
	t.Helper()
	fetcher := &fakeFetcher{respond: respond}
	client, err := New(Config{
		APIEndpoint:  testAPI,
		RESTEndpoint: testREST,
		UserAgent:    "wikigames-test/1.0",
	}, fetcher, zap.NewNop())
	require.NoError(t, err)
	return client, fetcher
}

func ok(body string) func(*url.URL) (int, string, error) {
	return func(*url.URL) (int, string, error) { return http.StatusOK, body, nil }
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{APIEndpoint: testAPI, RESTEndpoint: testREST}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{APIEndpoint: "not a url", RESTEndpoint: testREST}, &fakeFetcher{}, nil)
	require.Error(t, err)
}

func TestCategoryMembers(t *testing.T) {
	t.Parallel()

	client, fetcher := newTestClient(t, ok(`{
		"continue": {"cmcontinue": "page|ABC|123", "continue": "-||"},
		"query": {"categorymembers": [
			{"pageid": 1, "ns": 0, "title": "Doom"},
			{"pageid": 2, "ns": 14, "title": "Category:Doom (franchise)"},
			{"pageid": 3, "ns": 0, "title": "Quake", "type": "page"}
		]}
	}`))

	page, err := client.CategoryMembers(context.Background(), "Category:Video games", "page|XYZ|1")
	require.NoError(t, err)
	require.Equal(t, "page|ABC|123", page.Continuation)
	require.Len(t, page.Members, 3)
	require.False(t, page.Members[0].IsCategory())
	require.True(t, page.Members[1].IsCategory())
	require.Equal(t, "Quake", page.Members[2].Title)

	q := fetcher.lastQuery(t)
	require.Equal(t, "categorymembers", q.Get("list"))
	require.Equal(t, "Category:Video games", q.Get("cmtitle"))
	require.Equal(t, "subcat|page", q.Get("cmtype"))
	require.Equal(t, "100", q.Get("cmlimit"))
	require.Equal(t, "page|XYZ|1", q.Get("cmcontinue"))
	require.Equal(t, "json", q.Get("format"))

	fetcher.mu.Lock()
	headers := fetcher.requests[0].Headers
	fetcher.mu.Unlock()
	require.Equal(t, "wikigames-test/1.0", headers.Get("User-Agent"))
	require.Equal(t, "application/json", headers.Get("Accept"))
}

func TestEmbeddedInLastBatchHasNoContinuation(t *testing.T) {
	t.Parallel()

	client, fetcher := newTestClient(t, ok(`{"batchcomplete": "", "query": {"embeddedin": [
		{"pageid": 10, "ns": 0, "title": "Half-Life"}
	]}}`))

	page, err := client.EmbeddedIn(context.Background(), "Template:Infobox video game", "")
	require.NoError(t, err)
	require.Empty(t, page.Continuation)
	require.Equal(t, []crawler.PageDescriptor{{Title: "Half-Life", Namespace: 0}}, page.Members)

	q := fetcher.lastQuery(t)
	require.Equal(t, "Template:Infobox video game", q.Get("eititle"))
	require.Equal(t, "0", q.Get("einamespace"))
	require.Equal(t, "100", q.Get("eilimit"))
	require.False(t, q.Has("eicontinue"))
}

func TestAllPagesClampsLimitAndReportsAPIErrors(t *testing.T) {
	t.Parallel()

	client, fetcher := newTestClient(t, ok(`{"continue": {"apcontinue": "Zelda"}, "query": {"allpages": [
		{"pageid": 5, "ns": 0, "title": "Tetris"}
	]}}`))

	page, err := client.AllPages(context.Background(), 5000, "")
	require.NoError(t, err)
	require.Equal(t, "Zelda", page.Continuation)
	require.Equal(t, "500", fetcher.lastQuery(t).Get("aplimit"))

	_, err = client.AllPages(context.Background(), 0, "Tetris")
	require.NoError(t, err)
	q := fetcher.lastQuery(t)
	require.Equal(t, "1", q.Get("aplimit"))
	require.Equal(t, "Tetris", q.Get("apcontinue"))

	failing, _ := newTestClient(t, ok(`{"error": {"code": "badcontinue", "info": "Invalid continue param."}}`))
	_, err = failing.AllPages(context.Background(), 100, "bogus")
	require.ErrorContains(t, err, "badcontinue")
}

func TestNon2xxStatusIsAnError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(*url.URL) (int, string, error) {
		return http.StatusBadGateway, "", nil
	})
	_, err := client.CategoryMembers(context.Background(), "Category:Video games", "")
	require.Error(t, err)
	require.Equal(t, http.StatusBadGateway, crawler.StatusCode(err))
}

func TestPageContentReadsLegacyKeysAndMemoises(t *testing.T) {
	t.Parallel()

	client, fetcher := newTestClient(t, ok(`{"parse": {
		"title": "Doom (1993 video game)",
		"text": {"*": "<table class=\"infobox\"></table>"},
		"wikitext": {"*": "{{Infobox video game}}"}
	}}`))

	content, err := client.PageContent(context.Background(), "Doom (1993 video game)")
	require.NoError(t, err)
	require.Equal(t, `<table class="infobox"></table>`, content.HTML)
	require.Equal(t, "{{Infobox video game}}", content.Wikitext)

	q := fetcher.lastQuery(t)
	require.Equal(t, "parse", q.Get("action"))
	require.Equal(t, "text|wikitext", q.Get("prop"))
	require.Equal(t, "1", q.Get("redirects"))

	_, err = client.PageContent(context.Background(), "Doom (1993 video game)")
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.calls())
}

func TestPageContentPlainStringText(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, ok(`{"parse": {"title": "X", "text": "<p>hi</p>", "wikitext": "hi"}}`))
	content, err := client.PageContent(context.Background(), "X")
	require.NoError(t, err)
	require.Equal(t, "<p>hi</p>", content.HTML)
}

func TestPageContentMissingTitle(t *testing.T) {
	t.Parallel()

	client, fetcher := newTestClient(t, ok(`{"error": {"code": "missingtitle", "info": "The page you specified doesn't exist."}}`))

	_, err := client.PageContent(context.Background(), "No Such Game")
	require.ErrorIs(t, err, crawler.ErrPageNotFound)
	_, err = client.PageContent(context.Background(), "No Such Game")
	require.ErrorIs(t, err, crawler.ErrPageNotFound)
	require.Equal(t, 1, fetcher.calls(), "missing pages are memoised too")
}

func TestPageContentTransientFailureIsNotMemoised(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	failures := 1
	client, fetcher := newTestClient(t, func(*url.URL) (int, string, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return 0, "", errors.New("connection reset")
		}
		return http.StatusOK, `{"parse": {"text": {"*": "<p/>"}}}`, nil
	})

	_, err := client.PageContent(context.Background(), "Doom")
	require.Error(t, err)
	_, err = client.PageContent(context.Background(), "Doom")
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.calls())
}

func TestSummaryDrivesDescriptionAndImage(t *testing.T) {
	t.Parallel()

	client, fetcher := newTestClient(t, func(u *url.URL) (int, string, error) {
		require.Equal(t, "/api/rest_v1/page/summary/Doom%20%281993%20video%20game%29", u.EscapedPath())
		return http.StatusOK, `{
			"extract": "Doom is a 1993 first-person shooter. ",
			"thumbnail": {"source": "https://upload.example.org/thumb.png"},
			"originalimage": {"source": "https://upload.example.org/original.png"}
		}`, nil
	})

	ctx := context.Background()
	title := "Doom (1993 video game)"
	desc, err := client.LeadDescription(ctx, title)
	require.NoError(t, err)
	require.Equal(t, "Doom is a 1993 first-person shooter.", desc)

	image, err := client.MainImage(ctx, title)
	require.NoError(t, err)
	require.Equal(t, "https://upload.example.org/original.png", image)
	require.Equal(t, 1, fetcher.calls(), "summary is fetched once per title")
}

func TestSummaryThumbnailFallback(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, ok(`{"extract": "x", "thumbnail": {"source": "https://upload.example.org/thumb.png"}}`))
	summary, err := client.Summary(context.Background(), "Tetris")
	require.NoError(t, err)
	require.Equal(t, "https://upload.example.org/thumb.png", summary.ImageURL)
}

func TestDescriptionAndImageFallBackToActionAPI(t *testing.T) {
	t.Parallel()

	client, fetcher := newTestClient(t, func(u *url.URL) (int, string, error) {
		if strings.Contains(u.Path, "/page/summary/") {
			return http.StatusNotFound, "", nil
		}
		switch u.Query().Get("prop") {
		case "extracts":
			return http.StatusOK, `{"query": {"pages": {"42": {"title": "Tetris", "extract": "Tetris is a puzzle game."}}}}`, nil
		case "pageimages":
			return http.StatusOK, `{"query": {"pages": {"42": {"title": "Tetris", "thumbnail": {"source": "https://upload.example.org/t.png"}}}}}`, nil
		}
		return http.StatusBadRequest, "", nil
	})

	ctx := context.Background()
	desc, err := client.LeadDescription(ctx, "Tetris")
	require.NoError(t, err)
	require.Equal(t, "Tetris is a puzzle game.", desc)

	image, err := client.MainImage(ctx, "Tetris")
	require.NoError(t, err)
	require.Equal(t, "https://upload.example.org/t.png", image)

	q := fetcher.lastQuery(t)
	require.Equal(t, "original|thumbnail", q.Get("piprop"))
	require.Equal(t, "1000", q.Get("pithumbsize"))
	// One summary call (404 memoised as empty) plus the two action API calls.
	require.Equal(t, 3, fetcher.calls())
}

func TestIsDisambiguation(t *testing.T) {
	t.Parallel()

	client, fetcher := newTestClient(t, func(u *url.URL) (int, string, error) {
		if u.Query().Get("titles") == "Mercury" {
			return http.StatusOK, `{"query": {"pages": {"1": {"title": "Mercury", "pageprops": {"disambiguation": ""}}}}}`, nil
		}
		return http.StatusOK, `{"query": {"pages": {"2": {"title": "Doom"}}}}`, nil
	})

	ctx := context.Background()
	isDisambig, err := client.IsDisambiguation(ctx, "Mercury")
	require.NoError(t, err)
	require.True(t, isDisambig)
	q := fetcher.lastQuery(t)
	require.Equal(t, "pageprops", q.Get("prop"))
	require.Equal(t, "disambiguation", q.Get("ppprop"))

	isDisambig, err = client.IsDisambiguation(ctx, "Doom")
	require.NoError(t, err)
	require.False(t, isDisambig)
}

func TestIsRedirectMatchesCaseInsensitively(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, ok(`{"query": {
		"redirects": [{"from": "DOOM II", "to": "Doom II"}],
		"pages": {"7": {"title": "Doom II"}}
	}}`))

	ctx := context.Background()
	redirect, err := client.IsRedirect(ctx, "Doom II")
	require.NoError(t, err)
	require.True(t, redirect)

	redirect, err = client.IsRedirect(ctx, "Quake")
	require.NoError(t, err)
	require.False(t, redirect)
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, ClampLimit(-3))
	require.Equal(t, 100, ClampLimit(100))
	require.Equal(t, 500, ClampLimit(501))
}
