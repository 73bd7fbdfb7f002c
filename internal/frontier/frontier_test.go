package frontier

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
)

// fakeGateway serves listing batches keyed by "title|continuation".
type fakeGateway struct {
	crawler.Gateway

	mu             sync.Mutex
	batches        map[string]crawler.MemberPage
	disambiguation map[string]bool
	disambigErr    error
	listErr        error
	calls          []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		batches:        make(map[string]crawler.MemberPage),
		disambiguation: make(map[string]bool),
	}
}

func (g *fakeGateway) batch(op, key, continuation string) (crawler.MemberPage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, op+":"+key+"|"+continuation)
	if g.listErr != nil {
		return crawler.MemberPage{}, g.listErr
	}
	return g.batches[key+"|"+continuation], nil
}

func (g *fakeGateway) CategoryMembers(_ context.Context, category, continuation string) (crawler.MemberPage, error) {
	return g.batch("category", category, continuation)
}

func (g *fakeGateway) EmbeddedIn(_ context.Context, template, continuation string) (crawler.MemberPage, error) {
	return g.batch("template", template, continuation)
}

func (g *fakeGateway) AllPages(_ context.Context, limit int, continuation string) (crawler.MemberPage, error) {
	return g.batch("allpages", fmt.Sprint(limit), continuation)
}

func (g *fakeGateway) IsDisambiguation(_ context.Context, title string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disambigErr != nil {
		return false, g.disambigErr
	}
	return g.disambiguation[title], nil
}

type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []crawler.CrawlTask
	err   error
}

func (s *recordingSubmitter) Enqueue(_ context.Context, task crawler.CrawlTask, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.tasks = append(s.tasks, task)
	return true, nil
}

func pages(titles ...string) []crawler.PageDescriptor {
	out := make([]crawler.PageDescriptor, 0, len(titles))
	for _, title := range titles {
		out = append(out, crawler.PageDescriptor{Title: title})
	}
	return out
}

func TestCategoryBatchFansOutSubcategoriesAndPages(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway()
	gateway.batches["Category:Video games|"] = crawler.MemberPage{
		Members: []crawler.PageDescriptor{
			{Title: "Doom"},
			{Title: "Category:Shooters", Namespace: crawler.NamespaceCategory},
			{Title: ""},
			{Title: "Quake"},
		},
		Continuation: "page|QUAKE|2",
	}
	submitter := &recordingSubmitter{}
	f, err := New(gateway, submitter, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, f.Handle(context.Background(), crawler.CategoryTraversal("Category:Video games", "")))
	require.Equal(t, []crawler.CrawlTask{
		crawler.PageProcessing("Doom", crawler.PageGame),
		crawler.CategoryTraversal("Category:Shooters", ""),
		crawler.PageProcessing("Quake", crawler.PageGame),
		crawler.CategoryTraversal("Category:Video games", "page|QUAKE|2"),
	}, submitter.tasks, "continuation is submitted after every member")
}

func TestTemplateBatchSkipsDisambiguationAndFailsOpen(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway()
	gateway.batches["Template:Infobox video game|"] = crawler.MemberPage{Members: pages("Doom", "Mercury")}
	gateway.disambiguation["Mercury"] = true
	submitter := &recordingSubmitter{}
	f, err := New(gateway, submitter, nil)
	require.NoError(t, err)

	require.NoError(t, f.Handle(context.Background(), crawler.TemplateTransclusion("Template:Infobox video game", "")))
	require.Equal(t, []crawler.CrawlTask{crawler.PageProcessing("Doom", crawler.PageGame)}, submitter.tasks)

	gateway.disambigErr = errors.New("api down")
	submitter.tasks = nil
	require.NoError(t, f.Handle(context.Background(), crawler.TemplateTransclusion("Template:Infobox video game", "")))
	require.Len(t, submitter.tasks, 2, "a failed check is treated as not a disambiguation page")
}

func TestSkippedTitlesAreDropped(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway()
	gateway.batches["Category:Video games|"] = crawler.MemberPage{
		Members: pages("List of Doom games", "Doom", "Category:Lists of video games"),
	}
	submitter := &recordingSubmitter{}
	f, err := New(gateway, submitter, nil, WithSkippedTitles([]string{"List of*", "Category:Lists of*"}))
	require.NoError(t, err)

	require.NoError(t, f.Handle(context.Background(), crawler.CategoryTraversal("Category:Video games", "")))
	require.Equal(t, []crawler.CrawlTask{crawler.PageProcessing("Doom", crawler.PageGame)}, submitter.tasks)
}

func TestListTitlesSubmittedWithoutSkipPatterns(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway()
	gateway.batches["Category:Video games|"] = crawler.MemberPage{Members: pages("List of Doom games", "Doom")}
	submitter := &recordingSubmitter{}
	f, err := New(gateway, submitter, nil, WithSkippedTitles(nil))
	require.NoError(t, err)

	require.NoError(t, f.Handle(context.Background(), crawler.CategoryTraversal("Category:Video games", "")))
	require.Equal(t, []crawler.CrawlTask{
		crawler.PageProcessing("List of Doom games", crawler.PageGame),
		crawler.PageProcessing("Doom", crawler.PageGame),
	}, submitter.tasks)
}

func TestPaginationTerminates(t *testing.T) {
	t.Parallel()

	const batches = 4
	gateway := newFakeGateway()
	for i := 0; i < batches; i++ {
		cont := ""
		if i > 0 {
			cont = fmt.Sprintf("c%d", i)
		}
		next := ""
		if i < batches-1 {
			next = fmt.Sprintf("c%d", i+1)
		}
		gateway.batches["50|"+cont] = crawler.MemberPage{
			Members:      pages(fmt.Sprintf("Game %d", i)),
			Continuation: next,
		}
	}

	queue := memqueue.NewQueue(0, nil)
	f, err := New(gateway, queue, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = f.StartAllPagesEnumeration(ctx, 50, "")
	require.NoError(t, err)

	pageTasks := 0
	traversals := 0
	for {
		pending, err := queue.Pending(ctx)
		require.NoError(t, err)
		if pending == 0 {
			break
		}
		item, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		if item.Task.Kind == crawler.TaskPage {
			pageTasks++
		} else {
			traversals++
			require.NoError(t, f.Handle(ctx, item.Task))
		}
		require.NoError(t, queue.Ack(ctx, item))
	}

	require.Equal(t, batches, pageTasks)
	require.Equal(t, batches, traversals, "no continuation after the last batch")
}

func TestSeedsCollapseWhilePending(t *testing.T) {
	t.Parallel()

	queue := memqueue.NewQueue(0, nil)
	f, err := New(newFakeGateway(), queue, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.StartCategoryTraversal(ctx, "Category:Video games")
		require.NoError(t, err)
	}
	_, err = f.StartTemplateTransclusion(ctx, "Template:Infobox video game")
	require.NoError(t, err)
	_, err = f.StartPage(ctx, "Capcom", crawler.PageCompany)
	require.NoError(t, err)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, pending)
}

func TestSeedValidation(t *testing.T) {
	t.Parallel()

	f, err := New(newFakeGateway(), &recordingSubmitter{}, nil)
	require.NoError(t, err)
	_, err = f.StartCategoryTraversal(context.Background(), "  ")
	require.Error(t, err)
	_, err = f.StartAllPagesEnumeration(context.Background(), 0, "")
	require.Error(t, err)
}

func TestHandleErrors(t *testing.T) {
	t.Parallel()

	gateway := newFakeGateway()
	gateway.listErr = errors.New("503")
	f, err := New(gateway, &recordingSubmitter{}, nil)
	require.NoError(t, err)
	require.ErrorContains(t, f.Handle(context.Background(), crawler.CategoryTraversal("Category:X", "")), "503")

	require.Error(t, f.Handle(context.Background(), crawler.PageProcessing("Doom", "")))

	gateway.listErr = nil
	gateway.batches["Category:X|"] = crawler.MemberPage{Members: pages("Doom")}
	boom := errors.New("queue full")
	f, err = New(gateway, &recordingSubmitter{err: boom}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, f.Handle(context.Background(), crawler.CategoryTraversal("Category:X", "")), boom)

	_, err = New(nil, &recordingSubmitter{}, nil)
	require.Error(t, err)
}
