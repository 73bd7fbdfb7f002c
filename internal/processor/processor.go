// Package processor turns one wiki page into catalog records: game pages yield
// games and discovery tasks for their linked entities, entity pages fill in
// the details of a taxonomy entry.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wikigames-crawler/internal/catalog"
	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
	"github.com/JakeFAU/wikigames-crawler/internal/infobox"
	"github.com/JakeFAU/wikigames-crawler/internal/normalize"
)

const (
	// DefaultPageBaseURL is the article prefix of English Wikipedia.
	DefaultPageBaseURL = "https://en.wikipedia.org/wiki/"
	archiveContentType = "text/html; charset=utf-8"
)

// Catalog is the persistence surface the processor writes through.
type Catalog interface {
	PersistGame(ctx context.Context, page catalog.PageInput, fs infobox.FieldSet) (catalog.PersistResult, error)
	UpsertEntityPage(ctx context.Context, kind catalog.Kind, page catalog.PageInput, attrs catalog.EntityAttrs) (catalog.Entity, error)
	NeedsDetails(ctx context.Context, kind catalog.Kind, name string) (bool, error)
}

// Config controls page processing.
type Config struct {
	PageBaseURL string
	// ArchivePrefix is the object prefix for rendered HTML copies.
	ArchivePrefix string
}

// Processor executes page tasks.
type Processor struct {
	gateway crawler.Gateway
	catalog Catalog
	submit  crawler.Submitter
	archive crawler.BlobStore
	hasher  crawler.Hasher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Processor. archive and hasher may both be nil to disable
// HTML archiving.
func New(
	gateway crawler.Gateway,
	cat Catalog,
	submit crawler.Submitter,
	archive crawler.BlobStore,
	hasher crawler.Hasher,
	cfg Config,
	logger *zap.Logger,
) (*Processor, error) {
	if gateway == nil || cat == nil || submit == nil {
		return nil, errors.New("gateway, catalog and submitter are required")
	}
	if archive != nil && hasher == nil {
		return nil, errors.New("archiving requires a hasher")
	}
	if cfg.PageBaseURL == "" {
		cfg.PageBaseURL = DefaultPageBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		gateway: gateway,
		catalog: cat,
		submit:  submit,
		archive: archive,
		hasher:  hasher,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Handle processes one page task.
func (p *Processor) Handle(ctx context.Context, task crawler.CrawlTask) error {
	if task.Kind != crawler.TaskPage {
		return fmt.Errorf("processor cannot execute %q tasks", task.Kind)
	}
	if task.PageKind == "" || task.PageKind == crawler.PageGame {
		return p.processGame(ctx, task.Title)
	}
	kind, ok := catalog.KindForPage(task.PageKind)
	if !ok {
		return fmt.Errorf("unknown page kind %q", task.PageKind)
	}
	return p.processEntity(ctx, kind, task.Title)
}

// page is the fetched and parsed state shared by both page flavours.
type page struct {
	input  catalog.PageInput
	html   string
	fields []infobox.FieldSet
}

func (p *Processor) processGame(ctx context.Context, title string) error {
	logger := p.logger.With(zap.String("title", title), zap.String("page_kind", string(crawler.PageGame)))
	if p.skip(ctx, title, logger) {
		return nil
	}
	pg, err := p.fetch(ctx, title)
	if err != nil {
		return err
	}
	if len(pg.fields) == 0 {
		logger.Warn("no infobox data found")
		return nil
	}

	if err := p.enrich(ctx, &pg, logger); err != nil {
		return err
	}
	if err := p.spawnChildren(ctx, pg.fields, logger); err != nil {
		return err
	}

	persisted := 0
	for i, fs := range pg.fields {
		result, err := p.catalog.PersistGame(ctx, pg.input, fs)
		if err != nil {
			return fmt.Errorf("persist infobox %d of %q: %w", i, title, err)
		}
		if !result.Persisted {
			logger.Warn("infobox skipped",
				zap.Int("infobox", i),
				zap.String("caption", fs.Caption),
				zap.String("missing", result.SkipReason),
			)
			continue
		}
		persisted++
	}

	p.archivePage(ctx, pg, logger)
	logger.Info("game page processed",
		zap.Int("infoboxes", len(pg.fields)),
		zap.Int("games", persisted),
	)
	return nil
}

func (p *Processor) processEntity(ctx context.Context, kind catalog.Kind, title string) error {
	logger := p.logger.With(zap.String("title", title), zap.String("page_kind", string(kind)))
	if p.skip(ctx, title, logger) {
		return nil
	}
	pg, err := p.fetch(ctx, title)
	if err != nil {
		return err
	}

	var fs infobox.FieldSet
	switch {
	case len(pg.fields) > 0:
		fs = pg.fields[0]
	case kind == catalog.KindGenre || kind == catalog.KindMode || kind == catalog.KindSeries:
		// Name-only variants are still recorded without an infobox.
		logger.Warn("no infobox data found, recording page only")
	default:
		logger.Warn("no infobox data found")
		return nil
	}
	pg.fields = []infobox.FieldSet{fs}

	if err := p.enrich(ctx, &pg, logger); err != nil {
		return err
	}
	entity, err := p.catalog.UpsertEntityPage(ctx, kind, pg.input, entityAttrs(kind, title, pg.fields[0]))
	if err != nil {
		return err
	}
	p.archivePage(ctx, pg, logger)
	logger.Info("entity page processed", zap.Int64("entity_id", entity.ID))
	return nil
}

// skip reports whether the page is a disambiguation or redirect page. Failed
// checks are logged and the page is processed.
func (p *Processor) skip(ctx context.Context, title string, logger *zap.Logger) bool {
	disambiguation, err := p.gateway.IsDisambiguation(ctx, title)
	switch {
	case err != nil:
		logger.Warn("disambiguation check failed, continuing", zap.Error(err))
	case disambiguation:
		logger.Info("skipping disambiguation page")
		return true
	}

	redirect, err := p.gateway.IsRedirect(ctx, title)
	switch {
	case err != nil:
		logger.Warn("redirect check failed, continuing", zap.Error(err))
	case redirect:
		logger.Info("skipping redirect page")
		return true
	}
	return false
}

func (p *Processor) fetch(ctx context.Context, title string) (page, error) {
	content, err := p.gateway.PageContent(ctx, title)
	if err != nil {
		return page{}, fmt.Errorf("fetch page %q: %w", title, err)
	}
	fields, err := infobox.Parse(content.HTML)
	if err != nil {
		return page{}, fmt.Errorf("parse infobox of %q: %w", title, err)
	}
	return page{
		input: catalog.PageInput{
			Title:      title,
			URL:        normalize.PageURL(p.cfg.PageBaseURL, title),
			RawContent: content.Wikitext,
		},
		html:   content.HTML,
		fields: fields,
	}, nil
}

// enrich fills the lead description and, for field sets without an image,
// the page's main image. Both lookups are best effort.
func (p *Processor) enrich(ctx context.Context, pg *page, logger *zap.Logger) error {
	needsImage := false
	for _, fs := range pg.fields {
		if fs.ImageURL == "" {
			needsImage = true
			break
		}
	}

	var description, image string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		description, err = p.gateway.LeadDescription(gctx, pg.input.Title)
		if err != nil {
			logger.Warn("lead description lookup failed", zap.Error(err))
		}
		return nil
	})
	if needsImage {
		g.Go(func() error {
			var err error
			image, err = p.gateway.MainImage(gctx, pg.input.Title)
			if err != nil {
				logger.Warn("main image lookup failed", zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("enrich page: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enrich page: %w", err)
	}

	pg.input.Description = description
	for i := range pg.fields {
		if pg.fields[i].ImageURL == "" {
			pg.fields[i].ImageURL = normalize.AbsoluteURL(image)
		}
	}
	return nil
}

// discoveryFields maps infobox link lists onto the entity kind they lead to.
//
//nolint:gochecknoglobals // static lookup table
var discoveryFields = []struct {
	field infobox.ListField
	kind  catalog.Kind
}{
	{infobox.Developers, catalog.KindCompany},
	{infobox.Publishers, catalog.KindCompany},
	{infobox.Platforms, catalog.KindPlatform},
	{infobox.Engines, catalog.KindEngine},
	{infobox.Genres, catalog.KindGenre},
	{infobox.Modes, catalog.KindMode},
	{infobox.Series, catalog.KindSeries},
}

// spawnChildren submits a page task for every linked entity that has no
// canonical url yet.
func (p *Processor) spawnChildren(ctx context.Context, fields []infobox.FieldSet, logger *zap.Logger) error {
	seen := make(map[string]struct{})
	spawned := 0
	for _, fs := range fields {
		for _, df := range discoveryFields {
			for _, title := range normalize.FilterFootnotes(fs.Links(df.field)) {
				title = normalize.Name(title)
				if title == "" {
					continue
				}
				key := string(df.kind) + "|" + title
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				needs, err := p.catalog.NeedsDetails(ctx, df.kind, title)
				if err != nil {
					logger.Warn("details check failed, spawning anyway",
						zap.String("linked_title", title), zap.Error(err))
					needs = true
				}
				if !needs {
					continue
				}
				if _, err := p.submit.Enqueue(ctx, crawler.PageProcessing(title, df.kind.PageKind()), 0); err != nil {
					return fmt.Errorf("enqueue %s page %q: %w", df.kind, title, err)
				}
				spawned++
			}
		}
	}
	if spawned > 0 {
		logger.Debug("linked entity pages submitted", zap.Int("count", spawned))
	}
	return nil
}

func (p *Processor) archivePage(ctx context.Context, pg page, logger *zap.Logger) {
	if p.archive == nil || pg.html == "" {
		return
	}
	hash, err := p.hasher.Hash([]byte(pg.html))
	if err != nil {
		logger.Warn("hash page html failed", zap.Error(err))
		return
	}
	path := hash + ".html"
	if prefix := strings.Trim(p.cfg.ArchivePrefix, "/"); prefix != "" {
		path = prefix + "/" + path
	}
	uri, err := p.archive.PutObject(ctx, path, archiveContentType, []byte(pg.html))
	if err != nil {
		logger.Warn("archive page html failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("page html archived", zap.String("uri", uri))
}

func entityAttrs(kind catalog.Kind, title string, fs infobox.FieldSet) catalog.EntityAttrs {
	attrs := catalog.EntityAttrs{
		CoverImageURL: fs.ImageURL,
		Website:       fs.Website,
	}
	switch kind {
	case catalog.KindCompany:
		attrs.CleanName = normalize.CleanTitle(title)
		if fs.Founded > 0 {
			founded := fs.Founded
			attrs.Founded = &founded
		}
	case catalog.KindPlatform, catalog.KindEngine:
		if date, ok := infobox.ParseDate(fs.ReleaseDate); ok {
			attrs.ReleaseDate = &date
		}
	}
	return attrs
}
