package catalog

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikigames-crawler/internal/infobox"
	"github.com/JakeFAU/wikigames-crawler/internal/metrics"
	"github.com/JakeFAU/wikigames-crawler/internal/normalize"
)

// listKinds maps the non-company infobox lists onto their taxonomy variant.
//
//nolint:gochecknoglobals // static lookup table
var listKinds = []struct {
	field infobox.ListField
	kind  Kind
}{
	{infobox.Genres, KindGenre},
	{infobox.Platforms, KindPlatform},
	{infobox.Modes, KindMode},
	{infobox.Series, KindSeries},
	{infobox.Engines, KindEngine},
}

// Resolver turns field sets into catalog records. It is safe for concurrent use
// by independent workers: every create path tolerates losing a unique-constraint
// race by re-reading.
type Resolver struct {
	repo   Repository
	logger *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(repo Repository, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{repo: repo, logger: logger}
}

// PersistResult reports what PersistGame did with one field set.
type PersistResult struct {
	Persisted bool
	// SkipReason names the first missing required field when Persisted is false.
	SkipReason string
	Game       Game
	SharedPage SharedPage
}

// ResolveSharedPage looks the page up by url then title and updates it, or creates it.
func (r *Resolver) ResolveSharedPage(ctx context.Context, in PageInput) (SharedPage, error) {
	return resolveSharedPage(ctx, r.repo, in)
}

func resolveSharedPage(ctx context.Context, repo Repository, in PageInput) (SharedPage, error) {
	if strings.TrimSpace(in.URL) == "" || strings.TrimSpace(in.Title) == "" {
		return SharedPage{}, fmt.Errorf("shared page requires title and url")
	}
	page, found, err := repo.FindSharedPage(ctx, in.URL, in.Title)
	if err != nil {
		return SharedPage{}, fmt.Errorf("find shared page: %w", err)
	}
	if !found {
		page = SharedPage{}
	}
	page.Title = in.Title
	page.URL = in.URL
	page.Description = in.Description
	page.RawContent = in.RawContent
	saved, err := repo.SaveSharedPage(ctx, page)
	if err != nil {
		return SharedPage{}, fmt.Errorf("save shared page: %w", err)
	}
	return saved, nil
}

// ResolveOrCreateEntities returns ids for names in input order, creating missing
// rows with a conflict-tolerant insert. Blank names and footnote tokens are dropped.
func (r *Resolver) ResolveOrCreateEntities(ctx context.Context, kind Kind, names []string) ([]int64, error) {
	return resolveEntities(ctx, r.repo, kind, names)
}

func resolveEntities(ctx context.Context, repo Repository, kind Kind, names []string) ([]int64, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	wanted := cleanNames(names)
	if len(wanted) == 0 {
		return nil, nil
	}

	existing, err := repo.FindEntitiesByName(ctx, kind, wanted)
	if err != nil {
		return nil, fmt.Errorf("lookup %s names: %w", kind, err)
	}
	missing := make([]string, 0, len(wanted))
	for _, name := range wanted {
		if _, ok := existing[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		created, err := repo.InsertEntityNames(ctx, kind, missing)
		if err != nil {
			return nil, fmt.Errorf("insert %s names: %w", kind, err)
		}
		metrics.ObserveEntitiesCreated(string(kind), created)

		existing, err = repo.FindEntitiesByName(ctx, kind, wanted)
		if err != nil {
			return nil, fmt.Errorf("relookup %s names: %w", kind, err)
		}
	}

	ids := make([]int64, 0, len(wanted))
	for _, name := range wanted {
		id, ok := existing[name]
		if !ok {
			return nil, fmt.Errorf("%s %q missing after insert", kind, name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PersistGame writes one game for the field set when it carries at least one
// developer, publisher and genre plus a release year. A field set that fails
// the gate writes nothing, not even the shared page.
func (r *Resolver) PersistGame(ctx context.Context, page PageInput, fs infobox.FieldSet) (PersistResult, error) {
	developers := normalize.FilterFootnotes(fs.List(infobox.Developers))
	publishers := normalize.FilterFootnotes(fs.List(infobox.Publishers))
	genres := normalize.FilterFootnotes(fs.List(infobox.Genres))
	year, hasYear := normalize.ReleaseYear(fs.ReleaseDate)

	switch {
	case len(cleanNames(developers)) == 0:
		return PersistResult{SkipReason: "developers"}, nil
	case len(cleanNames(publishers)) == 0:
		return PersistResult{SkipReason: "publishers"}, nil
	case len(cleanNames(genres)) == 0:
		return PersistResult{SkipReason: "genres"}, nil
	case !hasYear:
		return PersistResult{SkipReason: "release year"}, nil
	}

	cleanTitle := normalize.CleanTitle(fs.Caption)
	if cleanTitle == "" {
		cleanTitle = normalize.CleanTitle(page.Title)
	}

	var result PersistResult
	err := r.repo.InTx(ctx, func(tx Repository) error {
		shared, err := resolveSharedPage(ctx, tx, page)
		if err != nil {
			return err
		}

		game := Game{
			SharedPageID:  &shared.ID,
			CleanTitle:    cleanTitle,
			CoverImageURL: normalize.DecodeURL(fs.ImageURL),
			ReleaseYear:   &year,
		}
		if date, ok := infobox.ParseDate(fs.ReleaseDate); ok {
			game.ReleaseDate = &date
		}
		game, err = tx.UpsertGame(ctx, game)
		if err != nil {
			return fmt.Errorf("upsert game: %w", err)
		}

		rel, err := resolveRelations(ctx, tx, fs, developers, publishers)
		if err != nil {
			return err
		}
		if err := tx.ReplaceGameRelations(ctx, game.ID, rel); err != nil {
			return fmt.Errorf("replace game relations: %w", err)
		}
		result = PersistResult{Persisted: true, Game: game, SharedPage: shared}
		return nil
	})
	if err != nil {
		return PersistResult{}, fmt.Errorf("persist game %q: %w", cleanTitle, err)
	}

	metrics.ObserveGamePersisted()
	r.logger.Info("game persisted",
		zap.String("title", page.Title),
		zap.String("clean_title", cleanTitle),
		zap.Int64("game_id", result.Game.ID),
		zap.Int64("shared_page_id", result.SharedPage.ID),
	)
	return result, nil
}

func resolveRelations(
	ctx context.Context,
	repo Repository,
	fs infobox.FieldSet,
	developers, publishers []string,
) (GameRelations, error) {
	var rel GameRelations
	for _, lk := range listKinds {
		ids, err := resolveEntities(ctx, repo, lk.kind, fs.List(lk.field))
		if err != nil {
			return GameRelations{}, err
		}
		switch lk.kind {
		case KindGenre:
			rel.Genres = ids
		case KindPlatform:
			rel.Platforms = ids
		case KindMode:
			rel.Modes = ids
		case KindSeries:
			rel.Series = ids
		case KindEngine:
			rel.Engines = ids
		}
	}

	// Developers and publishers share one company insert per game.
	companies := cleanNames(append(slices.Clone(developers), publishers...))
	companyIDs, err := resolveEntities(ctx, repo, KindCompany, companies)
	if err != nil {
		return GameRelations{}, err
	}
	byName := make(map[string]int64, len(companies))
	for i, name := range companies {
		byName[name] = companyIDs[i]
	}
	for _, name := range cleanNames(developers) {
		rel.Companies = append(rel.Companies, CompanyLink{CompanyID: byName[name], Role: RoleDeveloper})
	}
	for _, name := range cleanNames(publishers) {
		rel.Companies = append(rel.Companies, CompanyLink{CompanyID: byName[name], Role: RolePublisher})
	}
	return rel, nil
}

// UpsertEntityPage records the details page of a taxonomy entity: the shared
// page plus the entity found by name or by that page, created when absent.
func (r *Resolver) UpsertEntityPage(ctx context.Context, kind Kind, page PageInput, attrs EntityAttrs) (Entity, error) {
	if err := kind.Validate(); err != nil {
		return Entity{}, err
	}
	name := normalize.Name(page.Title)
	if name == "" {
		return Entity{}, fmt.Errorf("%s page requires a title", kind)
	}
	attrs = attrsForKind(kind, attrs)
	attrs.CoverImageURL = normalize.DecodeURL(attrs.CoverImageURL)

	var saved Entity
	err := r.repo.InTx(ctx, func(tx Repository) error {
		shared, err := resolveSharedPage(ctx, tx, page)
		if err != nil {
			return err
		}
		entity, found, err := tx.FindEntityForPage(ctx, kind, name, shared.ID)
		if err != nil {
			return fmt.Errorf("find %s: %w", kind, err)
		}
		if !found {
			entity = Entity{Kind: kind, Name: name}
		}
		entity.SharedPageID = &shared.ID
		entity.Attrs = attrs
		saved, err = tx.SaveEntity(ctx, entity)
		if err != nil {
			return fmt.Errorf("save %s: %w", kind, err)
		}
		return nil
	})
	if err != nil {
		return Entity{}, fmt.Errorf("upsert %s page %q: %w", kind, page.Title, err)
	}
	r.logger.Info("entity page persisted",
		zap.String("kind", string(kind)),
		zap.String("name", saved.Name),
		zap.Int64("entity_id", saved.ID),
	)
	return saved, nil
}

// NeedsDetails reports whether a details page should be crawled for the named
// entity: true unless an entity of that name already has a canonical url.
func (r *Resolver) NeedsDetails(ctx context.Context, kind Kind, name string) (bool, error) {
	url, found, err := r.repo.EntityPageURL(ctx, kind, normalize.Name(name))
	if err != nil {
		return false, fmt.Errorf("lookup %s page url: %w", kind, err)
	}
	if !found {
		return true, nil
	}
	return strings.TrimSpace(url) == "", nil
}

func attrsForKind(kind Kind, attrs EntityAttrs) EntityAttrs {
	switch kind {
	case KindCompany:
		attrs.ReleaseDate = nil
	case KindPlatform, KindEngine:
		attrs.CleanName = ""
		attrs.Founded = nil
	default:
		return EntityAttrs{}
	}
	return attrs
}

// cleanNames normalizes names, drops blanks and footnote tokens and dedups in order.
func cleanNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		name := normalize.Name(raw)
		if name == "" || normalize.IsFootnoteToken(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
