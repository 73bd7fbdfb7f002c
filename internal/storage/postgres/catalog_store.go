package postgres

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/wikigames-crawler/internal/catalog"
)

// kindTable describes where a taxonomy variant lives.
type kindTable struct {
	table  string
	pivot  string
	column string
}

//nolint:gochecknoglobals // static schema map
var kindTables = map[catalog.Kind]kindTable{
	catalog.KindCompany:  {table: "companies", pivot: "game_company", column: "company_id"},
	catalog.KindPlatform: {table: "platforms", pivot: "game_platform", column: "platform_id"},
	catalog.KindGenre:    {table: "genres", pivot: "game_genre", column: "genre_id"},
	catalog.KindMode:     {table: "modes", pivot: "game_mode", column: "mode_id"},
	catalog.KindSeries:   {table: "series", pivot: "game_series", column: "series_id"},
	catalog.KindEngine:   {table: "engines", pivot: "game_engine", column: "engine_id"},
}

const sharedPageColumns = `id, title, url, COALESCE(description, ''), COALESCE(raw_content, ''), created_at, updated_at`

// CatalogStore persists the catalog in Postgres. Variant-dependent statements
// are built with squirrel; fixed ones are plain SQL.
type CatalogStore struct {
	db   dbtx
	pool beginner
	sb   sq.StatementBuilderType
}

var _ catalog.Repository = (*CatalogStore)(nil)

// NewCatalogStore wraps a pool (or pgxmock pool).
func NewCatalogStore(pool beginner) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{
		db:   pool,
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// InTx runs fn inside one transaction. Nested calls reuse the open transaction.
func (s *CatalogStore) InTx(ctx context.Context, fn func(catalog.Repository) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&CatalogStore{db: tx, sb: s.sb}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// FindSharedPage looks a page up by url, then by title.
func (s *CatalogStore) FindSharedPage(ctx context.Context, url, title string) (catalog.SharedPage, bool, error) {
	query := `SELECT ` + sharedPageColumns + `
FROM wikipages
WHERE url = $1 OR title = $2
ORDER BY (url = $1) DESC
LIMIT 1`
	page, err := scanSharedPage(s.db.QueryRow(ctx, query, url, title))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.SharedPage{}, false, nil
	}
	if err != nil {
		return catalog.SharedPage{}, false, fmt.Errorf("select wikipage: %w", err)
	}
	return page, true, nil
}

// SaveSharedPage inserts or updates a page. An insert racing another worker on
// the same url becomes an update of that row.
func (s *CatalogStore) SaveSharedPage(ctx context.Context, page catalog.SharedPage) (catalog.SharedPage, error) {
	var row pgx.Row
	if page.ID == 0 {
		row = s.db.QueryRow(ctx, `
INSERT INTO wikipages (title, url, description, raw_content)
VALUES ($1, $2, $3, $4)
ON CONFLICT (url) DO UPDATE
SET title = EXCLUDED.title,
	description = EXCLUDED.description,
	raw_content = EXCLUDED.raw_content,
	updated_at = now()
RETURNING `+sharedPageColumns,
			page.Title, page.URL, nullString(page.Description), nullString(page.RawContent))
	} else {
		row = s.db.QueryRow(ctx, `
UPDATE wikipages
SET title = $1, url = $2, description = $3, raw_content = $4, updated_at = now()
WHERE id = $5
RETURNING `+sharedPageColumns,
			page.Title, page.URL, nullString(page.Description), nullString(page.RawContent), page.ID)
	}
	saved, err := scanSharedPage(row)
	if err != nil {
		return catalog.SharedPage{}, fmt.Errorf("save wikipage %q: %w", page.Title, err)
	}
	return saved, nil
}

func scanSharedPage(row pgx.Row) (catalog.SharedPage, error) {
	var page catalog.SharedPage
	err := row.Scan(&page.ID, &page.Title, &page.URL, &page.Description, &page.RawContent, &page.CreatedAt, &page.UpdatedAt)
	return page, err
}

// FindEntitiesByName returns ids for the names that exist.
func (s *CatalogStore) FindEntitiesByName(ctx context.Context, kind catalog.Kind, names []string) (map[string]int64, error) {
	kt, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(names))
	if len(names) == 0 {
		return out, nil
	}
	query, args, err := s.sb.Select("id", "name").From(kt.table).Where(sq.Eq{"name": names}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s lookup: %w", kind, err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", kt.table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kt.table, err)
		}
		out[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kt.table, err)
	}
	return out, nil
}

// InsertEntityNames inserts the names, skipping existing ones.
func (s *CatalogStore) InsertEntityNames(ctx context.Context, kind catalog.Kind, names []string) (int, error) {
	kt, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, nil
	}
	// Sorted so concurrent transactions take unique-index locks in one order.
	ordered := slices.Clone(names)
	slices.Sort(ordered)
	insert := s.sb.Insert(kt.table).Columns("name")
	for _, name := range ordered {
		insert = insert.Values(name)
	}
	query, args, err := insert.Suffix("ON CONFLICT (name) DO NOTHING").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s insert: %w", kind, err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", kt.table, err)
	}
	return int(tag.RowsAffected()), nil
}

// FindEntityForPage finds an entity by name, then by shared page.
func (s *CatalogStore) FindEntityForPage(
	ctx context.Context,
	kind catalog.Kind,
	name string,
	sharedPageID int64,
) (catalog.Entity, bool, error) {
	kt, err := tableFor(kind)
	if err != nil {
		return catalog.Entity{}, false, err
	}
	query, args, err := s.sb.Select(entityColumns(kind)...).
		From(kt.table).
		Where(sq.Or{sq.Eq{"name": name}, sq.Eq{"wikipage_id": sharedPageID}}).
		OrderByClause("(name = ?) DESC", name).
		OrderBy("id").
		Limit(1).
		ToSql()
	if err != nil {
		return catalog.Entity{}, false, fmt.Errorf("build %s page lookup: %w", kind, err)
	}
	entity, err := scanEntity(kind, s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Entity{}, false, nil
	}
	if err != nil {
		return catalog.Entity{}, false, fmt.Errorf("select %s: %w", kt.table, err)
	}
	return entity, true, nil
}

// SaveEntity inserts or updates an entity with its variant attributes.
func (s *CatalogStore) SaveEntity(ctx context.Context, entity catalog.Entity) (catalog.Entity, error) {
	kt, err := tableFor(entity.Kind)
	if err != nil {
		return catalog.Entity{}, err
	}
	values := entityValues(entity)
	values["name"] = entity.Name

	var (
		query string
		args  []any
	)
	if entity.ID == 0 {
		query, args, err = s.sb.Insert(kt.table).
			SetMap(values).
			Suffix("ON CONFLICT (name) DO UPDATE SET " + excludedAssignments(values) + " RETURNING id").
			ToSql()
	} else {
		query, args, err = s.sb.Update(kt.table).
			SetMap(values).
			Where(sq.Eq{"id": entity.ID}).
			Suffix("RETURNING id").
			ToSql()
	}
	if err != nil {
		return catalog.Entity{}, fmt.Errorf("build %s save: %w", entity.Kind, err)
	}
	if err := s.db.QueryRow(ctx, query, args...).Scan(&entity.ID); err != nil {
		return catalog.Entity{}, fmt.Errorf("save %s %q: %w", entity.Kind, entity.Name, err)
	}
	return entity, nil
}

// EntityPageURL returns the url of the named entity's shared page.
func (s *CatalogStore) EntityPageURL(ctx context.Context, kind catalog.Kind, name string) (string, bool, error) {
	kt, err := tableFor(kind)
	if err != nil {
		return "", false, err
	}
	query, args, err := s.sb.Select("COALESCE(w.url, '')").
		From(kt.table + " e").
		LeftJoin("wikipages w ON w.id = e.wikipage_id").
		Where(sq.Eq{"e.name": name}).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build %s url lookup: %w", kind, err)
	}
	var url string
	err = s.db.QueryRow(ctx, query, args...).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select %s url: %w", kt.table, err)
	}
	return url, true, nil
}

// UpsertGame inserts or updates the game keyed by (wikipage_id, clean_title).
func (s *CatalogStore) UpsertGame(ctx context.Context, game catalog.Game) (catalog.Game, error) {
	if game.SharedPageID == nil {
		return catalog.Game{}, fmt.Errorf("game requires a shared page")
	}
	err := s.db.QueryRow(ctx, `
INSERT INTO games (wikipage_id, clean_title, cover_image_url, release_date, release_year)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (wikipage_id, clean_title) DO UPDATE
SET cover_image_url = EXCLUDED.cover_image_url,
	release_date = EXCLUDED.release_date,
	release_year = EXCLUDED.release_year,
	updated_at = now()
RETURNING id`,
		*game.SharedPageID,
		game.CleanTitle,
		nullString(game.CoverImageURL),
		nullTime(game.ReleaseDate),
		nullInt(game.ReleaseYear),
	).Scan(&game.ID)
	if err != nil {
		return catalog.Game{}, fmt.Errorf("upsert game %q: %w", game.CleanTitle, err)
	}
	return game, nil
}

// ReplaceGameRelations rewrites every pivot of the game to match rel.
func (s *CatalogStore) ReplaceGameRelations(ctx context.Context, gameID int64, rel catalog.GameRelations) error {
	for _, kind := range catalog.Kinds {
		if kind == catalog.KindCompany {
			continue
		}
		if err := s.replacePivot(ctx, kind, gameID, rel.ByKind(kind)); err != nil {
			return err
		}
	}
	return s.replaceCompanies(ctx, gameID, rel.Companies)
}

func (s *CatalogStore) replacePivot(ctx context.Context, kind catalog.Kind, gameID int64, ids []int64) error {
	kt := kindTables[kind]
	if err := s.clearPivot(ctx, kt.pivot, gameID); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	insert := s.sb.Insert(kt.pivot).Columns("game_id", kt.column)
	for _, id := range ids {
		insert = insert.Values(gameID, id)
	}
	query, args, err := insert.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build %s insert: %w", kt.pivot, err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", kt.pivot, err)
	}
	return nil
}

func (s *CatalogStore) replaceCompanies(ctx context.Context, gameID int64, links []catalog.CompanyLink) error {
	kt := kindTables[catalog.KindCompany]
	if err := s.clearPivot(ctx, kt.pivot, gameID); err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}
	insert := s.sb.Insert(kt.pivot).Columns("game_id", kt.column, "role")
	for _, link := range links {
		insert = insert.Values(gameID, link.CompanyID, string(link.Role))
	}
	query, args, err := insert.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build %s insert: %w", kt.pivot, err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", kt.pivot, err)
	}
	return nil
}

func (s *CatalogStore) clearPivot(ctx context.Context, pivot string, gameID int64) error {
	query, args, err := s.sb.Delete(pivot).Where(sq.Eq{"game_id": gameID}).ToSql()
	if err != nil {
		return fmt.Errorf("build %s delete: %w", pivot, err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("clear %s: %w", pivot, err)
	}
	return nil
}

func tableFor(kind catalog.Kind) (kindTable, error) {
	if err := kind.Validate(); err != nil {
		return kindTable{}, err
	}
	return kindTables[kind], nil
}

func entityColumns(kind catalog.Kind) []string {
	cols := []string{"id", "name", "wikipage_id"}
	switch kind {
	case catalog.KindCompany:
		cols = append(cols,
			"COALESCE(clean_name, '')",
			"COALESCE(cover_image_url, '')",
			"founded",
			"COALESCE(website_url, '')",
		)
	case catalog.KindPlatform, catalog.KindEngine:
		cols = append(cols,
			"COALESCE(cover_image_url, '')",
			"release_date",
			"COALESCE(website_url, '')",
		)
	}
	return cols
}

func scanEntity(kind catalog.Kind, row pgx.Row) (catalog.Entity, error) {
	e := catalog.Entity{Kind: kind}
	dest := []any{&e.ID, &e.Name, &e.SharedPageID}
	switch kind {
	case catalog.KindCompany:
		dest = append(dest, &e.Attrs.CleanName, &e.Attrs.CoverImageURL, &e.Attrs.Founded, &e.Attrs.Website)
	case catalog.KindPlatform, catalog.KindEngine:
		dest = append(dest, &e.Attrs.CoverImageURL, &e.Attrs.ReleaseDate, &e.Attrs.Website)
	}
	err := row.Scan(dest...)
	return e, err
}

// entityValues returns the writable columns of a variant, excluding name.
func entityValues(e catalog.Entity) map[string]any {
	values := map[string]any{"wikipage_id": nullInt64(e.SharedPageID)}
	switch e.Kind {
	case catalog.KindCompany:
		values["clean_name"] = nullString(e.Attrs.CleanName)
		values["cover_image_url"] = nullString(e.Attrs.CoverImageURL)
		values["founded"] = nullInt(e.Attrs.Founded)
		values["website_url"] = nullString(e.Attrs.Website)
	case catalog.KindPlatform, catalog.KindEngine:
		values["cover_image_url"] = nullString(e.Attrs.CoverImageURL)
		values["release_date"] = nullTime(e.Attrs.ReleaseDate)
		values["website_url"] = nullString(e.Attrs.Website)
	}
	return values
}

// excludedAssignments renders "col = EXCLUDED.col" for every column but name, sorted
// the way squirrel's SetMap orders columns.
func excludedAssignments(values map[string]any) string {
	parts := make([]string, 0, len(values))
	for _, col := range slices.Sorted(maps.Keys(values)) {
		if col == "name" {
			continue
		}
		parts = append(parts, col+" = EXCLUDED."+col)
	}
	return strings.Join(parts, ", ")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}
