package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikigames-crawler/internal/catalog"
)

func newMockCatalog(t *testing.T) (*CatalogStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewCatalogStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS wikipages").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEntityNamesSortedIgnoresConflicts(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO companies (name) VALUES ($1),($2) ON CONFLICT (name) DO NOTHING")).
		WithArgs("Capcom", "Sega").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := store.InsertEntityNames(context.Background(), catalog.KindCompany, []string{"Sega", "Capcom"})
	require.NoError(t, err)
	require.Equal(t, 1, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEntitiesByName(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM genres WHERE name IN ($1,$2)")).
		WithArgs("Action", "RPG").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(int64(4), "Action"))

	got, err := store.FindEntitiesByName(context.Background(), catalog.KindGenre, []string{"Action", "RPG"})
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"Action": 4}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEntitiesByNameRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	_, err := store.FindEntitiesByName(context.Background(), catalog.Kind("studio"), []string{"x"})
	require.ErrorIs(t, err, catalog.ErrUnknownKind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEntityInsertsCompanyAttributes(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	pageID := int64(7)
	founded := 1979

	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO companies (clean_name,cover_image_url,founded,name,website_url,wikipage_id) "+
			"VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (name) DO UPDATE SET "+
			"clean_name = EXCLUDED.clean_name, cover_image_url = EXCLUDED.cover_image_url, "+
			"founded = EXCLUDED.founded, website_url = EXCLUDED.website_url, "+
			"wikipage_id = EXCLUDED.wikipage_id RETURNING id")).
		WithArgs("Capcom Co., Ltd.", nil, 1979, "Capcom", "https://www.capcom.com", int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(12)))

	saved, err := store.SaveEntity(context.Background(), catalog.Entity{
		Kind:         catalog.KindCompany,
		Name:         "Capcom",
		SharedPageID: &pageID,
		Attrs: catalog.EntityAttrs{
			CleanName: "Capcom Co., Ltd.",
			Founded:   &founded,
			Website:   "https://www.capcom.com",
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(12), saved.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEntityUpdatesGenreByID(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	pageID := int64(3)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE genres SET name = $1, wikipage_id = $2 WHERE id = $3 RETURNING id")).
		WithArgs("Roguelike", int64(3), int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	saved, err := store.SaveEntity(context.Background(), catalog.Entity{
		ID: 9, Kind: catalog.KindGenre, Name: "Roguelike", SharedPageID: &pageID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(9), saved.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEntityForPagePrefersName(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	pageID := int64(3)
	released := time.Date(2017, time.March, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT id, name, wikipage_id, COALESCE(cover_image_url, ''), release_date, COALESCE(website_url, '') "+
			"FROM platforms WHERE (name = $1 OR wikipage_id = $2) ORDER BY (name = $3) DESC, id LIMIT 1")).
		WithArgs("Nintendo Switch", int64(3), "Nintendo Switch").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "wikipage_id", "cover", "release_date", "website"}).
			AddRow(int64(2), "Nintendo Switch", &pageID, "", &released, "https://nintendo.com"))

	entity, found, err := store.FindEntityForPage(context.Background(), catalog.KindPlatform, "Nintendo Switch", 3)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(2), entity.ID)
	require.Equal(t, int64(3), *entity.SharedPageID)
	require.Equal(t, released, *entity.Attrs.ReleaseDate)
	require.Equal(t, "https://nintendo.com", entity.Attrs.Website)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityPageURLNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COALESCE(w.url, '') FROM modes e LEFT JOIN wikipages w ON w.id = e.wikipage_id WHERE e.name = $1")).
		WithArgs("Multiplayer").
		WillReturnRows(pgxmock.NewRows([]string{"url"}))

	url, found, err := store.EntityPageURL(context.Background(), catalog.KindMode, "Multiplayer")
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, url)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSharedPageByURLOrTitle(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM wikipages").
		WithArgs("https://en.wikipedia.org/wiki/Doom", "Doom").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "url", "description", "raw_content", "created_at", "updated_at"}).
			AddRow(int64(1), "Doom", "https://en.wikipedia.org/wiki/Doom", "lead", "", now, now))

	page, found, err := store.FindSharedPage(context.Background(), "https://en.wikipedia.org/wiki/Doom", "Doom")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1), page.ID)
	require.Equal(t, "lead", page.Description)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxCommitsGameUpsert(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	pageID := int64(1)
	year := 1993

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO games").
		WithArgs(int64(1), "Doom", nil, nil, 1993).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	var got catalog.Game
	err := store.InTx(context.Background(), func(tx catalog.Repository) error {
		var err error
		got, err = tx.UpsertGame(context.Background(), catalog.Game{
			SharedPageID: &pageID, CleanTitle: "Doom", ReleaseYear: &year,
		})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(catalog.Repository) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceGameRelationsRewritesPivots(t *testing.T) {
	t.Parallel()

	store, mock := newMockCatalog(t)
	del := func(pivot string) {
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM " + pivot + " WHERE game_id = $1")).
			WithArgs(int64(42)).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
	}

	del("game_platform")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO game_platform (game_id,platform_id) VALUES ($1,$2) ON CONFLICT DO NOTHING")).
		WithArgs(int64(42), int64(3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	del("game_genre")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO game_genre (game_id,genre_id) VALUES ($1,$2),($3,$4) ON CONFLICT DO NOTHING")).
		WithArgs(int64(42), int64(1), int64(42), int64(2)).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	del("game_mode")
	del("game_series")
	del("game_engine")
	del("game_company")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO game_company (game_id,company_id,role) VALUES ($1,$2,$3),($4,$5,$6)")).
		WithArgs(int64(42), int64(5), "developer", int64(42), int64(5), "publisher").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	err := store.ReplaceGameRelations(context.Background(), 42, catalog.GameRelations{
		Platforms: []int64{3},
		Genres:    []int64{1, 2},
		Companies: []catalog.CompanyLink{
			{CompanyID: 5, Role: catalog.RoleDeveloper},
			{CompanyID: 5, Role: catalog.RolePublisher},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
