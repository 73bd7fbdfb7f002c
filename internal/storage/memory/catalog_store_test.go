package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikigames-crawler/internal/catalog"
)

func TestSharedPagesStayUnique(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCatalogStore()

	first, err := store.SaveSharedPage(ctx, catalog.SharedPage{Title: "Doom", URL: "https://w/wiki/Doom"})
	require.NoError(t, err)
	require.Equal(t, int64(1), first.ID)

	// An insert of a known url becomes an update of that row.
	again, err := store.SaveSharedPage(ctx, catalog.SharedPage{Title: "Doom", URL: "https://w/wiki/Doom", Description: "FPS"})
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, first.CreatedAt, again.CreatedAt)

	_, err = store.SaveSharedPage(ctx, catalog.SharedPage{Title: "Doom", URL: "https://w/wiki/Doom_(1993)"})
	require.ErrorContains(t, err, "duplicate shared page title")

	found, ok, err := store.FindSharedPage(ctx, "https://w/wiki/Other", "Doom")
	require.NoError(t, err)
	require.True(t, ok, "falls back to the title")
	require.Equal(t, "FPS", found.Description)
	require.Len(t, store.SharedPages(), 1)
}

func TestEntityNamesAndPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCatalogStore()

	created, err := store.InsertEntityNames(ctx, catalog.KindGenre, []string{"Shooter", "Platformer", "Shooter"})
	require.NoError(t, err)
	require.Equal(t, 2, created)

	ids, err := store.FindEntitiesByName(ctx, catalog.KindGenre, []string{"Shooter", "Puzzle"})
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"Shooter": 1}, ids)

	url, exists, err := store.EntityPageURL(ctx, catalog.KindGenre, "Shooter")
	require.NoError(t, err)
	require.True(t, exists)
	require.Empty(t, url)

	page, err := store.SaveSharedPage(ctx, catalog.SharedPage{Title: "Shooter game", URL: "https://w/wiki/Shooter_game"})
	require.NoError(t, err)
	entity, found, err := store.FindEntityForPage(ctx, catalog.KindGenre, "Shooter", page.ID)
	require.NoError(t, err)
	require.True(t, found)
	entity.SharedPageID = &page.ID
	_, err = store.SaveEntity(ctx, entity)
	require.NoError(t, err)

	url, _, err = store.EntityPageURL(ctx, catalog.KindGenre, "Shooter")
	require.NoError(t, err)
	require.Equal(t, "https://w/wiki/Shooter_game", url)

	byPage, found, err := store.FindEntityForPage(ctx, catalog.KindGenre, "Shooter video game", page.ID)
	require.NoError(t, err)
	require.True(t, found, "matched through the shared page")
	require.Equal(t, entity.ID, byPage.ID)

	_, err = store.SaveEntity(ctx, catalog.Entity{ID: 2, Kind: catalog.KindGenre, Name: "Shooter"})
	require.ErrorContains(t, err, "duplicate genre name")

	_, err = store.InsertEntityNames(ctx, catalog.Kind("studio"), []string{"x"})
	require.ErrorIs(t, err, catalog.ErrUnknownKind)
}

func TestGamesUpsertAndReplaceRelations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCatalogStore()
	page, err := store.SaveSharedPage(ctx, catalog.SharedPage{Title: "Doom", URL: "https://w/wiki/Doom"})
	require.NoError(t, err)

	_, err = store.UpsertGame(ctx, catalog.Game{CleanTitle: "Doom"})
	require.Error(t, err)

	game, err := store.UpsertGame(ctx, catalog.Game{SharedPageID: &page.ID, CleanTitle: "Doom"})
	require.NoError(t, err)
	again, err := store.UpsertGame(ctx, catalog.Game{SharedPageID: &page.ID, CleanTitle: "Doom", CoverImageURL: "c.png"})
	require.NoError(t, err)
	require.Equal(t, game.ID, again.ID)
	require.Len(t, store.Games(), 1)
	require.Equal(t, "c.png", store.Games()[0].CoverImageURL)

	require.NoError(t, store.ReplaceGameRelations(ctx, game.ID, catalog.GameRelations{
		Genres: []int64{1, 1, 2},
		Companies: []catalog.CompanyLink{
			{CompanyID: 1, Role: catalog.RoleDeveloper},
			{CompanyID: 1, Role: catalog.RoleDeveloper},
			{CompanyID: 1, Role: catalog.RolePublisher},
		},
	}))
	rel := store.Relations(game.ID)
	require.Equal(t, []int64{1, 2}, rel.Genres)
	require.Len(t, rel.Companies, 2)

	require.NoError(t, store.ReplaceGameRelations(ctx, game.ID, catalog.GameRelations{}))
	require.Empty(t, store.Relations(game.ID).Genres)

	require.Error(t, store.ReplaceGameRelations(ctx, 99, catalog.GameRelations{}))
}

func TestInTxHonoursContext(t *testing.T) {
	t.Parallel()

	store := NewCatalogStore()
	boom := errors.New("boom")
	require.ErrorIs(t, store.InTx(context.Background(), func(catalog.Repository) error { return boom }), boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := store.InTx(ctx, func(catalog.Repository) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
