package catalog

import "context"

// Repository is the persistence contract of the catalog. Implementations must
// enforce uniqueness of SharedPage.URL, SharedPage.Title, Entity name per kind
// and Game (SharedPageID, CleanTitle), and must tolerate duplicate inserts.
type Repository interface {
	// InTx runs fn against a repository bound to one transaction.
	InTx(ctx context.Context, fn func(Repository) error) error

	// FindSharedPage looks a page up by url first, then by title.
	FindSharedPage(ctx context.Context, url, title string) (SharedPage, bool, error)
	// SaveSharedPage updates the page when ID is set, else inserts it
	// (a concurrent insert of the same url turns into an update).
	SaveSharedPage(ctx context.Context, page SharedPage) (SharedPage, error)

	// FindEntitiesByName returns name -> id for the names that exist.
	FindEntitiesByName(ctx context.Context, kind Kind, names []string) (map[string]int64, error)
	// InsertEntityNames inserts the names, silently skipping existing ones,
	// and reports how many rows were created.
	InsertEntityNames(ctx context.Context, kind Kind, names []string) (int, error)
	// FindEntityForPage finds an entity by name or by its shared page.
	FindEntityForPage(ctx context.Context, kind Kind, name string, sharedPageID int64) (Entity, bool, error)
	// SaveEntity updates the entity when ID is set, else inserts it
	// (a concurrent insert of the same name turns into an update).
	SaveEntity(ctx context.Context, entity Entity) (Entity, error)
	// EntityPageURL returns the canonical url of the named entity's shared page.
	EntityPageURL(ctx context.Context, kind Kind, name string) (url string, found bool, err error)

	// UpsertGame inserts or updates the game keyed by (SharedPageID, CleanTitle).
	UpsertGame(ctx context.Context, game Game) (Game, error)
	// ReplaceGameRelations makes the game's links exactly rel.
	ReplaceGameRelations(ctx context.Context, gameID int64, rel GameRelations) error
}
