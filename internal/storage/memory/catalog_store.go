// Package memory provides in-memory store implementations for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/wikigames-crawler/internal/catalog"
)

type gameKey struct {
	sharedPageID int64
	cleanTitle   string
}

// CatalogStore is an in-memory catalog.Repository enforcing the same unique
// constraints as the relational schema.
type CatalogStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	now func() time.Time

	nextPageID   int64
	pages        map[int64]catalog.SharedPage
	pageByURL    map[string]int64
	pageByTitle  map[string]int64
	nextEntityID map[catalog.Kind]int64
	entities     map[catalog.Kind]map[int64]catalog.Entity
	entityByName map[catalog.Kind]map[string]int64
	nextGameID   int64
	games        map[int64]catalog.Game
	gameByKey    map[gameKey]int64
	relations    map[int64]catalog.GameRelations
}

var _ catalog.Repository = (*CatalogStore)(nil)

// NewCatalogStore constructs an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	s := &CatalogStore{
		now:          time.Now,
		pages:        make(map[int64]catalog.SharedPage),
		pageByURL:    make(map[string]int64),
		pageByTitle:  make(map[string]int64),
		nextEntityID: make(map[catalog.Kind]int64),
		entities:     make(map[catalog.Kind]map[int64]catalog.Entity),
		entityByName: make(map[catalog.Kind]map[string]int64),
		games:        make(map[int64]catalog.Game),
		gameByKey:    make(map[gameKey]int64),
		relations:    make(map[int64]catalog.GameRelations),
	}
	for _, kind := range catalog.Kinds {
		s.entities[kind] = make(map[int64]catalog.Entity)
		s.entityByName[kind] = make(map[string]int64)
	}
	return s
}

// InTx serializes fn against other transactions; statements inside still lock individually.
func (s *CatalogStore) InTx(ctx context.Context, fn func(catalog.Repository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	return fn(s)
}

// FindSharedPage looks a page up by url, then by title.
func (s *CatalogStore) FindSharedPage(_ context.Context, url, title string) (catalog.SharedPage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.pageByURL[url]; ok {
		return s.pages[id], true, nil
	}
	if id, ok := s.pageByTitle[title]; ok {
		return s.pages[id], true, nil
	}
	return catalog.SharedPage{}, false, nil
}

// SaveSharedPage inserts or updates a page, keeping url and title unique.
func (s *CatalogStore) SaveSharedPage(_ context.Context, page catalog.SharedPage) (catalog.SharedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page.ID == 0 {
		if id, ok := s.pageByURL[page.URL]; ok {
			page.ID = id
		}
	}
	if owner, ok := s.pageByURL[page.URL]; ok && owner != page.ID {
		return catalog.SharedPage{}, fmt.Errorf("duplicate shared page url %q", page.URL)
	}
	if owner, ok := s.pageByTitle[page.Title]; ok && owner != page.ID {
		return catalog.SharedPage{}, fmt.Errorf("duplicate shared page title %q", page.Title)
	}

	now := s.now()
	if page.ID == 0 {
		s.nextPageID++
		page.ID = s.nextPageID
		page.CreatedAt = now
	} else {
		old, ok := s.pages[page.ID]
		if !ok {
			return catalog.SharedPage{}, fmt.Errorf("shared page %d not found", page.ID)
		}
		delete(s.pageByURL, old.URL)
		delete(s.pageByTitle, old.Title)
		page.CreatedAt = old.CreatedAt
	}
	page.UpdatedAt = now
	s.pages[page.ID] = page
	s.pageByURL[page.URL] = page.ID
	s.pageByTitle[page.Title] = page.ID
	return page, nil
}

// FindEntitiesByName returns ids for the names that exist.
func (s *CatalogStore) FindEntitiesByName(_ context.Context, kind catalog.Kind, names []string) (map[string]int64, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(names))
	for _, name := range names {
		if id, ok := s.entityByName[kind][name]; ok {
			out[name] = id
		}
	}
	return out, nil
}

// InsertEntityNames creates the missing names and ignores the rest.
func (s *CatalogStore) InsertEntityNames(_ context.Context, kind catalog.Kind, names []string) (int, error) {
	if err := kind.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, name := range names {
		if _, exists := s.entityByName[kind][name]; exists {
			continue
		}
		s.nextEntityID[kind]++
		id := s.nextEntityID[kind]
		s.entities[kind][id] = catalog.Entity{ID: id, Kind: kind, Name: name}
		s.entityByName[kind][name] = id
		created++
	}
	return created, nil
}

// FindEntityForPage finds an entity by name or by shared page.
func (s *CatalogStore) FindEntityForPage(
	_ context.Context,
	kind catalog.Kind,
	name string,
	sharedPageID int64,
) (catalog.Entity, bool, error) {
	if err := kind.Validate(); err != nil {
		return catalog.Entity{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.entityByName[kind][name]; ok {
		return s.entities[kind][id], true, nil
	}
	for _, id := range sortedIDs(s.entities[kind]) {
		e := s.entities[kind][id]
		if e.SharedPageID != nil && *e.SharedPageID == sharedPageID {
			return e, true, nil
		}
	}
	return catalog.Entity{}, false, nil
}

// SaveEntity inserts or updates an entity, keeping names unique.
func (s *CatalogStore) SaveEntity(_ context.Context, entity catalog.Entity) (catalog.Entity, error) {
	if err := entity.Kind.Validate(); err != nil {
		return catalog.Entity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := s.entityByName[entity.Kind]
	if entity.ID == 0 {
		if id, ok := byName[entity.Name]; ok {
			entity.ID = id
		}
	}
	if owner, ok := byName[entity.Name]; ok && owner != entity.ID {
		return catalog.Entity{}, fmt.Errorf("duplicate %s name %q", entity.Kind, entity.Name)
	}
	if entity.ID == 0 {
		s.nextEntityID[entity.Kind]++
		entity.ID = s.nextEntityID[entity.Kind]
	} else if old, ok := s.entities[entity.Kind][entity.ID]; ok {
		delete(byName, old.Name)
	} else {
		return catalog.Entity{}, fmt.Errorf("%s %d not found", entity.Kind, entity.ID)
	}
	s.entities[entity.Kind][entity.ID] = entity
	byName[entity.Name] = entity.ID
	return entity, nil
}

// EntityPageURL returns the url of the named entity's shared page.
func (s *CatalogStore) EntityPageURL(_ context.Context, kind catalog.Kind, name string) (string, bool, error) {
	if err := kind.Validate(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.entityByName[kind][name]
	if !ok {
		return "", false, nil
	}
	e := s.entities[kind][id]
	if e.SharedPageID == nil {
		return "", true, nil
	}
	return s.pages[*e.SharedPageID].URL, true, nil
}

// UpsertGame inserts or updates the game keyed by (SharedPageID, CleanTitle).
func (s *CatalogStore) UpsertGame(_ context.Context, game catalog.Game) (catalog.Game, error) {
	if game.SharedPageID == nil {
		return catalog.Game{}, fmt.Errorf("game requires a shared page")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := gameKey{sharedPageID: *game.SharedPageID, cleanTitle: game.CleanTitle}
	if id, ok := s.gameByKey[key]; ok {
		game.ID = id
	} else {
		s.nextGameID++
		game.ID = s.nextGameID
		s.gameByKey[key] = game.ID
	}
	s.games[game.ID] = game
	return game, nil
}

// ReplaceGameRelations overwrites the relation set of a game.
func (s *CatalogStore) ReplaceGameRelations(_ context.Context, gameID int64, rel catalog.GameRelations) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[gameID]; !ok {
		return fmt.Errorf("game %d not found", gameID)
	}
	s.relations[gameID] = catalog.GameRelations{
		Genres:    dedupIDs(rel.Genres),
		Platforms: dedupIDs(rel.Platforms),
		Modes:     dedupIDs(rel.Modes),
		Series:    dedupIDs(rel.Series),
		Engines:   dedupIDs(rel.Engines),
		Companies: dedupLinks(rel.Companies),
	}
	return nil
}

// Games returns every game ordered by id.
func (s *CatalogStore) Games() []catalog.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Game, 0, len(s.games))
	for _, id := range sortedIDs(s.games) {
		out = append(out, s.games[id])
	}
	return out
}

// SharedPages returns every shared page ordered by id.
func (s *CatalogStore) SharedPages() []catalog.SharedPage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.SharedPage, 0, len(s.pages))
	for _, id := range sortedIDs(s.pages) {
		out = append(out, s.pages[id])
	}
	return out
}

// Entities returns every entity of a kind ordered by id.
func (s *CatalogStore) Entities(kind catalog.Kind) []catalog.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Entity, 0, len(s.entities[kind]))
	for _, id := range sortedIDs(s.entities[kind]) {
		out = append(out, s.entities[kind][id])
	}
	return out
}

// Relations returns the relation set of a game.
func (s *CatalogStore) Relations(gameID int64) catalog.GameRelations {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relations[gameID]
}

// EntityNames resolves ids of a kind back to names, preserving order.
func (s *CatalogStore) EntityNames(kind catalog.Kind, ids []int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entities[kind][id].Name)
	}
	return out
}

func sortedIDs[T any](m map[int64]T) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func dedupIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func dedupLinks(links []catalog.CompanyLink) []catalog.CompanyLink {
	seen := make(map[catalog.CompanyLink]struct{}, len(links))
	out := make([]catalog.CompanyLink, 0, len(links))
	for _, l := range links {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
