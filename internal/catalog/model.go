// Package catalog models the game database and resolves scraped field sets
// into durable, deduplicated records.
package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
)

// ErrUnknownKind is returned for a taxonomy kind outside the six variants.
var ErrUnknownKind = errors.New("unknown taxonomy kind")

// Kind is a taxonomy variant.
type Kind string

// Taxonomy variants.
const (
	KindCompany  Kind = "company"
	KindPlatform Kind = "platform"
	KindGenre    Kind = "genre"
	KindMode     Kind = "mode"
	KindSeries   Kind = "series"
	KindEngine   Kind = "engine"
)

// Kinds lists every variant.
var Kinds = []Kind{KindCompany, KindPlatform, KindGenre, KindMode, KindSeries, KindEngine} //nolint:gochecknoglobals

// Validate rejects unknown kinds.
func (k Kind) Validate() error {
	switch k {
	case KindCompany, KindPlatform, KindGenre, KindMode, KindSeries, KindEngine:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}

// KindForPage maps a page task kind to its taxonomy variant.
func KindForPage(kind crawler.PageKind) (Kind, bool) {
	switch kind {
	case crawler.PageCompany:
		return KindCompany, true
	case crawler.PagePlatform:
		return KindPlatform, true
	case crawler.PageGenre:
		return KindGenre, true
	case crawler.PageMode:
		return KindMode, true
	case crawler.PageSeries:
		return KindSeries, true
	case crawler.PageEngine:
		return KindEngine, true
	default:
		return "", false
	}
}

// PageKind maps a taxonomy variant to the page task kind that fills in its details.
func (k Kind) PageKind() crawler.PageKind {
	return crawler.PageKind(k)
}

// SharedPage is the deduplicated record of one source page.
type SharedPage struct {
	ID          int64
	Title       string
	URL         string
	Description string
	RawContent  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EntityAttrs holds the variant-specific attributes. Only Company uses
// CleanName and Founded; only Platform and Engine use ReleaseDate.
type EntityAttrs struct {
	CleanName     string
	CoverImageURL string
	Founded       *int
	ReleaseDate   *time.Time
	Website       string
}

// Entity is a taxonomy row. Name is unique within its Kind.
type Entity struct {
	ID           int64
	Kind         Kind
	Name         string
	SharedPageID *int64
	Attrs        EntityAttrs
}

// Game is one game described by a shared page. (SharedPageID, CleanTitle) is unique.
type Game struct {
	ID            int64
	SharedPageID  *int64
	CleanTitle    string
	CoverImageURL string
	ReleaseDate   *time.Time
	ReleaseYear   *int
}

// Role qualifies a game-company link.
type Role string

// Company roles.
const (
	RoleDeveloper Role = "developer"
	RolePublisher Role = "publisher"
)

// CompanyLink is one (company, role) pair of a game.
type CompanyLink struct {
	CompanyID int64
	Role      Role
}

// GameRelations is the full relation set of a game for one processing run.
type GameRelations struct {
	Genres    []int64
	Platforms []int64
	Modes     []int64
	Series    []int64
	Engines   []int64
	Companies []CompanyLink
}

// ByKind returns the id set for a non-company variant.
func (r GameRelations) ByKind(kind Kind) []int64 {
	switch kind {
	case KindGenre:
		return r.Genres
	case KindPlatform:
		return r.Platforms
	case KindMode:
		return r.Modes
	case KindSeries:
		return r.Series
	case KindEngine:
		return r.Engines
	default:
		return nil
	}
}

// PageInput is the page-level metadata shared by every field set on a page.
type PageInput struct {
	Title       string
	URL         string
	Description string
	RawContent  string
}
