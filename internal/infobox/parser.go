// Package infobox extracts structured field sets from rendered encyclopedia
// pages. Every table.infobox on a page yields its own FieldSet.
package infobox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/wikigames-crawler/internal/normalize"
)

// ListField names a list-valued infobox field.
type ListField string

// List-valued fields.
const (
	Developers ListField = "developers"
	Publishers ListField = "publishers"
	Genres     ListField = "genres"
	Platforms  ListField = "platforms"
	Modes      ListField = "modes"
	Series     ListField = "series"
	Engines    ListField = "engines"
)

// ListFields enumerates every list-valued field in a stable order.
var ListFields = []ListField{Developers, Publishers, Genres, Platforms, Modes, Series, Engines} //nolint:gochecknoglobals

const (
	fieldReleaseDate = "release_date"
	fieldFounded     = "founded"
	fieldWebsite     = "website_url"
)

// labelMap maps normalized row labels to field names. Unknown labels are ignored.
//
//nolint:gochecknoglobals // static lookup table
var labelMap = map[string]string{
	"developer":    string(Developers),
	"developers":   string(Developers),
	"developer(s)": string(Developers),

	"publisher":    string(Publishers),
	"publishers":   string(Publishers),
	"publisher(s)": string(Publishers),
	"publication":  string(Publishers),

	"genre":    string(Genres),
	"genres":   string(Genres),
	"genre(s)": string(Genres),

	"engine":    string(Engines),
	"engines":   string(Engines),
	"engine(s)": string(Engines),

	"mode":    string(Modes),
	"modes":   string(Modes),
	"mode(s)": string(Modes),

	"series": string(Series),

	"platform":    string(Platforms),
	"platforms":   string(Platforms),
	"platform(s)": string(Platforms),

	"release":         fieldReleaseDate,
	"released":        fieldReleaseDate,
	"release date":    fieldReleaseDate,
	"release dates":   fieldReleaseDate,
	"release date(s)": fieldReleaseDate,
	"first release":   fieldReleaseDate,
	"initial release": fieldReleaseDate,

	"founded":    fieldFounded,
	"website":    fieldWebsite,
	"website(s)": fieldWebsite,
}

//nolint:gochecknoglobals // compiled once
var (
	citationMarker = regexp.MustCompile(`(?i)\[(?:\d+|[a-z])\]`)
	wikiPathTarget = regexp.MustCompile(`(?i)/(?:wiki|w)/([^#?]+)`)
	schemePrefix   = regexp.MustCompile(`(?i)^https?://`)
	domainLike     = regexp.MustCompile(`(?i)([a-z0-9.-]+\.[a-z]{2,})(/\S*)?$`)
)

// FieldSet is the structured content of one infobox.
type FieldSet struct {
	// Caption is the infobox heading (e.g. the game's name) when present.
	Caption string
	// Lists holds the display texts per list field; these become stored names.
	Lists map[ListField][]string
	// LinkTitles holds the link-target titles per list field; these key child discovery.
	LinkTitles map[ListField][]string
	// ReleaseDate is the first date-like text of the release row.
	ReleaseDate string
	// Founded is the first four-digit year of the founded row, 0 when absent.
	Founded int
	// Website is the external site of the entity.
	Website string
	// ImageURL is the representative image, absolute.
	ImageURL string
}

// List returns the display values of a list field.
func (f FieldSet) List(field ListField) []string {
	return f.Lists[field]
}

// Links returns the link-target titles of a list field.
func (f FieldSet) Links(field ListField) []string {
	return f.LinkTitles[field]
}

// Parse returns one FieldSet per infobox table with at least one recognized row.
func Parse(html string) ([]FieldSet, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var sets []FieldSet
	doc.Find("table.infobox").Each(func(_ int, table *goquery.Selection) {
		if fs, ok := parseTable(table); ok {
			sets = append(sets, fs)
		}
	})
	return sets, nil
}

func parseTable(table *goquery.Selection) (FieldSet, bool) {
	fs := FieldSet{
		Caption:    caption(table),
		Lists:      make(map[ListField][]string),
		LinkTitles: make(map[ListField][]string),
	}
	matched := false

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if !row.Closest("table").IsSelection(table) {
			return
		}
		header := row.ChildrenFiltered("th").First()
		cell := row.ChildrenFiltered("td").First()
		if header.Length() == 0 || cell.Length() == 0 {
			return
		}
		field, ok := labelMap[normalizeLabel(header.Text())]
		if !ok {
			return
		}
		matched = true
		switch field {
		case fieldReleaseDate:
			if date, found := ExtractDate(cell.Text()); found {
				fs.ReleaseDate = date
			}
		case fieldFounded:
			if year, found := normalize.FirstYear(cell.Text()); found {
				fs.Founded = year
			}
		case fieldWebsite:
			fs.Website = extractWebsite(cell)
		default:
			assignList(&fs, ListField(field), cell)
		}
	})

	if !matched {
		return FieldSet{}, false
	}
	fs.ImageURL = extractImage(table)
	return fs, true
}

func assignList(fs *FieldSet, field ListField, cell *goquery.Selection) {
	targets := anchorTargets(cell)
	texts := linkTexts(cell)
	switch {
	case len(targets) > 0:
		if len(texts) > 0 {
			fs.Lists[field] = texts
		} else {
			fs.Lists[field] = targets
		}
		fs.LinkTitles[field] = targets
	case len(texts) > 0:
		fs.Lists[field] = texts
	default:
		if items := plainList(cell); len(items) > 0 {
			fs.Lists[field] = items
		}
	}
}

func caption(table *goquery.Selection) string {
	if above := table.Find("th.infobox-above").First(); above.Length() > 0 {
		return normalize.CollapseWhitespace(cleanText(above.Text()))
	}
	if c := table.ChildrenFiltered("caption").First(); c.Length() > 0 {
		return normalize.CollapseWhitespace(cleanText(c.Text()))
	}
	return ""
}

func normalizeLabel(raw string) string {
	label := cleanText(raw)
	label = strings.TrimSuffix(label, ":")
	return strings.ToLower(normalize.CollapseWhitespace(label))
}

// linkTexts returns the visible text of every anchor in the cell.
func linkTexts(cell *goquery.Selection) []string {
	var items []string
	cell.Find("a").Each(func(_ int, a *goquery.Selection) {
		items = append(items, cleanText(a.Text()))
	})
	return unique(items)
}

// anchorTargets resolves each anchor to the title of the page it points at:
// the title attribute, else the /wiki/ path segment, else the anchor text.
func anchorTargets(cell *goquery.Selection) []string {
	var items []string
	cell.Find("a").Each(func(_ int, a *goquery.Selection) {
		var candidate string
		if title, ok := a.Attr("title"); ok && strings.TrimSpace(title) != "" {
			candidate = title
		} else if href, ok := a.Attr("href"); ok && href != "" {
			if m := wikiPathTarget.FindStringSubmatch(href); m != nil {
				candidate = normalize.TitleFromPath(m[1])
			}
		}
		if candidate == "" {
			candidate = cleanText(a.Text())
		}
		items = append(items, strings.TrimSpace(candidate))
	})
	return unique(items)
}

// plainList falls back to list items, then anchor texts, then comma-split text.
func plainList(cell *goquery.Selection) []string {
	var items []string
	cell.Find("li").Each(func(_ int, li *goquery.Selection) {
		items = append(items, cleanText(li.Text()))
	})
	if out := unique(items); len(out) > 0 {
		return out
	}
	for _, part := range strings.Split(cleanText(cell.Text()), ",") {
		items = append(items, normalize.CollapseWhitespace(part))
	}
	return unique(items)
}

func extractWebsite(cell *goquery.Selection) string {
	if a := cell.Find("a").First(); a.Length() > 0 {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		switch {
		case strings.HasPrefix(href, "//"):
			return "https:" + href
		case schemePrefix.MatchString(href):
			return href
		case strings.HasPrefix(href, "/"):
			return ""
		}
	}
	text := strings.TrimSpace(cell.Text())
	if text == "" || !domainLike.MatchString(text) {
		return ""
	}
	if schemePrefix.MatchString(text) {
		return text
	}
	return "https://" + text
}

// extractImage prefers the dedicated image cell and falls back to the first
// image inside an image anchor anywhere in the infobox.
func extractImage(table *goquery.Selection) string {
	selectors := []string{
		"td.infobox-image img",
		"td a.image img",
		"td a.mw-file-description img",
	}
	for _, sel := range selectors {
		img := table.Find(sel).First()
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			return normalize.AbsoluteURL(src)
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.TrimSpace(citationMarker.ReplaceAllString(s, ""))
}

func unique(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
