// Package normalize provides utilities for normalizing titles, names and
// loosely formatted values scraped from rendered pages.
package normalize

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// MaxTitleRunes matches the width of the name/title columns.
const MaxTitleRunes = 255

//nolint:gochecknoglobals // compiled once
var (
	citationPattern  = regexp.MustCompile(`(?i)\[(?:\d+|[a-z])\]`)
	cssNoisePattern  = regexp.MustCompile(`\.mw-parser-output[^}]*\}`)
	footnotePattern  = regexp.MustCompile(`(?i)^\[[a-z0-9]\]$`)
	yearPattern      = regexp.MustCompile(`\d{4}`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	markupCandidates = regexp.MustCompile(`[<&]`)
)

// CleanTitle turns a page title or infobox caption into the stored clean title:
// markup and citation markers removed, trailing parenthetical disambiguators
// stripped until none remain, whitespace collapsed and length capped.
func CleanTitle(raw string) string {
	s := StripMarkup(raw)
	s = citationPattern.ReplaceAllString(s, "")
	s = cssNoisePattern.ReplaceAllString(s, "")
	s = StripDisambiguator(s)
	s = CollapseWhitespace(s)
	return truncateRunes(s, MaxTitleRunes)
}

// StripDisambiguator removes trailing parenthetical groups, including nested ones,
// e.g. "Doom (1993 video game)" -> "Doom". A title that is entirely parenthetical is kept.
func StripDisambiguator(title string) string {
	s := strings.TrimSpace(title)
	for strings.HasSuffix(s, ")") {
		open := matchingOpenParen(s)
		if open <= 0 {
			break
		}
		stripped := strings.TrimSpace(s[:open])
		if stripped == "" {
			break
		}
		s = stripped
	}
	return s
}

// matchingOpenParen returns the index of the '(' balancing the final ')' or -1.
func matchingOpenParen(s string) int {
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// StripMarkup removes tags (and style/script bodies) and decodes entities.
func StripMarkup(raw string) string {
	if !markupCandidates.MatchString(raw) {
		return strings.TrimSpace(raw)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	doc.Find("style, script").Remove()
	return strings.TrimSpace(doc.Text())
}

// CollapseWhitespace trims and folds runs of whitespace (including NBSP) to one space.
func CollapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// Name normalizes an entity name for storage: citation markers removed,
// whitespace collapsed, length capped.
func Name(raw string) string {
	s := citationPattern.ReplaceAllString(raw, "")
	return truncateRunes(CollapseWhitespace(s), MaxTitleRunes)
}

// IsFootnoteToken reports whether s is a single-character bracket marker such as "[a]" or "[3]".
func IsFootnoteToken(s string) bool {
	return footnotePattern.MatchString(strings.TrimSpace(s))
}

// FilterFootnotes drops footnote tokens and blanks, keeping order.
func FilterFootnotes(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || IsFootnoteToken(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// FirstYear returns the first four-digit run in s.
func FirstYear(s string) (int, bool) {
	match := yearPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	year, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return year, true
}

// ReleaseYear derives the release year from an extracted release date.
// Years outside the plausible range are still returned; the date text is authoritative.
func ReleaseYear(date string) (int, bool) {
	return FirstYear(date)
}

// DecodeURL percent-decodes a stored image URL; malformed escapes leave the
// input untouched.
func DecodeURL(raw string) string {
	if raw == "" || !strings.Contains(raw, "%") {
		return raw
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// AbsoluteURL normalizes protocol-relative URLs to https.
func AbsoluteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

// PageURL builds the canonical article URL for a title.
func PageURL(base, title string) string {
	return base + strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
}

// TitleFromPath converts a URL path segment ("Id_Software") into a title ("Id Software").
func TitleFromPath(segment string) string {
	if decoded, err := url.PathUnescape(segment); err == nil {
		segment = decoded
	}
	return CollapseWhitespace(strings.ReplaceAll(segment, "_", " "))
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}
