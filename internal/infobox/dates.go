package infobox

import (
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/wikigames-crawler/internal/normalize"
)

const monthNames = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

// Month-first patterns carry no leading word boundary so a platform label
// glued onto the month ("iOSMarch 7, 2013") still yields the date.
//
//nolint:gochecknoglobals // compiled once
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)` + monthNames + `\.?\s+\d{1,2},\s+\d{4}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s+` + monthNames + `\.?\s+\d{4}\b`),
	regexp.MustCompile(`(?i)` + monthNames + `\.?\s+\d{4}\b`),
	regexp.MustCompile(`\b(?:19|20)\d{2}\b`),
}

// ExtractDate returns the first date-like substring of text, trying in order
// "Month D, YYYY", "D Month YYYY", "Month YYYY" and a bare year.
func ExtractDate(text string) (string, bool) {
	text = normalize.CollapseWhitespace(text)
	for _, pattern := range datePatterns {
		if match := pattern.FindString(text); match != "" {
			return match, true
		}
	}
	return "", false
}

//nolint:gochecknoglobals // layout table
var dateLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// ParseDate converts an extracted date into a calendar day. Month-only and
// year-only dates have no day and are reported as absent.
func ParseDate(date string) (time.Time, bool) {
	date = strings.TrimSpace(strings.ReplaceAll(date, ".", ""))
	date = strings.Replace(date, "Sept ", "Sep ", 1)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, titleCaseMonth(date)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// titleCaseMonth fixes case so that "MARCH 7, 2013" parses like "March 7, 2013".
func titleCaseMonth(date string) string {
	fields := strings.Fields(date)
	for i, f := range fields {
		if f == "" || (f[0] >= '0' && f[0] <= '9') {
			continue
		}
		fields[i] = strings.ToUpper(f[:1]) + strings.ToLower(f[1:])
	}
	return strings.Join(fields, " ")
}
