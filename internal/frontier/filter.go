package frontier

import "strings"

// titleFilter drops listing members by exact title or by "Prefix*" pattern.
// Matching is case-insensitive.
type titleFilter struct {
	exact    map[string]struct{}
	prefixes []string
}

func newTitleFilter(patterns []string) *titleFilter {
	filter := &titleFilter{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.ToLower(strings.TrimSpace(raw))
		if value == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(value, "*"); ok {
			if prefix = strings.TrimSpace(prefix); prefix != "" {
				filter.addPrefix(prefix)
			}
			continue
		}
		filter.exact[value] = struct{}{}
	}
	if len(filter.exact) == 0 && len(filter.prefixes) == 0 {
		return nil
	}
	return filter
}

func (f *titleFilter) addPrefix(prefix string) {
	for _, existing := range f.prefixes {
		if existing == prefix {
			return
		}
	}
	f.prefixes = append(f.prefixes, prefix)
}

// Skips reports whether title matches a pattern. A nil filter skips nothing.
func (f *titleFilter) Skips(title string) bool {
	if f == nil {
		return false
	}
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return false
	}
	if _, ok := f.exact[title]; ok {
		return true
	}
	for _, prefix := range f.prefixes {
		if strings.HasPrefix(title, prefix) {
			return true
		}
	}
	return false
}
