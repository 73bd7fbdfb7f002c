package mediawiki

import (
	"encoding/json"
	"sort"
)

// apiError is the error object the action API returns with a 200 status.
type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type member struct {
	Title string `json:"title"`
	NS    int    `json:"ns"`
	Type  string `json:"type"`
}

type listResponse struct {
	Error    *apiError         `json:"error"`
	Continue map[string]string `json:"continue"`
	Query    struct {
		CategoryMembers []member `json:"categorymembers"`
		EmbeddedIn      []member `json:"embeddedin"`
		AllPages        []member `json:"allpages"`
	} `json:"query"`
}

// legacyText decodes both `{"*": "..."}` and plain string values.
type legacyText string

func (t *legacyText) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*t = legacyText(plain)
		return nil
	}
	var wrapped map[string]string
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*t = legacyText(wrapped["*"])
	return nil
}

type parseResponse struct {
	Error *apiError `json:"error"`
	Parse struct {
		Title    string     `json:"title"`
		Text     legacyText `json:"text"`
		Wikitext legacyText `json:"wikitext"`
	} `json:"parse"`
}

type imageSource struct {
	Source string `json:"source"`
}

type summaryResponse struct {
	Extract       string       `json:"extract"`
	OriginalImage *imageSource `json:"originalimage"`
	Thumbnail     *imageSource `json:"thumbnail"`
}

type queryPage struct {
	Title     string                     `json:"title"`
	Extract   string                     `json:"extract"`
	Original  *imageSource               `json:"original"`
	Thumbnail *imageSource               `json:"thumbnail"`
	PageProps map[string]json.RawMessage `json:"pageprops"`
}

type redirect struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type pagesResponse struct {
	Error *apiError `json:"error"`
	Query struct {
		Pages     map[string]queryPage `json:"pages"`
		Redirects []redirect           `json:"redirects"`
	} `json:"query"`
}

// orderedPages returns the pages keyed by page id in ascending key order so
// "first page" is stable.
func (r pagesResponse) orderedPages() []queryPage {
	keys := make([]string, 0, len(r.Query.Pages))
	for k := range r.Query.Pages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pages := make([]queryPage, 0, len(keys))
	for _, k := range keys {
		pages = append(pages, r.Query.Pages[k])
	}
	return pages
}

func (s *imageSource) url() string {
	if s == nil {
		return ""
	}
	return s.Source
}
