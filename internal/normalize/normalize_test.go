package normalize

import (
	"strings"
	"testing"
)

func TestCleanTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"Doom (1993 video game)", "Doom"},
		{"Doom", "Doom"},
		{"Fallout (series) (franchise)", "Fallout"},
		{"Tetris (Game Boy (1989))", "Tetris"},
		{"  Half-Life   2  ", "Half-Life 2"},
		{"Quake[1]", "Quake"},
		{"Myst[a] (1993 video game)", "Myst"},
		{"<i>Portal</i> (video game)", "Portal"},
		{"Ratchet &amp; Clank (2002 video game)", "Ratchet & Clank"},
		{"(untitled)", "(untitled)"},
		{"Fez (video game)", "Fez"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			if got := CleanTitle(tc.input); got != tc.expected {
				t.Errorf("CleanTitle(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestCleanTitleCapsLength(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 300)
	if got := CleanTitle(long); len([]rune(got)) != MaxTitleRunes {
		t.Fatalf("expected %d runes, got %d", MaxTitleRunes, len([]rune(got)))
	}
}

func TestIsFootnoteToken(t *testing.T) {
	t.Parallel()

	for _, token := range []string{"[a]", "[B]", "[3]", " [c] "} {
		if !IsFootnoteToken(token) {
			t.Errorf("expected %q to be a footnote token", token)
		}
	}
	for _, token := range []string{"[12]", "[ab]", "id Software", "a", "[]"} {
		if IsFootnoteToken(token) {
			t.Errorf("did not expect %q to be a footnote token", token)
		}
	}
}

func TestNameStripsGluedCitations(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Valve[a]":            "Valve",
		"id Software[1][b]":   "id Software",
		"  Raven   Software ": "Raven Software",
		"[c]":                 "",
	}
	for raw, want := range cases {
		if got := Name(raw); got != want {
			t.Errorf("Name(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestFilterFootnotes(t *testing.T) {
	t.Parallel()

	got := FilterFootnotes([]string{"id Software", "[a]", " ", "Raven Software"})
	if len(got) != 2 || got[0] != "id Software" || got[1] != "Raven Software" {
		t.Fatalf("unexpected filter result %v", got)
	}
}

func TestReleaseYear(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		year  int
		ok    bool
	}{
		{"December 10, 1993", 1993, true},
		{"10 December 1993", 1993, true},
		{"2015", 2015, true},
		{"1890", 1890, true},
		{"TBA", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		year, ok := ReleaseYear(tc.input)
		if year != tc.year || ok != tc.ok {
			t.Errorf("ReleaseYear(%q) = (%d, %v); want (%d, %v)", tc.input, year, ok, tc.year, tc.ok)
		}
	}
}

func TestURLHelpers(t *testing.T) {
	t.Parallel()

	if got := DecodeURL("https://upload.wikimedia.org/Doom%20cover.png"); got != "https://upload.wikimedia.org/Doom cover.png" {
		t.Errorf("DecodeURL decoded to %q", got)
	}
	if got := DecodeURL("https://x/%zz"); got != "https://x/%zz" {
		t.Errorf("DecodeURL should keep malformed input, got %q", got)
	}
	if got := AbsoluteURL("//upload.wikimedia.org/a.png"); got != "https://upload.wikimedia.org/a.png" {
		t.Errorf("AbsoluteURL = %q", got)
	}
	if got := PageURL("https://en.wikipedia.org/wiki/", "Doom (1993 video game)"); got != "https://en.wikipedia.org/wiki/Doom_(1993_video_game)" {
		t.Errorf("PageURL = %q", got)
	}
	if got := TitleFromPath("Id_Software%27s_games"); got != "Id Software's games" {
		t.Errorf("TitleFromPath = %q", got)
	}
}
