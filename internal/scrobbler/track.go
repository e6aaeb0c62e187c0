package scrobbler

import (
	"strings"
	"unicode"
)

// Track holds the metadata of a single playable item as seen by the
// scrobbling core. Artist and Title are mandatory for submission; everything
// else is best-effort.
type Track struct {
	Artist      string
	Title       string
	Album       string
	AlbumArtist string
	MBID        string
	Duration    float64 // seconds
}

// Valid reports whether the track carries the mandatory submission tags.
func (t Track) Valid() bool {
	return t.Artist != "" && t.Title != ""
}

// CleanTag normalizes a raw tag value: surrounding whitespace is trimmed and
// well-known placeholder values are treated as absent.
func CleanTag(value string) string {
	s := strings.TrimSpace(value)
	if s == "" {
		return ""
	}

	var norm strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			norm.WriteRune(unicode.ToLower(r))
		}
	}

	switch norm.String() {
	case "unknown", "unknownartist", "unknowntrack":
		return ""
	}

	return s
}
