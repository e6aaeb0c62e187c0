package scrobbler

import (
	"strings"
)

// DynamicSegmentMinListened is the effective listened time, in seconds, a
// virtual stream segment must reach before its scrobble is cached for the
// next boundary.
const DynamicSegmentMinListened = 30.0

// Separators recognized in stream titles, tried in order.
var streamTitleSeparators = []string{" - ", " – ", " — "}

// brandingWords are whole words that mark a stream title as station
// branding or a slogan rather than a real "artist - title" pair.
var brandingWords = map[string]bool{
	"radio":      true,
	"fm":         true,
	"stream":     true,
	"streaming":  true,
	"station":    true,
	"webradio":   true,
	"playlist":   true,
	"nonstop":    true,
	"commercial": true,
	"jingle":     true,
	"advert":     true,
}

// ParseStreamTitle extracts an "artist - title" pair from a dynamic stream
// title. Radio streams interleave real track info with station branding and
// slogans; those are rejected so they never start a virtual segment.
func ParseStreamTitle(raw string) (artist, title string, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > 300 {
		return "", "", false
	}

	var left, right string
	for _, sep := range streamTitleSeparators {
		if i := strings.Index(s, sep); i > 0 {
			left = strings.TrimSpace(s[:i])
			right = strings.TrimSpace(s[i+len(sep):])
			break
		}
	}
	if left == "" || right == "" {
		return "", "", false
	}

	if looksLikeBranding(left) || looksLikeBranding(right) {
		return "", "", false
	}

	return left, right, true
}

func looksLikeBranding(s string) bool {
	lower := strings.ToLower(s)

	if strings.Contains(lower, "http://") || strings.Contains(lower, "https://") || strings.Contains(lower, "www.") {
		return true
	}

	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if brandingWords[word] {
			return true
		}
	}
	return false
}
