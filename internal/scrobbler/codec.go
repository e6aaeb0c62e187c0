package scrobbler

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Persisted record format: one record per line, fields tab-delimited.
// Current rows carry a schema tag as the first field:
//
//	v1 \t id \t artist \t title \t album \t albumArtist \t duration \t
//	playback \t startTimestamp \t refreshOnSubmit \t retryCount \t nextRetry
//
// Free-text fields are backslash-escaped so embedded tabs and newlines
// survive the round trip. Legacy rows predate the tag and the id column;
// they are positional (artist, title, album, duration, playback, then
// optional start/refresh/retry/nextRetry) and unescaped.
const recordVersionTag = "v1"

// QueuedScrobble is one persisted pending submission.
type QueuedScrobble struct {
	ID          string
	Artist      string
	Title       string
	Album       string
	AlbumArtist string

	DurationSeconds float64
	PlaybackSeconds float64
	StartTimestamp  int64

	// RefreshOnSubmit marks the record as eligible for live metadata
	// patching before it is actually sent.
	RefreshOnSubmit bool

	RetryCount         int
	NextRetryTimestamp int64
}

// Due reports whether the record is eligible for a submission attempt at
// the given wall-clock time. A zero NextRetryTimestamp means immediately.
func (q QueuedScrobble) Due(now int64) bool {
	return q.NextRetryTimestamp == 0 || q.NextRetryTimestamp <= now
}

func escapeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeField(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if !escaped {
			if r == '\\' {
				escaped = true
			} else {
				b.WriteRune(r)
			}
			continue
		}
		switch r {
		case 't':
			b.WriteRune('\t')
		case 'n':
			b.WriteRune('\n')
		case 'r':
			b.WriteRune('\r')
		default:
			b.WriteRune(r)
		}
		escaped = false
	}
	return b.String()
}

func serializeScrobble(q QueuedScrobble) string {
	fields := []string{
		recordVersionTag,
		escapeField(q.ID),
		escapeField(q.Artist),
		escapeField(q.Title),
		escapeField(q.Album),
		escapeField(q.AlbumArtist),
		strconv.FormatFloat(q.DurationSeconds, 'f', -1, 64),
		strconv.FormatFloat(q.PlaybackSeconds, 'f', -1, 64),
		strconv.FormatInt(q.StartTimestamp, 10),
		boolField(q.RefreshOnSubmit),
		strconv.Itoa(q.RetryCount),
		strconv.FormatInt(q.NextRetryTimestamp, 10),
	}
	return strings.Join(fields, "\t")
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// serializeScrobbles renders the full record set as the persisted blob.
func serializeScrobbles(items []QueuedScrobble) string {
	var b strings.Builder
	for _, q := range items {
		b.WriteString(serializeScrobble(q))
		b.WriteByte('\n')
	}
	return b.String()
}

// parseScrobbles decodes the persisted blob. Malformed rows are skipped
// rather than failing the whole set; a queue must never lose readable
// history to one bad line.
func parseScrobbles(blob string) []QueuedScrobble {
	var result []QueuedScrobble
	if blob == "" {
		return result
	}

	for i, line := range strings.Split(blob, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")

		var q QueuedScrobble
		var ok bool
		if parts[0] == recordVersionTag {
			q, ok = parseTaggedRow(parts)
		} else {
			q, ok = parseLegacyRow(parts, i)
		}
		if !ok {
			continue
		}
		result = append(result, q)
	}

	return result
}

func parseTaggedRow(parts []string) (QueuedScrobble, bool) {
	if len(parts) < 12 {
		return QueuedScrobble{}, false
	}

	q := QueuedScrobble{
		ID:          unescapeField(parts[1]),
		Artist:      unescapeField(parts[2]),
		Title:       unescapeField(parts[3]),
		Album:       unescapeField(parts[4]),
		AlbumArtist: unescapeField(parts[5]),
	}
	q.DurationSeconds, _ = strconv.ParseFloat(parts[6], 64)
	q.PlaybackSeconds, _ = strconv.ParseFloat(parts[7], 64)
	q.StartTimestamp, _ = strconv.ParseInt(parts[8], 10, 64)
	q.RefreshOnSubmit = parts[9] == "1"
	q.RetryCount, _ = strconv.Atoi(parts[10])
	q.NextRetryTimestamp, _ = strconv.ParseInt(parts[11], 10, 64)
	return q, true
}

// parseLegacyRow handles rows written before the schema tag existed. They
// carry no id; one is derived from the content, salted with the row index
// so byte-identical legacy rows still migrate to distinct ids.
func parseLegacyRow(parts []string, rowIndex int) (QueuedScrobble, bool) {
	if len(parts) < 5 {
		return QueuedScrobble{}, false
	}

	q := QueuedScrobble{
		Artist: parts[0],
		Title:  parts[1],
		Album:  parts[2],
	}
	q.DurationSeconds, _ = strconv.ParseFloat(parts[3], 64)
	q.PlaybackSeconds, _ = strconv.ParseFloat(parts[4], 64)
	if len(parts) > 5 {
		q.StartTimestamp, _ = strconv.ParseInt(parts[5], 10, 64)
	}
	if len(parts) > 6 {
		q.RefreshOnSubmit = parts[6] == "1"
	}
	if len(parts) > 7 {
		q.RetryCount, _ = strconv.Atoi(parts[7])
	}
	if len(parts) > 8 {
		q.NextRetryTimestamp, _ = strconv.ParseInt(parts[8], 10, 64)
	}

	q.ID = legacyContentID(q, rowIndex)
	return q, true
}

func legacyContentID(q QueuedScrobble, rowIndex int) string {
	src := fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%d",
		q.Artist, q.Title, q.Album, q.StartTimestamp, rowIndex)
	sum := md5.Sum([]byte(src))
	return hex.EncodeToString(sum[:8])
}
