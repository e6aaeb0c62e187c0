package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// ScrobbleService handles track submission operations.
type ScrobbleService struct {
	client *Client
}

// UpdateNowPlaying notifies Last.fm that a track is currently playing.
//
// The update is transient on the service side and expires on its own, so
// failures here are never worth retrying.
//
// Requires authentication (session key must be set).
func (s *ScrobbleService) UpdateNowPlaying(ctx context.Context, track Track) error {
	if track.Artist == "" || track.Track == "" {
		return fmt.Errorf("lastfm: artist and track are required")
	}

	params := map[string]string{
		"artist": track.Artist,
		"track":  track.Track,
	}
	if track.Album != "" {
		params["album"] = track.Album
	}
	if track.AlbumArtist != "" {
		params["albumArtist"] = track.AlbumArtist
	}
	if track.MBID != "" {
		params["mbid"] = track.MBID
	}
	if track.Duration > 0 {
		params["duration"] = strconv.Itoa(int(track.Duration))
	}

	_, err := s.client.call(ctx, "track.updateNowPlaying", params, true)
	return err
}

// Submit sends one scrobble to Last.fm.
//
// A nil error with Ignored > 0 means the service took the request but chose
// not to count the play (bad timestamp, ignored artist, and so on). Callers
// should treat that as final, not retryable.
//
// Requires authentication (session key must be set).
func (s *ScrobbleService) Submit(ctx context.Context, scrobble Scrobble) (*ScrobbleResult, error) {
	if scrobble.Artist == "" || scrobble.Track == "" {
		return nil, fmt.Errorf("lastfm: artist and track are required")
	}
	if scrobble.Timestamp <= 0 {
		return nil, fmt.Errorf("lastfm: timestamp is required")
	}

	params := map[string]string{
		"artist":    scrobble.Artist,
		"track":     scrobble.Track,
		"timestamp": strconv.FormatInt(scrobble.Timestamp, 10),
	}
	if scrobble.Album != "" {
		params["album"] = scrobble.Album
	}
	if scrobble.AlbumArtist != "" {
		params["albumArtist"] = scrobble.AlbumArtist
	}
	if scrobble.MBID != "" {
		params["mbid"] = scrobble.MBID
	}
	if scrobble.Duration > 0 {
		params["duration"] = strconv.Itoa(int(scrobble.Duration))
	}

	body, err := s.client.call(ctx, "track.scrobble", params, true)
	if err != nil {
		return nil, err
	}

	return parseScrobbleResponse(body)
}

// scrobbleEnvelope mirrors the track.scrobble JSON response. With a single
// submitted track "scrobble" is an object; with a batch it would be an
// array, so it is kept raw and only decoded for the single-object case.
type scrobbleEnvelope struct {
	Scrobbles struct {
		Attr struct {
			Accepted int `json:"accepted"`
			Ignored  int `json:"ignored"`
		} `json:"@attr"`
		Scrobble json.RawMessage `json:"scrobble"`
	} `json:"scrobbles"`
}

type scrobbleDetail struct {
	IgnoredMessage textField `json:"ignoredMessage"`
}

func parseScrobbleResponse(body []byte) (*ScrobbleResult, error) {
	var envelope scrobbleEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse scrobble response: %w", err)
	}

	result := &ScrobbleResult{
		Accepted: envelope.Scrobbles.Attr.Accepted,
		Ignored:  envelope.Scrobbles.Attr.Ignored,
	}

	raw := envelope.Scrobbles.Scrobble
	if len(raw) > 0 && raw[0] == '{' {
		var detail scrobbleDetail
		if json.Unmarshal(raw, &detail) == nil {
			result.IgnoredCode = detail.IgnoredMessage.Code
			result.IgnoredMessage = detail.IgnoredMessage.Text
		}
	}

	return result, nil
}
