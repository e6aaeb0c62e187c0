package scrobbler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/kkyr/scrobbled/pkg/lastfm"
)

// Client adapts the Last.fm SDK to the WebAPI surface the queue and worker
// drive, folding every failure mode into one of the four outcomes.
type Client struct {
	api    *lastfm.Client
	logger zerolog.Logger
}

// NewClient wraps an SDK client.
func NewClient(api *lastfm.Client, logger zerolog.Logger) *Client {
	return &Client{
		api:    api,
		logger: logger.With().Str("component", "lastfm").Logger(),
	}
}

// UpdateNowPlaying sends a now-playing update. The update is transient
// server-side, so failures are logged and dropped.
func (c *Client) UpdateNowPlaying(ctx context.Context, track Track) bool {
	err := c.api.Scrobble().UpdateNowPlaying(ctx, lastfm.Track{
		Artist:      track.Artist,
		Track:       track.Title,
		Album:       track.Album,
		AlbumArtist: track.AlbumArtist,
		MBID:        track.MBID,
		Duration:    track.Duration,
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("Now-playing update failed")
		return false
	}

	c.logger.Debug().
		Str("artist", track.Artist).
		Str("title", track.Title).
		Msg("Now-playing updated")
	return true
}

// Scrobble submits one play and classifies the result.
func (c *Client) Scrobble(ctx context.Context, track Track, playbackSeconds float64, startTimestamp int64) Outcome {
	result, err := c.api.Scrobble().Submit(ctx, lastfm.Scrobble{
		Artist:      track.Artist,
		Track:       track.Title,
		Album:       track.Album,
		AlbumArtist: track.AlbumArtist,
		MBID:        track.MBID,
		Duration:    track.Duration,
		Timestamp:   startTimestamp,
	})
	if err != nil {
		outcome := classifyError(err)
		c.logger.Debug().
			Err(err).
			Stringer("outcome", outcome).
			Str("artist", track.Artist).
			Str("title", track.Title).
			Msg("Scrobble failed")
		return outcome
	}

	// An ignored submission was consumed by the service; resubmitting the
	// same play would be ignored again, so it is done from our side.
	if result.Accepted == 0 && result.Ignored > 0 {
		c.logger.Info().
			Str("artist", track.Artist).
			Str("title", track.Title).
			Str("reason", result.IgnoredMessage).
			Msg("Scrobble ignored by service")
	} else {
		c.logger.Debug().
			Str("artist", track.Artist).
			Str("title", track.Title).
			Msg("Scrobble accepted")
	}
	return OutcomeSuccess
}

// classifyError maps SDK errors onto retry outcomes:
//
//   - network failures and timeouts are transient
//   - HTTP 403 and API code 9 mean the session key is dead
//   - service-side transient codes (8, 11, 16, 29) retry later
//   - everything else is a permanent rejection
func classifyError(err error) Outcome {
	var apiErr *lastfm.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.InvalidSession():
			return OutcomeInvalidSession
		case apiErr.Temporary():
			return OutcomeTemporary
		default:
			return OutcomeOther
		}
	}

	var httpErr *lastfm.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusForbidden:
			return OutcomeInvalidSession
		case httpErr.StatusCode >= 500:
			return OutcomeTemporary
		default:
			return OutcomeOther
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return OutcomeTemporary
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return OutcomeTemporary
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutcomeTemporary
	}

	return OutcomeOther
}
