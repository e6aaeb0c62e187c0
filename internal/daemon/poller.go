package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kkyr/scrobbled/internal/music"
)

// TrackUpdate is one poll sample: the current track, or the error that
// prevented reading it. A nil Track means nothing is playing.
type TrackUpdate struct {
	Track *music.Track
	Err   error
}

// Poller samples the player on a fixed interval and pushes every sample to
// a channel. The daemon turns consecutive samples into tracker events; the
// poller itself interprets nothing.
type Poller struct {
	client   music.Client
	interval time.Duration
	logger   zerolog.Logger
}

// NewPoller creates a poller over the given player connection.
func NewPoller(client music.Client, interval time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		client:   client,
		interval: interval,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Run samples once immediately, then on every tick, until the context ends.
func (p *Poller) Run(ctx context.Context, updates chan<- TrackUpdate) error {
	p.logger.Info().
		Dur("interval", p.interval).
		Msg("Starting playback poller")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx, updates)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx, updates)
		}
	}
}

// pollOnce reads one sample and forwards it, giving up when the context
// ends rather than blocking on a full channel.
func (p *Poller) pollOnce(ctx context.Context, updates chan<- TrackUpdate) {
	track, err := p.client.GetCurrentTrack(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Failed to read player state")
		select {
		case updates <- TrackUpdate{Err: err}:
		case <-ctx.Done():
		}
		return
	}

	select {
	case updates <- TrackUpdate{Track: track}:
		if track != nil {
			p.logger.Debug().
				Str("title", track.Title).
				Str("artist", track.Artist).
				Str("state", track.State.String()).
				Msg("Sampled player")
		}
	case <-ctx.Done():
	}
}
