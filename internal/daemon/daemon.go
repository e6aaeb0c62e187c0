// Package daemon is the composition root: it owns the state store, the
// authentication state, the scrobbling core, and the playback monitor, and
// translates raw player samples into tracker events.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kkyr/scrobbled/internal/auth"
	"github.com/kkyr/scrobbled/internal/kv"
	"github.com/kkyr/scrobbled/internal/music"
	"github.com/kkyr/scrobbled/internal/scrobbler"
	"github.com/kkyr/scrobbled/pkg/lastfm"
)

// Config holds daemon configuration
type Config struct {
	PollInterval        time.Duration // How often to poll the player
	StatePath           string        // Path to the state database
	DailyScrobbleLimit  int           // Accepted scrobbles per day, 0 = unlimited
	SubmitDynamicTitles bool          // Scrobble segments parsed from stream titles
	APIKey              string        // Last.fm API key
	APISecret           string        // Last.fm API secret
}

// Daemon coordinates the playback monitor and the scrobbling core
type Daemon struct {
	config  Config
	client  music.Client
	store   *kv.Store
	auth    *auth.State
	tracker *scrobbler.Tracker
	poller  *Poller
	logger  zerolog.Logger

	// prev is the previous poll sample, the baseline for event detection.
	prev *music.Track
}

// New creates a new Daemon instance
func New(cfg Config, musicClient music.Client, logger zerolog.Logger) (*Daemon, error) {
	store, err := kv.Open(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	authState := auth.Load(store, logger)

	sdk, err := lastfm.NewClient(lastfm.Config{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		SessionKey: authState.SessionKey(),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create lastfm client: %w", err)
	}

	d := &Daemon{
		config: cfg,
		client: musicClient,
		store:  store,
		auth:   authState,
		poller: NewPoller(musicClient, cfg.PollInterval, logger),
		logger: logger.With().Str("component", "daemon").Logger(),
	}

	d.tracker = scrobbler.NewTracker(scrobbler.Options{
		Store:       store,
		API:         scrobbler.NewClient(sdk, logger),
		Auth:        authState,
		DailyBudget: cfg.DailyScrobbleLimit,
		Worker:      scrobbler.DefaultWorkerConfig(),
		OnAuthInvalidated: func() {
			authState.ClearSession()
			logger.Warn().Msg("Last.fm rejected the session, run 'scrobbled auth' to re-authenticate")
		},
		Logger: logger,
	})

	return d, nil
}

// Run starts the daemon and blocks until shutdown signal received
func (d *Daemon) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Handle first signal gracefully, second signal forces exit
	go func() {
		<-sigChan
		d.logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")
		cancel()

		<-sigChan
		d.logger.Warn().Msg("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()

	if err := d.run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// run is the main daemon loop
func (d *Daemon) run(ctx context.Context) error {
	d.logger.Info().Msg("Starting daemon")

	if owner := d.auth.QueueOwner(); owner != "" && owner != d.auth.Username() {
		d.logger.Warn().
			Str("queue_owner", owner).
			Str("username", d.auth.Username()).
			Msg("Pending queue was recorded under a different account")
	}

	d.tracker.Start()

	var wg sync.WaitGroup
	updates := make(chan TrackUpdate, 10)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.poller.Run(ctx, updates); err != nil && err != context.Canceled {
			d.logger.Error().Err(err).Msg("Poller error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.handleUpdates(ctx, updates)
	}()

	wg.Wait()

	d.tracker.Stop()
	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// handleUpdates processes track updates from the poller
func (d *Daemon) handleUpdates(ctx context.Context, updates <-chan TrackUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			if update.Err != nil {
				d.logger.Debug().Err(update.Err).Msg("Track update error")
				continue
			}
			d.handleTrackUpdate(update.Track)
		}
	}
}

// handleTrackUpdate diffs one poll sample against the previous one and
// feeds the resulting events to the tracker.
func (d *Daemon) handleTrackUpdate(track *music.Track) {
	prev := d.prev

	if track == nil || track.State == music.StateStopped {
		if prev != nil {
			d.logger.Info().Msg("Playback stopped")
			d.tracker.OnStop()
			d.prev = nil
		}
		return
	}

	if prev == nil || !sameItem(prev, track) {
		d.logger.Info().
			Str("title", track.Title).
			Str("artist", track.Artist).
			Msg("Track changed")

		d.tracker.OnNewTrack(toScrobblerTrack(track))
		if track.State == music.StatePaused {
			d.tracker.OnPause(true)
		}
		d.handleStreamTitle(nil, track)
		d.prev = track
		return
	}

	// Same item: diff state, tags, and position.
	if prev.State != track.State {
		d.tracker.OnPause(track.State == music.StatePaused)
	}

	if tagsChanged(prev, track) {
		if track.IsStream() {
			d.handleStreamTitle(prev, track)
		} else {
			d.tracker.OnMetadataRefresh(toScrobblerTrack(track))
		}
	}

	if track.State == music.StatePlaying {
		pos := track.Position.Seconds()
		delta := pos - prev.Position.Seconds()

		// A backward move or a jump well past what the poll interval can
		// account for is a seek, not ordinary progress.
		seekThreshold := d.config.PollInterval.Seconds()*2 + 2
		if delta < -1 || delta > seekThreshold {
			d.tracker.OnSeek(pos)
		} else {
			d.tracker.OnTimeUpdate(pos)
		}
	}

	d.prev = track
}

// handleStreamTitle forwards stream-title changes for dynamic scrobbling.
func (d *Daemon) handleStreamTitle(prev *music.Track, track *music.Track) {
	if !d.config.SubmitDynamicTitles || !track.IsStream() {
		return
	}
	if track.Title == "" {
		return
	}
	if prev != nil && prev.Title == track.Title {
		return
	}
	d.tracker.OnStreamTitle(track.Title)
}

// sameItem decides whether two samples describe the same playing item.
// Streams are identified by URL, since their title churns with each song.
func sameItem(a, b *music.Track) bool {
	if a.IsStream() || b.IsStream() {
		return a.URL == b.URL
	}
	if a.TrackID != "" && b.TrackID != "" {
		return a.TrackID == b.TrackID
	}
	return a.Artist == b.Artist && a.Title == b.Title && a.Album == b.Album
}

func tagsChanged(a, b *music.Track) bool {
	return a.Title != b.Title ||
		a.Artist != b.Artist ||
		a.Album != b.Album ||
		a.AlbumArtist != b.AlbumArtist
}

func toScrobblerTrack(track *music.Track) scrobbler.Track {
	return scrobbler.Track{
		Artist:      track.Artist,
		Title:       track.Title,
		Album:       track.Album,
		AlbumArtist: track.AlbumArtist,
		Duration:    track.Duration.Seconds(),
	}
}

// Tracker exposes the scrobbling core for the CLI layer.
func (d *Daemon) Tracker() *scrobbler.Tracker {
	return d.tracker
}

// Auth exposes the authentication state.
func (d *Daemon) Auth() *auth.State {
	return d.auth
}

// Shutdown releases resources after Run returns.
func (d *Daemon) Shutdown() error {
	if err := d.client.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to close player connection")
	}
	return d.store.Close()
}
