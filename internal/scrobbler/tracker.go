package scrobbler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options wires the scrobbling core together. The composition root (the
// daemon) supplies the collaborators; nothing in this package reaches for
// globals.
type Options struct {
	Store BlobStore
	API   WebAPI
	Auth  AuthOracle

	// DailyBudget caps accepted scrobbles per calendar day (0 = unlimited).
	DailyBudget int

	Worker WorkerConfig

	// OnAuthInvalidated fires exactly once per invalidation episode, on the
	// first InvalidSession outcome. Expected to clear stored credentials
	// and notify the user.
	OnAuthInvalidated func()

	Logger zerolog.Logger
}

// streamSegment is one virtual track carved out of a dynamic stream by
// metadata boundaries.
type streamSegment struct {
	track          Track
	startWallclock int64
	startListened  float64
	cached         bool
}

// Tracker glues playback events to the eligibility engine, the durable
// queue, and the worker actor. It holds the currently playing track's
// evolving metadata and drives the submit-now / queue-for-retry / defer
// decision.
type Tracker struct {
	queue  *Queue
	worker *Worker
	auth   AuthOracle
	logger zerolog.Logger

	onAuthInvalidated func()

	// now is the wall clock, injectable for tests.
	now func() time.Time

	mu             sync.Mutex
	isPlaying      bool
	scrobbleSent   bool
	playbackTime   float64
	current        Track
	startWallclock int64
	rules          Rules

	// Reached the scrobble threshold but artist/title were missing at that
	// moment. Keep watching tag changes and submit once metadata is valid.
	pendingDueToMissingMetadata bool

	// Track became eligible while the user was suspended; defer submission
	// until the next stop or track-change boundary.
	thresholdReachedButDeferred bool

	segment *streamSegment

	invalidSessionHandled bool
}

// NewTracker constructs the scrobbling core: queue, worker, and the session
// tracker bound together.
func NewTracker(o Options) *Tracker {
	t := &Tracker{
		auth:              o.Auth,
		logger:            o.Logger.With().Str("component", "tracker").Logger(),
		onAuthInvalidated: o.OnAuthInvalidated,
		now:               time.Now,
	}

	t.queue = NewQueue(o.Store, o.API, o.DailyBudget, t.handleInvalidSessionOnce, o.Logger)
	t.worker = NewWorker(o.API, o.Auth, t.queue, o.Worker, o.Logger)

	return t
}

// Start launches the worker. Idempotent.
func (t *Tracker) Start() {
	t.worker.Start()
}

// Stop flushes nothing and blocks nothing beyond the worker join: the queue
// is durable, whatever is pending survives to the next run.
func (t *Tracker) Stop() {
	t.queue.Shutdown()
	t.worker.Stop()
}

// Queue exposes the durable queue for introspection commands.
func (t *Tracker) Queue() *Queue {
	return t.queue
}

// ---- playback event surface ----

// OnNewTrack handles a track-change boundary: deferred work from the
// previous track is settled here, then per-track state restarts.
func (t *Tracker) OnNewTrack(track Track) {
	t.mu.Lock()

	t.flushDeferredLocked()
	t.flushSegmentLocked()
	t.resetStateLocked()

	t.isPlaying = true
	t.startWallclock = t.now().Unix()
	t.current = cleanTrack(track)
	t.rules.Reset(t.current.Duration)

	current := t.current
	t.mu.Unlock()

	t.logger.Debug().
		Str("artist", current.Artist).
		Str("title", current.Title).
		Msg("Now playing")

	if current.Valid() && t.auth.IsAuthenticated() && !t.auth.IsSuspended() {
		t.worker.PostNowPlaying(current)
	}
	t.dispatchRetryIfDue()
}

// OnTimeUpdate feeds an absolute playback position.
func (t *Tracker) OnTimeUpdate(position float64) {
	t.mu.Lock()
	if !t.isPlaying {
		t.mu.Unlock()
		return
	}

	t.rules.OnTimeUpdate(position)
	t.playbackTime = position

	t.checkSegmentLocked()
	t.mu.Unlock()

	t.submitScrobbleIfNeeded()
}

// OnMetadataRefresh handles tag edits arriving mid-track for the same item.
// If a scrobble for this track is already queued, the queued record is
// live-patched and a fresh now-playing update goes out.
func (t *Tracker) OnMetadataRefresh(track Track) {
	cleaned := cleanTrack(track)

	t.mu.Lock()
	if !t.isPlaying {
		t.mu.Unlock()
		return
	}

	changed := cleaned.Artist != t.current.Artist ||
		cleaned.Title != t.current.Title ||
		cleaned.Album != t.current.Album
	if !changed {
		t.mu.Unlock()
		return
	}

	t.current.Artist = cleaned.Artist
	t.current.Title = cleaned.Title
	t.current.Album = cleaned.Album
	if cleaned.AlbumArtist != "" {
		t.current.AlbumArtist = cleaned.AlbumArtist
	}
	sent := t.scrobbleSent
	current := t.current
	t.mu.Unlock()

	if sent {
		t.queue.RefreshMetadata(current)
		if current.Valid() && t.auth.IsAuthenticated() && !t.auth.IsSuspended() {
			t.worker.PostNowPlaying(current)
		}
	}

	// A deferred-on-missing-metadata submission may be resolvable now.
	t.submitScrobbleIfNeeded()
}

// OnSeek handles an explicit seek to the given position.
func (t *Tracker) OnSeek(position float64) {
	t.mu.Lock()
	t.rules.OnSeek(position)
	t.mu.Unlock()
}

// OnPause stores pause state.
func (t *Tracker) OnPause(paused bool) {
	t.mu.Lock()
	t.rules.SetPaused(paused)
	t.mu.Unlock()
}

// OnStop handles a playback-stop boundary.
func (t *Tracker) OnStop() {
	t.submitScrobbleIfNeeded()

	t.mu.Lock()
	t.flushDeferredLocked()
	t.flushSegmentLocked()
	t.resetStateLocked()
	t.mu.Unlock()

	t.dispatchRetryIfDue()
}

// OnSuspendChange invalidates the delta baseline across a suspend/resume so
// the first position report afterwards cannot register one artificial jump.
func (t *Tracker) OnSuspendChange() {
	t.mu.Lock()
	t.rules.InvalidateBaseline()
	t.mu.Unlock()
}

// OnStreamTitle handles dynamic stream metadata. A parseable "artist -
// title" pair starts a new virtual segment; the previous segment's cached
// scrobble, if any, is flushed at this boundary.
func (t *Tracker) OnStreamTitle(raw string) {
	artist, title, ok := ParseStreamTitle(raw)
	if !ok {
		return
	}

	t.mu.Lock()
	if !t.isPlaying {
		t.mu.Unlock()
		return
	}

	if t.segment != nil && t.segment.track.Artist == artist && t.segment.track.Title == title {
		t.mu.Unlock()
		return
	}

	t.flushSegmentLocked()

	seg := &streamSegment{
		track:          Track{Artist: artist, Title: title},
		startWallclock: t.now().Unix(),
		startListened:  t.rules.EffectiveListened(),
	}
	t.segment = seg
	track := seg.track
	t.mu.Unlock()

	t.logger.Debug().
		Str("artist", artist).
		Str("title", title).
		Msg("Stream segment started")

	if t.auth.IsAuthenticated() && !t.auth.IsSuspended() {
		t.worker.PostNowPlaying(track)
	}
}

// ---- outward surface for the UI / CLI layer ----

// RetryAsync triggers a drain if anything is due.
func (t *Tracker) RetryAsync() {
	t.dispatchRetryIfDue()
}

// QueueScrobble enqueues a track directly, bypassing eligibility. Used by
// the outer layers for explicit re-submissions.
func (t *Tracker) QueueScrobble(track Track, playbackSeconds float64, startTimestamp int64) {
	if !t.auth.IsAuthenticated() || t.auth.IsSuspended() {
		return
	}
	t.queue.QueueForRetry(cleanTrack(track), playbackSeconds, false, startTimestamp)
	t.worker.PostDrain()
}

// SendNowPlayingOnly posts a now-playing update without touching the queue.
func (t *Tracker) SendNowPlayingOnly(track Track) {
	if !t.auth.IsAuthenticated() || t.auth.IsSuspended() {
		return
	}
	t.worker.PostNowPlaying(cleanTrack(track))
}

// ClearQueue destroys all pending records.
func (t *Tracker) ClearQueue() {
	t.queue.ClearAll()
}

// PendingScrobbleCount returns the persisted backlog size.
func (t *Tracker) PendingScrobbleCount() int {
	return t.queue.PendingCount()
}

// ResetInvalidSessionHandling re-arms the once-per-episode invalid-session
// escalation, after the user has re-authenticated.
func (t *Tracker) ResetInvalidSessionHandling() {
	t.mu.Lock()
	t.invalidSessionHandled = false
	t.mu.Unlock()
}

// OnAuthenticationRecovered lifts the worker's auth gate and drains.
func (t *Tracker) OnAuthenticationRecovered() {
	t.ResetInvalidSessionHandling()
	t.worker.PostAuthRecovered()
}

// ---- internals ----

func cleanTrack(track Track) Track {
	track.Artist = CleanTag(track.Artist)
	track.Title = CleanTag(track.Title)
	track.Album = CleanTag(track.Album)
	track.AlbumArtist = CleanTag(track.AlbumArtist)
	return track
}

func (t *Tracker) resetStateLocked() {
	t.isPlaying = false
	t.scrobbleSent = false
	t.playbackTime = 0
	t.current = Track{}
	t.startWallclock = 0
	t.pendingDueToMissingMetadata = false
	t.thresholdReachedButDeferred = false
	t.segment = nil
	t.rules.Reset(0)
}

// flushDeferredLocked settles a threshold crossing that was deferred by
// suspension or missing metadata. Natural boundaries (stop, track change)
// are the only place deferred submissions resolve.
func (t *Tracker) flushDeferredLocked() {
	if !t.thresholdReachedButDeferred && !t.pendingDueToMissingMetadata {
		return
	}
	if t.scrobbleSent || !t.current.Valid() {
		return
	}
	if t.auth.IsSuspended() || !t.auth.IsAuthenticated() {
		return
	}

	t.scrobbleSent = true
	t.queue.QueueForRetry(t.current, t.playbackTime, true, t.startWallclock)
	t.worker.PostDrain()
}

// checkSegmentLocked caches the active stream segment's scrobble once the
// segment has accumulated its own listened threshold. The cached scrobble
// is only flushed at the next boundary.
func (t *Tracker) checkSegmentLocked() {
	if t.segment == nil || t.segment.cached {
		return
	}
	listened := t.rules.EffectiveListened() - t.segment.startListened
	if listened >= DynamicSegmentMinListened {
		t.segment.cached = true
	}
}

// flushSegmentLocked submits the cached segment scrobble, if any, at a
// segment boundary or stop.
func (t *Tracker) flushSegmentLocked() {
	seg := t.segment
	t.segment = nil
	if seg == nil || !seg.cached {
		return
	}
	if !t.auth.IsAuthenticated() || t.auth.IsSuspended() {
		return
	}

	listened := t.rules.EffectiveListened() - seg.startListened
	t.queue.QueueForRetry(seg.track, listened, false, seg.startWallclock)
	t.worker.PostDrain()
}

// submitScrobbleIfNeeded enqueues at most one scrobble per track instance
// once eligibility is reached. Missing metadata and user suspension defer
// instead of dropping.
func (t *Tracker) submitScrobbleIfNeeded() {
	t.mu.Lock()

	if !t.isPlaying || t.scrobbleSent || t.current.Duration <= 0 {
		t.mu.Unlock()
		return
	}
	if !t.rules.ShouldScrobble() {
		t.mu.Unlock()
		return
	}

	if !t.current.Valid() {
		t.pendingDueToMissingMetadata = true
		t.mu.Unlock()
		return
	}
	if t.auth.IsSuspended() {
		t.thresholdReachedButDeferred = true
		t.mu.Unlock()
		return
	}
	if !t.auth.IsAuthenticated() {
		t.mu.Unlock()
		return
	}

	t.scrobbleSent = true
	t.pendingDueToMissingMetadata = false
	track := t.current
	playback := t.playbackTime
	start := t.startWallclock
	t.mu.Unlock()

	t.logger.Info().
		Str("artist", track.Artist).
		Str("title", track.Title).
		Msg("Scrobble threshold reached, queuing")

	t.queue.QueueForRetry(track, playback, true, start)
	t.worker.PostDrain()
}

// dispatchRetryIfDue posts a drain when the backlog has something due.
func (t *Tracker) dispatchRetryIfDue() {
	if !t.auth.IsAuthenticated() || t.auth.IsSuspended() {
		return
	}
	if t.queue.PendingCount() == 0 {
		return
	}
	if !t.queue.HasDue(t.now().Unix()) {
		return
	}
	t.worker.PostDrain()
}

// handleInvalidSessionOnce escalates a session invalidation exactly once
// per episode: block the worker, then hand off to the external callback
// that clears credentials and notifies the user.
func (t *Tracker) handleInvalidSessionOnce() {
	t.mu.Lock()
	if t.invalidSessionHandled {
		t.mu.Unlock()
		return
	}
	t.invalidSessionHandled = true
	t.mu.Unlock()

	t.logger.Warn().Msg("Invalid session detected, blocking submissions")

	t.worker.PostInvalidSession()
	if t.onAuthInvalidated != nil {
		t.onAuthInvalidated()
	}
}
