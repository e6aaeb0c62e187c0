package scrobbler

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// pendingScrobblesKey is the storage slot holding the serialized queue.
	pendingScrobblesKey = "lastfm.pending_scrobbles"

	// maxDispatchBatch caps how many records one drain pass may attempt.
	maxDispatchBatch = 10

	// Linear backoff: 60s, 120s, 180s... capped at one hour.
	retryStepSeconds = 60
	retryMaxSeconds  = 60 * 60

	// maxRetryCount caps the per-record retry counter.
	maxRetryCount = 100
)

// Queue is the durable retry queue of pending scrobble submissions. The
// persisted record set is the single shared mutable resource; every read or
// mutation happens inside one load-mutate-save critical section. Network
// attempts run outside the lock, and their outcomes are merged back into a
// freshly reloaded copy so records appended concurrently are never lost to
// a stale overwrite.
//
// Records are removed only on confirmed-accepted submission. A record with
// missing mandatory metadata is skipped during drain but left in place so a
// later tag correction can still resolve it.
type Queue struct {
	api              WebAPI
	store            BlobStore
	budget           *dailyBudget
	onInvalidSession func()
	logger           zerolog.Logger

	// now is the wall clock, injectable for tests.
	now func() time.Time

	mu           sync.Mutex
	shuttingDown atomic.Bool

	idBase uint64
	idSeq  atomic.Uint64
}

// retryUpdate is one per-record drain outcome, keyed by id for the
// merge-back pass.
type retryUpdate struct {
	id         string
	remove     bool
	retryCount int
	nextRetry  int64
}

// NewQueue creates a queue over the given storage slot. dailyCap limits
// accepted scrobbles per calendar day (0 = unlimited). onInvalidSession is
// invoked at most once per drain cycle when the session is rejected.
func NewQueue(store BlobStore, api WebAPI, dailyCap int, onInvalidSession func(), logger zerolog.Logger) *Queue {
	q := &Queue{
		api:              api,
		store:            store,
		budget:           &dailyBudget{store: store, cap: dailyCap},
		onInvalidSession: onInvalidSession,
		logger:           logger.With().Str("component", "queue").Logger(),
		now:              time.Now,
	}

	var seed [8]byte
	if _, err := rand.Read(seed[:]); err == nil {
		q.idBase = binary.LittleEndian.Uint64(seed[:])
	} else {
		q.idBase = uint64(time.Now().UnixNano())
	}

	return q
}

// mintID produces a queue-unique record id: a random per-process base XORed
// with a monotonic sequence.
func (q *Queue) mintID() string {
	return fmt.Sprintf("%016x", q.idBase^q.idSeq.Add(1))
}

func (q *Queue) load() []QueuedScrobble {
	blob, err := q.store.Get(pendingScrobblesKey)
	if err != nil {
		q.logger.Warn().Err(err).Msg("Failed to load pending scrobbles")
		return nil
	}
	return parseScrobbles(blob)
}

func (q *Queue) save(items []QueuedScrobble) {
	if err := q.store.Set(pendingScrobblesKey, serializeScrobbles(items)); err != nil {
		q.logger.Error().Err(err).Msg("Failed to persist pending scrobbles")
	}
}

// QueueForRetry appends a new record and persists the full set. Records
// with missing mandatory metadata are rejected outright; they could never
// be submitted.
func (q *Queue) QueueForRetry(track Track, playbackSeconds float64, refreshOnSubmit bool, startTimestamp int64) {
	if !track.Valid() {
		q.logger.Info().Msg("Missing track info, not queuing")
		return
	}

	rec := QueuedScrobble{
		ID:              q.mintID(),
		Artist:          track.Artist,
		Title:           track.Title,
		Album:           track.Album,
		AlbumArtist:     track.AlbumArtist,
		DurationSeconds: track.Duration,
		PlaybackSeconds: playbackSeconds,
		StartTimestamp:  startTimestamp,
		RefreshOnSubmit: refreshOnSubmit,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.load()
	items = append(items, rec)
	q.save(items)

	q.logger.Debug().
		Str("artist", track.Artist).
		Str("title", track.Title).
		Int("pending", len(items)).
		Msg("Queued scrobble")
}

// RefreshMetadata patches the most recently queued refresh-eligible record
// with any non-empty values from track, so late tag corrections reach an
// already-queued submission before it is sent.
func (q *Queue) RefreshMetadata(track Track) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.load()
	for i := len(items) - 1; i >= 0; i-- {
		if !items[i].RefreshOnSubmit {
			continue
		}

		if track.Artist != "" {
			items[i].Artist = track.Artist
		}
		if track.Title != "" {
			items[i].Title = track.Title
		}
		if track.Album != "" {
			items[i].Album = track.Album
		}
		if track.AlbumArtist != "" {
			items[i].AlbumArtist = track.AlbumArtist
		}
		if track.Duration > 0 {
			items[i].DurationSeconds = track.Duration
		}

		q.save(items)
		q.logger.Debug().Str("id", items[i].ID).Msg("Refreshed queued metadata")
		return
	}
}

// RetryQueuedScrobbles runs one drain pass: attempt due records against the
// remote service, then merge outcomes back into the latest persisted state.
// All failures are absorbed into record state; nothing propagates to the
// caller.
func (q *Queue) RetryQueuedScrobbles(ctx context.Context) {
	if q.shuttingDown.Load() {
		return
	}

	// Daily quota gate. Rolls the day stamp under the same lock that guards
	// the record set.
	q.mu.Lock()
	allowed := q.budget.remaining(q.now())
	q.mu.Unlock()
	if allowed == 0 {
		q.logger.Debug().Msg("Daily scrobble budget exhausted, skipping drain")
		return
	}

	q.mu.Lock()
	snapshot := q.load()
	q.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	nowCheck := q.now().Unix()
	updates := make([]retryUpdate, 0, maxDispatchBatch)

	invalidSessionSeen := false
	attempted := 0
	accepted := 0

	for _, rec := range snapshot {
		// Stop early once the batch cap or the remaining daily budget is
		// spent; accepted submissions count against the budget, attempts
		// against the batch cap.
		if invalidSessionSeen || attempted >= maxDispatchBatch || accepted >= allowed {
			break
		}
		if q.shuttingDown.Load() || ctx.Err() != nil {
			break
		}
		if !rec.Due(nowCheck) {
			continue
		}

		// Mandatory-tag validation: skip but keep, a future metadata
		// refresh may still resolve this record.
		if rec.Artist == "" || rec.Title == "" {
			q.logger.Info().Str("id", rec.ID).Msg("Pending scrobble still has invalid metadata, deferring")
			continue
		}

		attempted++

		track := Track{
			Artist:      rec.Artist,
			Title:       rec.Title,
			Album:       rec.Album,
			AlbumArtist: rec.AlbumArtist,
			Duration:    rec.DurationSeconds,
		}
		outcome := q.api.Scrobble(ctx, track, rec.PlaybackSeconds, rec.StartTimestamp)

		switch outcome {
		case OutcomeSuccess:
			accepted++
			updates = append(updates, retryUpdate{id: rec.ID, remove: true})

		case OutcomeInvalidSession:
			invalidSessionSeen = true
			q.logger.Warn().Msg("Invalid session during drain, halting pass")
			if q.onInvalidSession != nil {
				q.onInvalidSession()
			}

		case OutcomeTemporary:
			count := rec.RetryCount + 1
			if count > maxRetryCount {
				count = maxRetryCount
			}
			delay := count * retryStepSeconds
			if delay > retryMaxSeconds {
				delay = retryMaxSeconds
			}
			updates = append(updates, retryUpdate{
				id:         rec.ID,
				retryCount: count,
				nextRetry:  q.now().Unix() + int64(delay),
			})
			q.logger.Debug().
				Str("id", rec.ID).
				Int("retry", count).
				Int("delay_s", delay).
				Msg("Scrobble failed temporarily, rescheduled")

		case OutcomeOther:
			// Kept unchanged: a permanent rejection gains nothing from a
			// tighter retry schedule.
			q.logger.Info().Str("id", rec.ID).Msg("Scrobble rejected by service, keeping record")
		}
	}

	if len(updates) == 0 && accepted == 0 {
		return
	}

	// Merge into a fresh reload, not the snapshot: the session tracker may
	// have appended records while we were on the network.
	q.mu.Lock()
	defer q.mu.Unlock()

	latest := q.load()
	merged := latest[:0]
	for _, rec := range latest {
		u, ok := findUpdate(updates, rec.ID)
		if !ok {
			merged = append(merged, rec)
			continue
		}
		if u.remove {
			continue
		}
		rec.RetryCount = u.retryCount
		rec.NextRetryTimestamp = u.nextRetry
		merged = append(merged, rec)
	}
	q.save(merged)
	q.budget.recordAccepted(q.now(), accepted)

	q.logger.Debug().
		Int("accepted", accepted).
		Int("pending", len(merged)).
		Msg("Drain pass merged")
}

func findUpdate(updates []retryUpdate, id string) (retryUpdate, bool) {
	for _, u := range updates {
		if u.id == id {
			return u, true
		}
	}
	return retryUpdate{}, false
}

// Snapshot returns a copy of the persisted record set, for introspection.
func (q *Queue) Snapshot() []QueuedScrobble {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// PendingCount returns the number of persisted pending records.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.load())
}

// HasDue reports whether any record is eligible for an attempt at the given
// wall-clock time.
func (q *Queue) HasDue(now int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, rec := range q.load() {
		if rec.Due(now) {
			return true
		}
	}
	return false
}

// ClearAll destroys the persisted record set. Used when credentials are
// explicitly cleared by the user.
func (q *Queue) ClearAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Set(pendingScrobblesKey, ""); err != nil {
		q.logger.Error().Err(err).Msg("Failed to clear pending scrobbles")
		return
	}
	q.logger.Info().Msg("Cleared all pending scrobbles")
}

// Shutdown marks the queue as shutting down; subsequent drain passes abort
// before any side effect.
func (q *Queue) Shutdown() {
	q.shuttingDown.Store(true)
}
