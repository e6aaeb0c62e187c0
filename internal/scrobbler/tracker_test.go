package scrobbler

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T, api *fakeAPI, auth *fakeAuth, onAuthInvalidated func()) *Tracker {
	t.Helper()
	return NewTracker(Options{
		Store:             newMemStore(),
		API:               api,
		Auth:              auth,
		Worker:            testWorkerConfig(),
		OnAuthInvalidated: onAuthInvalidated,
		Logger:            zerolog.Nop(),
	})
}

// playThrough feeds one-second position updates to the tracker.
func playThrough(tr *Tracker, start, end float64) {
	for p := start; p <= end; p++ {
		tr.OnTimeUpdate(p)
	}
}

func TestTracker_QueuesScrobbleAtThreshold(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Artist: "Artist", Title: "Song", Duration: 200})
	playThrough(tr, 0, 99)

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Fatalf("queued before threshold: %d records", got)
	}

	playThrough(tr, 100, 101)

	if got := tr.PendingScrobbleCount(); got != 1 {
		t.Fatalf("PendingScrobbleCount() = %d, want 1", got)
	}

	rec := tr.Queue().Snapshot()[0]
	if rec.Artist != "Artist" || rec.Title != "Song" {
		t.Errorf("queued record = %+v", rec)
	}
	if !rec.RefreshOnSubmit {
		t.Error("organically queued scrobble must be refresh-eligible")
	}
	if rec.StartTimestamp == 0 {
		t.Error("queued record missing start timestamp")
	}
}

func TestTracker_AtMostOneScrobblePerTrack(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Artist: "Artist", Title: "Song", Duration: 200})
	playThrough(tr, 0, 199)
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 1 {
		t.Errorf("PendingScrobbleCount() = %d, want 1", got)
	}
}

func TestTracker_EarlySeekDisqualifies(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Artist: "Artist", Title: "Song", Duration: 200})
	playThrough(tr, 0, 90)
	tr.OnSeek(10)
	playThrough(tr, 10, 190)
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Errorf("PendingScrobbleCount() = %d, want 0 (skipped early)", got)
	}
}

func TestTracker_ShortTrackNeverScrobbles(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Artist: "Artist", Title: "Jingle", Duration: 20})
	playThrough(tr, 0, 20)
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Errorf("PendingScrobbleCount() = %d, want 0", got)
	}
}

func TestTracker_MissingMetadataResolvedByRefresh(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Title: "Song", Duration: 200})
	playThrough(tr, 0, 110)

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Fatalf("queued despite missing artist: %d records", got)
	}

	// A tag correction arrives mid-track; the deferred scrobble resolves.
	tr.OnMetadataRefresh(Track{Artist: "Artist", Title: "Song", Duration: 200})

	if got := tr.PendingScrobbleCount(); got != 1 {
		t.Errorf("PendingScrobbleCount() = %d, want 1", got)
	}
}

func TestTracker_MissingMetadataDroppedAtBoundary(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Title: "Song", Duration: 200})
	playThrough(tr, 0, 110)
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Errorf("PendingScrobbleCount() = %d, want 0 (never became valid)", got)
	}
}

func TestTracker_PlaceholderTagsTreatedAsMissing(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Artist: "Unknown Artist", Title: "Unknown Track", Duration: 200})
	playThrough(tr, 0, 110)
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Errorf("PendingScrobbleCount() = %d, want 0", got)
	}
}

func TestTracker_SuspensionDefersToBoundary(t *testing.T) {
	auth := &fakeAuth{authed: true, suspended: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Artist: "Artist", Title: "Song", Duration: 200})
	playThrough(tr, 0, 110)

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Fatalf("queued while suspended: %d records", got)
	}

	// Resume, then hit the track boundary: the held scrobble goes out.
	auth.set(true, false)
	tr.OnSuspendChange()
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 1 {
		t.Errorf("PendingScrobbleCount() = %d, want 1", got)
	}
}

func TestTracker_SuspensionHeldThroughBoundaryStaysHeld(t *testing.T) {
	auth := &fakeAuth{authed: true, suspended: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Artist: "Artist", Title: "Song", Duration: 200})
	playThrough(tr, 0, 110)
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Errorf("PendingScrobbleCount() = %d, want 0 (still suspended at boundary)", got)
	}
}

func TestTracker_MetadataRefreshPatchesQueuedRecord(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Artist: "Misspelled", Title: "Song", Duration: 200})
	playThrough(tr, 0, 110)

	if got := tr.PendingScrobbleCount(); got != 1 {
		t.Fatalf("PendingScrobbleCount() = %d, want 1", got)
	}

	tr.OnMetadataRefresh(Track{Artist: "Corrected", Title: "Song", Duration: 200})

	rec := tr.Queue().Snapshot()[0]
	if rec.Artist != "Corrected" {
		t.Errorf("queued artist = %q, want %q", rec.Artist, "Corrected")
	}
}

func TestTracker_StreamSegmentsScrobbleAtBoundaries(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	// A stream: no duration, track info arrives via stream titles.
	tr.OnNewTrack(Track{Duration: 0})
	tr.OnStreamTitle("First Artist - First Song")
	playThrough(tr, 0, 40)

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Fatalf("segment scrobbled before its boundary: %d records", got)
	}

	// Next title is the boundary for the first segment.
	tr.OnStreamTitle("Second Artist - Second Song")

	if got := tr.PendingScrobbleCount(); got != 1 {
		t.Fatalf("PendingScrobbleCount() = %d, want 1", got)
	}
	rec := tr.Queue().Snapshot()[0]
	if rec.Artist != "First Artist" || rec.Title != "First Song" {
		t.Errorf("queued segment = %+v", rec)
	}

	// Second segment reaches the threshold and flushes at stop.
	playThrough(tr, 41, 80)
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 2 {
		t.Errorf("PendingScrobbleCount() = %d, want 2", got)
	}
}

func TestTracker_ShortStreamSegmentDropped(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Duration: 0})
	tr.OnStreamTitle("Artist - Song")
	playThrough(tr, 0, 10)
	tr.OnStreamTitle("Other - Next")
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Errorf("PendingScrobbleCount() = %d, want 0 (segment under threshold)", got)
	}
}

func TestTracker_BrandingStreamTitlesIgnored(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Duration: 0})
	tr.OnStreamTitle("Mega Radio FM - The Best Hits")
	playThrough(tr, 0, 40)
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 0 {
		t.Errorf("PendingScrobbleCount() = %d, want 0 (branding, not a track)", got)
	}
}

func TestTracker_DuplicateStreamTitleDoesNotRestartSegment(t *testing.T) {
	auth := &fakeAuth{authed: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Duration: 0})
	tr.OnStreamTitle("Artist - Song")
	playThrough(tr, 0, 20)
	// The same title again must not reset the segment's progress.
	tr.OnStreamTitle("Artist - Song")
	playThrough(tr, 21, 40)
	tr.OnStop()

	if got := tr.PendingScrobbleCount(); got != 1 {
		t.Errorf("PendingScrobbleCount() = %d, want 1", got)
	}
}

func TestTracker_InvalidSessionEscalatesOnce(t *testing.T) {
	api := &fakeAPI{scrobbleFn: func(Track) Outcome { return OutcomeInvalidSession }}
	auth := &fakeAuth{authed: true}
	invalidations := 0
	tr := newTestTracker(t, api, auth, func() { invalidations++ })

	tr.OnNewTrack(Track{Artist: "Artist", Title: "Song", Duration: 200})
	playThrough(tr, 0, 110)

	ctx := context.Background()
	tr.Queue().RetryQueuedScrobbles(ctx)
	tr.Queue().RetryQueuedScrobbles(ctx)

	if invalidations != 1 {
		t.Errorf("auth invalidations = %d, want exactly 1", invalidations)
	}

	// After re-authentication the escalation re-arms.
	tr.ResetInvalidSessionHandling()
	tr.Queue().RetryQueuedScrobbles(ctx)

	if invalidations != 2 {
		t.Errorf("auth invalidations after re-arm = %d, want 2", invalidations)
	}
}

func TestTracker_NewTrackSettlesPreviousDeferred(t *testing.T) {
	auth := &fakeAuth{authed: true, suspended: true}
	tr := newTestTracker(t, &fakeAPI{}, auth, nil)

	tr.OnNewTrack(Track{Artist: "Artist", Title: "Held", Duration: 200})
	playThrough(tr, 0, 110)

	auth.set(true, false)
	tr.OnNewTrack(Track{Artist: "Artist", Title: "Next", Duration: 200})

	if got := tr.PendingScrobbleCount(); got != 1 {
		t.Fatalf("PendingScrobbleCount() = %d, want 1", got)
	}
	rec := tr.Queue().Snapshot()[0]
	if rec.Title != "Held" {
		t.Errorf("queued title = %q, want %q", rec.Title, "Held")
	}
}
