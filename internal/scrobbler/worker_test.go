package scrobbler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxPendingCommands:    16,
		NowPlayingMinInterval: time.Millisecond,
		DrainMinInterval:      time.Millisecond,
		DrainBudget:           50 * time.Millisecond,
		DrainStepSleep:        time.Millisecond,
		CooldownLimit:         101,
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestWorker(t *testing.T, api *fakeAPI, auth *fakeAuth, cfg WorkerConfig) (*Worker, *Queue) {
	t.Helper()
	q := NewQueue(newMemStore(), api, 0, nil, zerolog.Nop())
	w := NewWorker(api, auth, q, cfg, zerolog.Nop())
	return w, q
}

func TestWorker_SendsNowPlaying(t *testing.T) {
	api := &fakeAPI{}
	auth := &fakeAuth{authed: true}
	w, _ := newTestWorker(t, api, auth, testWorkerConfig())

	w.Start()
	defer w.Stop()

	w.PostNowPlaying(track("Artist", "Song"))

	waitFor(t, time.Second, "now-playing send", func() bool {
		return api.nowPlayingCount() == 1
	})

	got, _ := api.lastNowPlaying()
	if got.Title != "Song" {
		t.Errorf("sent title = %q, want %q", got.Title, "Song")
	}
}

func TestWorker_NowPlayingCoalescesLatestWins(t *testing.T) {
	api := &fakeAPI{}
	auth := &fakeAuth{authed: true}

	// A large min interval holds every update after the first in the slot.
	cfg := testWorkerConfig()
	cfg.NowPlayingMinInterval = time.Hour
	w, _ := newTestWorker(t, api, auth, cfg)

	w.Start()
	defer w.Stop()

	w.PostNowPlaying(track("Artist", "First"))
	waitFor(t, time.Second, "first now-playing send", func() bool {
		return api.nowPlayingCount() == 1
	})

	w.PostNowPlaying(track("Artist", "Second"))
	w.PostNowPlaying(track("Artist", "Third"))

	time.Sleep(50 * time.Millisecond)
	if got := api.nowPlayingCount(); got != 1 {
		t.Errorf("now-playing sends = %d, want 1 (interval not elapsed)", got)
	}
}

func TestWorker_NowPlayingRequiresAuth(t *testing.T) {
	api := &fakeAPI{}
	auth := &fakeAuth{authed: false}
	w, _ := newTestWorker(t, api, auth, testWorkerConfig())

	w.Start()
	w.PostNowPlaying(track("Artist", "Song"))

	time.Sleep(50 * time.Millisecond)
	w.Stop()

	if got := api.nowPlayingCount(); got != 0 {
		t.Errorf("now-playing sends = %d, want 0 (not authenticated)", got)
	}
}

func TestWorker_DrainSubmitsQueue(t *testing.T) {
	api := &fakeAPI{}
	auth := &fakeAuth{authed: true}
	w, q := newTestWorker(t, api, auth, testWorkerConfig())

	q.QueueForRetry(track("Artist", "One"), 95, true, 0)
	q.QueueForRetry(track("Artist", "Two"), 100, true, 0)

	w.Start()
	defer w.Stop()

	w.PostDrain()

	waitFor(t, time.Second, "queue drain", func() bool {
		return q.PendingCount() == 0
	})
	if got := api.scrobbleCount(); got != 2 {
		t.Errorf("scrobble attempts = %d, want 2", got)
	}
}

func TestWorker_InvalidSessionBlocksUntilRecovered(t *testing.T) {
	api := &fakeAPI{}
	auth := &fakeAuth{authed: true}
	w, q := newTestWorker(t, api, auth, testWorkerConfig())

	q.QueueForRetry(track("Artist", "One"), 95, true, 0)

	w.Start()
	defer w.Stop()

	w.PostInvalidSession()
	w.PostNowPlaying(track("Artist", "Song"))
	w.PostDrain()

	time.Sleep(50 * time.Millisecond)
	if got := api.scrobbleCount(); got != 0 {
		t.Errorf("scrobble attempts while blocked = %d, want 0", got)
	}
	if got := api.nowPlayingCount(); got != 0 {
		t.Errorf("now-playing sends while blocked = %d, want 0", got)
	}

	w.PostAuthRecovered()

	waitFor(t, time.Second, "drain after recovery", func() bool {
		return q.PendingCount() == 0
	})
}

func TestWorker_StopRejectsFurtherWork(t *testing.T) {
	api := &fakeAPI{}
	auth := &fakeAuth{authed: true}
	w, q := newTestWorker(t, api, auth, testWorkerConfig())

	q.QueueForRetry(track("Artist", "One"), 95, true, 0)

	w.Start()
	w.Stop()

	w.PostDrain()
	w.PostNowPlaying(track("Artist", "Song"))
	time.Sleep(50 * time.Millisecond)

	if got := api.scrobbleCount(); got != 0 {
		t.Errorf("scrobble attempts after Stop = %d, want 0", got)
	}
	if got := api.nowPlayingCount(); got != 0 {
		t.Errorf("now-playing sends after Stop = %d, want 0", got)
	}
	if got := q.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1 (survives to next run)", got)
	}
}

func TestWorker_StopWaitsForInFlightDrain(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{scrobbleFn: func(Track) Outcome {
		close(entered)
		<-release
		return OutcomeSuccess
	}}
	auth := &fakeAuth{authed: true}
	w, q := newTestWorker(t, api, auth, testWorkerConfig())

	q.QueueForRetry(track("Artist", "One"), 95, true, 0)

	w.Start()
	w.PostDrain()
	<-entered

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	// The submission is still on the wire; Stop must not return yet.
	select {
	case <-stopped:
		t.Fatal("Stop returned while a submission was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the submission finished")
	}
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	w, _ := newTestWorker(t, &fakeAPI{}, &fakeAuth{authed: true}, testWorkerConfig())

	w.Start()
	w.Stop()
	w.Stop()

	if !w.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after Stop")
	}
}

func TestWorker_HeldNowPlayingWakeTime(t *testing.T) {
	cfg := testWorkerConfig()
	cfg.NowPlayingMinInterval = 1500 * time.Millisecond
	w, _ := newTestWorker(t, &fakeAPI{}, &fakeAuth{authed: true}, cfg)

	now := time.Now()
	tr := track("Artist", "Song")

	w.mu.Lock()
	w.pendingNowPlaying = &tr
	w.lastNowPlayingSent = now
	next, have := w.nextWakeLocked(now)
	w.mu.Unlock()

	if !have {
		t.Fatal("nextWakeLocked() reported nothing pending")
	}
	if want := now.Add(cfg.NowPlayingMinInterval); next.Before(want) {
		t.Errorf("wake time = %v, want %v (held slot must wait out the interval)", next, want)
	}

	// With no prior send the slot is due immediately.
	w.mu.Lock()
	w.lastNowPlayingSent = time.Time{}
	next, _ = w.nextWakeLocked(now)
	w.mu.Unlock()
	if next.After(now) {
		t.Errorf("wake time = %v, want no later than %v (first send)", next, now)
	}
}

func TestWorker_HeldNowPlayingSentAfterInterval(t *testing.T) {
	api := &fakeAPI{}
	cfg := testWorkerConfig()
	cfg.NowPlayingMinInterval = 40 * time.Millisecond
	w, _ := newTestWorker(t, api, &fakeAuth{authed: true}, cfg)

	w.Start()
	defer w.Stop()

	w.PostNowPlaying(track("Artist", "First"))
	waitFor(t, time.Second, "first now-playing send", func() bool {
		return api.nowPlayingCount() == 1
	})

	// The second post lands inside the min interval; the timed wake alone
	// must flush it once the interval elapses.
	w.PostNowPlaying(track("Artist", "Second"))
	waitFor(t, time.Second, "second now-playing send", func() bool {
		return api.nowPlayingCount() == 2
	})

	got, _ := api.lastNowPlaying()
	if got.Title != "Second" {
		t.Errorf("sent title = %q, want %q", got.Title, "Second")
	}
}

func TestWorker_ScheduledDrainWaitsForDueTime(t *testing.T) {
	api := &fakeAPI{}
	auth := &fakeAuth{authed: true}
	w, q := newTestWorker(t, api, auth, testWorkerConfig())

	q.QueueForRetry(track("Artist", "One"), 95, true, 0)

	w.Start()
	defer w.Stop()

	w.PostDrainAfter(60 * time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	if got := api.scrobbleCount(); got != 0 {
		t.Errorf("scrobble attempts before due time = %d, want 0", got)
	}

	waitFor(t, time.Second, "scheduled drain", func() bool {
		return q.PendingCount() == 0
	})
}
