package scrobbler

import (
	"context"
	"sync"
)

// memStore is an in-memory BlobStore for tests.
type memStore struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string]string)}
}

func (s *memStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *memStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// fakeAPI records calls and returns scripted outcomes.
type fakeAPI struct {
	mu sync.Mutex

	// scrobbleFn, when set, decides the outcome per call.
	scrobbleFn func(track Track) Outcome

	scrobbles   []Track
	nowPlayings []Track
}

func (f *fakeAPI) UpdateNowPlaying(ctx context.Context, track Track) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nowPlayings = append(f.nowPlayings, track)
	return true
}

func (f *fakeAPI) Scrobble(ctx context.Context, track Track, playbackSeconds float64, startTimestamp int64) Outcome {
	f.mu.Lock()
	fn := f.scrobbleFn
	f.scrobbles = append(f.scrobbles, track)
	f.mu.Unlock()

	if fn != nil {
		return fn(track)
	}
	return OutcomeSuccess
}

func (f *fakeAPI) scrobbleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scrobbles)
}

func (f *fakeAPI) nowPlayingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nowPlayings)
}

func (f *fakeAPI) lastNowPlaying() (Track, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.nowPlayings) == 0 {
		return Track{}, false
	}
	return f.nowPlayings[len(f.nowPlayings)-1], true
}

// fakeAuth is a scriptable AuthOracle.
type fakeAuth struct {
	mu        sync.Mutex
	authed    bool
	suspended bool
}

func (f *fakeAuth) IsAuthenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed
}

func (f *fakeAuth) IsSuspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspended
}

func (f *fakeAuth) set(authed, suspended bool) {
	f.mu.Lock()
	f.authed = authed
	f.suspended = suspended
	f.mu.Unlock()
}
