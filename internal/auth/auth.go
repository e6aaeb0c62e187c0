// Package auth holds the persisted Last.fm authentication state: the
// session key, the account it belongs to, and a user-controlled suspension
// flag that pauses all submissions without discarding anything.
package auth

import (
	"sync"

	"github.com/rs/zerolog"
)

// Storage slot keys. The queue owner is tracked separately from the
// session: pending scrobbles queued under one account must not be flushed
// to a different one after a re-authentication.
const (
	sessionKeyKey = "lastfm.session_key"
	usernameKey   = "lastfm.username"
	suspendedKey  = "lastfm.suspended"
	queueOwnerKey = "lastfm.queue_owner"
)

// Store is the persistence surface State needs.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// State is the in-memory view of the persisted authentication state. All
// mutations write through to the store.
type State struct {
	store  Store
	logger zerolog.Logger

	mu         sync.RWMutex
	sessionKey string
	username   string
	suspended  bool
	queueOwner string
}

// Load reads the persisted state.
func Load(store Store, logger zerolog.Logger) *State {
	s := &State{
		store:  store,
		logger: logger.With().Str("component", "auth").Logger(),
	}

	s.sessionKey, _ = store.Get(sessionKeyKey)
	s.username, _ = store.Get(usernameKey)
	s.queueOwner, _ = store.Get(queueOwnerKey)
	if v, _ := store.Get(suspendedKey); v == "1" {
		s.suspended = true
	}

	return s
}

// IsAuthenticated reports whether a session key is present.
func (s *State) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionKey != ""
}

// IsSuspended reports whether the user has paused submissions. The flag is
// read through to the store so a "scrobbled suspend" from another process
// takes effect on a running daemon without a restart.
func (s *State) IsSuspended() bool {
	if v, err := s.store.Get(suspendedKey); err == nil {
		suspended := v == "1"
		s.mu.Lock()
		s.suspended = suspended
		s.mu.Unlock()
		return suspended
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspended
}

// SessionKey returns the stored session key, or "".
func (s *State) SessionKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionKey
}

// Username returns the account name the session belongs to, or "".
func (s *State) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// QueueOwner returns the account name the pending queue was recorded
// under, or "".
func (s *State) QueueOwner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queueOwner
}

// SetSession stores a fresh session and claims the queue for its account.
func (s *State) SetSession(username, sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.username = username
	s.sessionKey = sessionKey
	s.queueOwner = username

	s.persist(usernameKey, username)
	s.persist(sessionKeyKey, sessionKey)
	s.persist(queueOwnerKey, username)

	s.logger.Info().Str("username", username).Msg("Stored Last.fm session")
}

// ClearSession drops the session key but keeps the username and queue
// owner, so a re-authentication under the same account resumes cleanly.
// Used when the service rejects the session.
func (s *State) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionKey = ""
	s.persist(sessionKeyKey, "")

	s.logger.Warn().Msg("Cleared invalid Last.fm session")
}

// Clear wipes all authentication state including queue ownership.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionKey = ""
	s.username = ""
	s.queueOwner = ""

	s.persist(sessionKeyKey, "")
	s.persist(usernameKey, "")
	s.persist(queueOwnerKey, "")

	s.logger.Info().Msg("Cleared Last.fm credentials")
}

// Suspend pauses all submissions until ClearSuspension.
func (s *State) Suspend() {
	s.setSuspended(true)
}

// ClearSuspension resumes submissions.
func (s *State) ClearSuspension() {
	s.setSuspended(false)
}

func (s *State) setSuspended(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.suspended = v
	val := "0"
	if v {
		val = "1"
	}
	s.persist(suspendedKey, val)

	s.logger.Info().Bool("suspended", v).Msg("Updated suspension state")
}

// persist writes one slot; callers hold s.mu.
func (s *State) persist(key, value string) {
	if err := s.store.Set(key, value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to persist auth state")
	}
}
