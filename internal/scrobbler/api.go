package scrobbler

import "context"

// WebAPI is the outbound surface of the remote scrobbling service. The
// concrete implementation lives in Client; tests substitute fakes.
type WebAPI interface {
	// UpdateNowPlaying sends a lightweight "currently playing" notification.
	// The return value only signals whether the service acknowledged it;
	// now-playing failures are never retried.
	UpdateNowPlaying(ctx context.Context, track Track) bool

	// Scrobble submits one listened track and classifies the result.
	Scrobble(ctx context.Context, track Track, playbackSeconds float64, startTimestamp int64) Outcome
}

// AuthOracle answers whether outbound side effects are currently allowed.
// Backed by the persisted auth state; the queue and worker treat it purely
// as a boolean oracle.
type AuthOracle interface {
	IsAuthenticated() bool
	IsSuspended() bool
}

// BlobStore persists opaque string values under fixed keys. The durable
// queue serializes its whole record set into a single slot.
type BlobStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}
