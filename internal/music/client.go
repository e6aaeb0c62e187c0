package music

import (
	"context"
	"time"
)

// Track represents a music track with its metadata and current state
type Track struct {
	Title       string        // Track title
	Artist      string        // Artist name
	Album       string        // Album name
	AlbumArtist string        // Album artist, if different from Artist
	TrackID     string        // Player-scoped identity of the playing item
	URL         string        // Source location, used to spot radio streams
	Duration    time.Duration // Total track duration (zero for streams)
	Position    time.Duration // Current playback position
	State       PlayState     // Current playback state
}

// IsStream reports whether the playing item looks like a network stream
// rather than a local file: streams have no meaningful duration and carry
// their track info through the title field.
func (t *Track) IsStream() bool {
	if t.Duration > 0 {
		return false
	}
	switch {
	case len(t.URL) >= 7 && t.URL[:7] == "http://":
		return true
	case len(t.URL) >= 8 && t.URL[:8] == "https://":
		return true
	}
	return false
}

// PlayState represents the current playback state of the music player
type PlayState int

const (
	StateStopped PlayState = iota // No track playing
	StatePlaying                  // Track is currently playing
	StatePaused                   // Track is paused
)

// String returns a human-readable representation of the PlayState
func (s PlayState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Client defines the interface for observing a music player
type Client interface {
	// GetCurrentTrack returns the currently playing/paused track, or nil if stopped
	GetCurrentTrack(ctx context.Context) (*Track, error)

	// IsRunning checks if a music player is running
	IsRunning(ctx context.Context) (bool, error)

	// Close releases the connection to the player
	Close() error
}
