package music

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisObjectPath = "/org/mpris/MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
)

// MPRISClient observes media players over D-Bus using the MPRIS
// interface. It latches onto one player and follows it until the name
// disappears from the bus, then picks the next candidate.
type MPRISClient struct {
	conn *dbus.Conn

	// match restricts candidate bus names to those containing this
	// substring. Empty accepts any player.
	match string

	mu     sync.Mutex
	active string
}

// NewMPRISClient connects to the session bus.
func NewMPRISClient(match string) (*MPRISClient, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &MPRISClient{conn: conn, match: match}, nil
}

// Close releases the bus connection.
func (c *MPRISClient) Close() error {
	return c.conn.Close()
}

// IsRunning reports whether any matching MPRIS player is on the bus.
func (c *MPRISClient) IsRunning(ctx context.Context) (bool, error) {
	name, err := c.playerName(ctx)
	if err != nil {
		return false, err
	}
	return name != "", nil
}

// GetCurrentTrack samples the active player. Returns nil when no player is
// running or nothing is loaded.
func (c *MPRISClient) GetCurrentTrack(ctx context.Context) (*Track, error) {
	name, err := c.playerName(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, nil
	}

	obj := c.conn.Object(name, mprisObjectPath)

	status, err := c.stringProp(ctx, obj, "PlaybackStatus")
	if err != nil {
		// The player left the bus between discovery and the property read.
		c.forget(name)
		return nil, nil
	}

	state := StateStopped
	switch status {
	case "Playing":
		state = StatePlaying
	case "Paused":
		state = StatePaused
	}
	if state == StateStopped {
		return nil, nil
	}

	metadata, err := c.metadataProp(ctx, obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	track := &Track{State: state}
	track.Title, _ = metadata["xesam:title"].(string)
	track.Album, _ = metadata["xesam:album"].(string)
	track.URL, _ = metadata["xesam:url"].(string)
	track.Artist = firstString(metadata["xesam:artist"])
	track.AlbumArtist = firstString(metadata["xesam:albumArtist"])

	if id, ok := metadata["mpris:trackid"].(dbus.ObjectPath); ok {
		track.TrackID = string(id)
	}
	if length, ok := asInt64(metadata["mpris:length"]); ok && length > 0 {
		track.Duration = time.Duration(length) * time.Microsecond
	}

	if pos, err := c.int64Prop(ctx, obj, "Position"); err == nil {
		track.Position = time.Duration(pos) * time.Microsecond
	}

	return track, nil
}

// playerName returns the bus name of the tracked player, discovering one if
// needed.
func (c *MPRISClient) playerName(ctx context.Context) (string, error) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	var names []string
	err := c.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		return "", fmt.Errorf("failed to list bus names: %w", err)
	}

	var candidate string
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		if c.match != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(c.match)) {
			continue
		}
		if name == active {
			return name, nil
		}
		if candidate == "" {
			candidate = name
		}
	}

	c.mu.Lock()
	c.active = candidate
	c.mu.Unlock()
	return candidate, nil
}

func (c *MPRISClient) forget(name string) {
	c.mu.Lock()
	if c.active == name {
		c.active = ""
	}
	c.mu.Unlock()
}

func (c *MPRISClient) stringProp(ctx context.Context, obj dbus.BusObject, prop string) (string, error) {
	v, err := c.getProp(ctx, obj, prop)
	if err != nil {
		return "", err
	}
	s, _ := v.Value().(string)
	return s, nil
}

func (c *MPRISClient) int64Prop(ctx context.Context, obj dbus.BusObject, prop string) (int64, error) {
	v, err := c.getProp(ctx, obj, prop)
	if err != nil {
		return 0, err
	}
	if n, ok := asInt64(v.Value()); ok {
		return n, nil
	}
	return 0, fmt.Errorf("property %s is not an integer", prop)
}

func (c *MPRISClient) metadataProp(ctx context.Context, obj dbus.BusObject) (map[string]interface{}, error) {
	v, err := c.getProp(ctx, obj, "Metadata")
	if err != nil {
		return nil, err
	}

	raw, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("unexpected metadata shape")
	}

	metadata := make(map[string]interface{}, len(raw))
	for k, variant := range raw {
		metadata[k] = variant.Value()
	}
	return metadata, nil
}

func (c *MPRISClient) getProp(ctx context.Context, obj dbus.BusObject, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, playerInterface, prop).Store(&v)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("failed to get %s: %w", prop, err)
	}
	return v, nil
}

// firstString extracts a string from either a plain string or the
// []string shape MPRIS uses for artist fields.
func firstString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []string:
		if len(s) > 0 {
			return s[0]
		}
	}
	return ""
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
