// Package config loads daemon configuration from file and environment.
package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Poll interval for the playback monitor (in seconds)
	PollInterval int

	// DailyScrobbleLimit caps accepted scrobbles per calendar day.
	// 0 means unlimited.
	DailyScrobbleLimit int

	// SubmitDynamicTitles enables scrobbling of "artist - title" pairs
	// parsed from radio stream metadata.
	SubmitDynamicTitles bool

	// Player restricts monitoring to MPRIS bus names containing this
	// substring. Empty means the first active player wins.
	Player string

	// StatePath is the SQLite file holding the pending queue and
	// authentication state.
	StatePath string

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string

	// Last.fm API credentials
	LastFM LastFMConfig
}

// LastFMConfig holds Last.fm specific configuration
type LastFMConfig struct {
	APIKey    string
	APISecret string
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config file locations (in order of precedence)
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath(".")

	v.SetDefault("poll_interval", 1)
	v.SetDefault("daily_scrobble_limit", 0)
	v.SetDefault("submit_dynamic_titles", false)
	v.SetDefault("player", "")
	v.SetDefault("state_path", defaultStatePath())
	v.SetDefault("log_level", "info")

	// Config file is optional; environment can carry everything.
	_ = v.ReadInConfig()

	v.SetEnvPrefix("SCROBBLED")
	v.AutomaticEnv()

	cfg := &Config{
		PollInterval:        v.GetInt("poll_interval"),
		DailyScrobbleLimit:  v.GetInt("daily_scrobble_limit"),
		SubmitDynamicTitles: v.GetBool("submit_dynamic_titles"),
		Player:              v.GetString("player"),
		StatePath:           v.GetString("state_path"),
		LogLevel:            v.GetString("log_level"),
		LastFM: LastFMConfig{
			APIKey:    v.GetString("lastfm.api_key"),
			APISecret: v.GetString("lastfm.api_secret"),
		},
	}

	return cfg, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "scrobbled")
}

func defaultStatePath() string {
	path, err := xdg.StateFile("scrobbled/state.db")
	if err != nil {
		return filepath.Join(ConfigDir(), "state.db")
	}
	return path
}

// Save writes configuration to file
func (c *Config) Save() error {
	v := viper.New()

	configFile := filepath.Join(ConfigDir(), "config.yaml")

	v.Set("poll_interval", c.PollInterval)
	v.Set("daily_scrobble_limit", c.DailyScrobbleLimit)
	v.Set("submit_dynamic_titles", c.SubmitDynamicTitles)
	v.Set("player", c.Player)
	v.Set("state_path", c.StatePath)
	v.Set("log_level", c.LogLevel)
	v.Set("lastfm.api_key", c.LastFM.APIKey)
	v.Set("lastfm.api_secret", c.LastFM.APISecret)

	return v.WriteConfigAs(configFile)
}
