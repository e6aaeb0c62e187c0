package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kkyr/scrobbled/internal/config"
	"github.com/kkyr/scrobbled/internal/daemon"
	"github.com/kkyr/scrobbled/internal/music"
)

var (
	daemonLogFile  string
	daemonLogLevel string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scrobbling daemon",
	Long: `Run the scrobbling daemon that monitors playback and scrobbles tracks to Last.fm.

The daemon will:
- Poll the active MPRIS player to detect track changes, seeks, and pauses
- Track effective playback time and handle pause/resume correctly
- Scrobble tracks when they meet the scrobbling threshold (50% or 4 minutes)
- Keep failed scrobbles in a durable queue and retry with backoff
- Handle graceful shutdown on SIGINT/SIGTERM

The daemon runs in the foreground and logs to stderr by default.
Use the --log-file flag to log to a file (useful for a systemd unit).`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonLogFile, "log-file", "", "Log file path (default: stderr)")
	daemonCmd.Flags().StringVar(&daemonLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.LastFM.APIKey == "" || cfg.LastFM.APISecret == "" {
		return fmt.Errorf("Last.fm API credentials not configured. Run 'scrobbled auth' first")
	}

	logLevel := daemonLogLevel
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logger := setupLogger(daemonLogFile, logLevel)

	logger.Info().
		Str("version", version).
		Msg("Starting scrobbled daemon")

	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	musicClient, err := music.NewMPRISClient(cfg.Player)
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	daemonCfg := daemon.Config{
		PollInterval:        time.Duration(cfg.PollInterval) * time.Second,
		StatePath:           cfg.StatePath,
		DailyScrobbleLimit:  cfg.DailyScrobbleLimit,
		SubmitDynamicTitles: cfg.SubmitDynamicTitles,
		APIKey:              cfg.LastFM.APIKey,
		APISecret:           cfg.LastFM.APISecret,
	}

	d, err := daemon.New(daemonCfg, musicClient, logger)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Run blocks until a shutdown signal arrives.
	if err := d.Run(); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	if err := d.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		return err
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}
