package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kkyr/scrobbled/internal/auth"
	"github.com/kkyr/scrobbled/internal/config"
	"github.com/kkyr/scrobbled/internal/kv"
	"github.com/kkyr/scrobbled/internal/scrobbler"
	"github.com/kkyr/scrobbled/pkg/lastfm"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the pending scrobble queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending scrobbles",
	RunE:  runQueueStatus,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Attempt to submit pending scrobbles now",
	RunE:  runQueueRetry,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all pending scrobbles",
	RunE:  runQueueClear,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueClearCmd)
}

func openStore() (*config.Config, *kv.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := kv.Open(cfg.StatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return cfg, store, nil
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	authState := auth.Load(store, zerolog.Nop())
	queue := scrobbler.NewQueue(store, nil, 0, nil, zerolog.Nop())

	records := queue.Snapshot()
	if len(records) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	if owner := authState.QueueOwner(); owner != "" {
		fmt.Printf("Queue owner: %s\n", owner)
	}
	fmt.Printf("%d pending scrobble(s):\n\n", len(records))

	now := time.Now().Unix()
	for _, rec := range records {
		state := "due"
		if !rec.Due(now) {
			state = fmt.Sprintf("retry in %ds", rec.NextRetryTimestamp-now)
		}
		fmt.Printf("  %s - %s", rec.Artist, rec.Title)
		if rec.Album != "" {
			fmt.Printf(" [%s]", rec.Album)
		}
		fmt.Printf("  (attempts: %d, %s)\n", rec.RetryCount, state)
	}

	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.LastFM.APIKey == "" || cfg.LastFM.APISecret == "" {
		return fmt.Errorf("Last.fm API credentials not configured. Run 'scrobbled auth' first")
	}

	authState := auth.Load(store, zerolog.Nop())
	if !authState.IsAuthenticated() {
		return fmt.Errorf("not authenticated. Run 'scrobbled auth' first")
	}

	sdk, err := lastfm.NewClient(lastfm.Config{
		APIKey:     cfg.LastFM.APIKey,
		APISecret:  cfg.LastFM.APISecret,
		SessionKey: authState.SessionKey(),
	})
	if err != nil {
		return err
	}

	logger := setupLogger("", cfg.LogLevel)
	api := scrobbler.NewClient(sdk, logger)

	invalidSession := false
	queue := scrobbler.NewQueue(store, api, cfg.DailyScrobbleLimit, func() {
		invalidSession = true
	}, logger)

	before := queue.PendingCount()
	if before == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	ctx := context.Background()
	for queue.HasDue(time.Now().Unix()) && !invalidSession {
		prev := queue.PendingCount()
		queue.RetryQueuedScrobbles(ctx)
		if queue.PendingCount() == prev {
			break
		}
	}

	after := queue.PendingCount()
	fmt.Printf("Submitted %d scrobble(s), %d still pending.\n", before-after, after)

	if invalidSession {
		authState.ClearSession()
		return fmt.Errorf("Last.fm rejected the session. Run 'scrobbled auth' to re-authenticate")
	}
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	queue := scrobbler.NewQueue(store, nil, 0, nil, zerolog.Nop())
	count := queue.PendingCount()
	queue.ClearAll()

	fmt.Printf("Discarded %d pending scrobble(s).\n", count)
	return nil
}
