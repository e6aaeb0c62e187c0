package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kkyr/scrobbled/internal/auth"
	"github.com/kkyr/scrobbled/internal/config"
	"github.com/kkyr/scrobbled/internal/kv"
	"github.com/kkyr/scrobbled/internal/scrobbler"
	"github.com/kkyr/scrobbled/pkg/lastfm"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate with Last.fm",
	Long: `Authenticate with Last.fm to enable scrobbling.

This command will guide you through the Last.fm authentication process:
1. You'll be prompted to enter your Last.fm API key and secret
2. A browser URL will be provided for you to authorize the application
3. After authorization, a session key will be saved to the state database

You can get API credentials from: https://www.last.fm/api/account/create`,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Last.fm Authentication")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("You can get API credentials from: https://www.last.fm/api/account/create")
	fmt.Println()

	if cfg.LastFM.APIKey != "" && cfg.LastFM.APISecret != "" {
		fmt.Printf("Found existing API credentials.\n")
		fmt.Printf("API Key: %s\n", cfg.LastFM.APIKey)
		fmt.Print("\nUse existing credentials? [Y/n]: ")
		response, err := reader.ReadString('\n')
		if err != nil {
			response = "y"
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "" && response != "y" && response != "yes" {
			cfg.LastFM.APIKey = ""
			cfg.LastFM.APISecret = ""
		}
	}

	if cfg.LastFM.APIKey == "" {
		fmt.Print("Enter your Last.fm API Key: ")
		apiKey, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		cfg.LastFM.APIKey = strings.TrimSpace(apiKey)
	}

	if cfg.LastFM.APISecret == "" {
		fmt.Print("Enter your Last.fm API Secret: ")
		apiSecret, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read API secret: %w", err)
		}
		cfg.LastFM.APISecret = strings.TrimSpace(apiSecret)
	}

	if cfg.LastFM.APIKey == "" || cfg.LastFM.APISecret == "" {
		return fmt.Errorf("API key and secret are required")
	}

	client, err := lastfm.NewClient(lastfm.Config{
		APIKey:    cfg.LastFM.APIKey,
		APISecret: cfg.LastFM.APISecret,
	})
	if err != nil {
		return err
	}

	fmt.Println("\nGenerating authentication token...")
	token, err := client.Auth().GetToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to generate auth token: %w", err)
	}

	fmt.Println("\nPlease visit this URL to authorize scrobbled:")
	fmt.Printf("\n  %s\n\n", client.Auth().GetAuthURL(token.Token))
	fmt.Println("After authorizing, press Enter to continue...")
	_, _ = reader.ReadString('\n')

	// The token takes a moment to activate after the user approves it.
	fmt.Println("Retrieving session key...")
	var session *lastfm.Session
	maxRetries := 3
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		session, err = client.Auth().GetSession(ctx, token.Token)
		if err == nil {
			break
		}

		if i < maxRetries-1 {
			fmt.Printf("Failed to retrieve session (attempt %d/%d). Retrying in %v...\n",
				i+1, maxRetries, retryDelay)
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to get session key after %d attempts: %w", maxRetries, err)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := kv.Open(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	authState := auth.Load(store, zerolog.Nop())

	queue := scrobbler.NewQueue(store, nil, 0, nil, zerolog.Nop())
	if discarded := adoptQueue(authState, queue, session.Name); discarded > 0 {
		fmt.Printf("\nDiscarded %d pending scrobble(s) recorded under %s.\n",
			discarded, authState.QueueOwner())
	}

	authState.SetSession(session.Name, session.Key)

	fmt.Printf("\n✓ Authenticated as %s\n", session.Name)
	fmt.Printf("✓ Session key saved to %s\n", cfg.StatePath)
	fmt.Println("\nYou can now use 'scrobbled daemon' to start scrobbling.")

	return nil
}

// adoptQueue discards pending scrobbles recorded under a different account
// before a new session claims the queue. Listens belong to the user who made
// them; submitting them as someone else would misattribute plays.
func adoptQueue(authState *auth.State, queue *scrobbler.Queue, username string) int {
	owner := authState.QueueOwner()
	if owner == "" || owner == username {
		return 0
	}
	discarded := queue.PendingCount()
	if discarded > 0 {
		queue.ClearAll()
	}
	return discarded
}
