package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kkyr/scrobbled/internal/auth"
)

var suspendCmd = &cobra.Command{
	Use:   "suspend",
	Short: "Pause scrobbling without stopping the daemon",
	Long: `Pause all Last.fm submissions.

While suspended, the daemon keeps tracking playback; tracks that reach
the scrobble threshold are held and submitted after 'scrobbled resume'
at the next track boundary. Nothing is lost.`,
	RunE: runSuspend,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume scrobbling after a suspend",
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(suspendCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runSuspend(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	authState := auth.Load(store, zerolog.Nop())
	authState.Suspend()

	fmt.Println("Scrobbling suspended.")
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	authState := auth.Load(store, zerolog.Nop())
	authState.ClearSuspension()

	fmt.Println("Scrobbling resumed.")
	return nil
}
