package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/StanleyChanH/MicroClaw/pkg/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage stored sessions",
}

var sessionListActiveMinutes int

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently active first",
	RunE:  runSessionList,
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <session-key>",
	Short: "Archive a session's transcript and start it fresh",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionReset,
}

func init() {
	sessionListCmd.Flags().IntVar(&sessionListActiveMinutes, "active-minutes", 0,
		"only show sessions active within the last N minutes (0 shows all)")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionResetCmd)
	rootCmd.AddCommand(sessionCmd)
}

func openStore() (*session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	policy := session.ResetPolicy{
		Mode:        session.ResetMode(cfg.Session.ResetMode),
		AtHour:      cfg.Session.ResetHour,
		IdleMinutes: cfg.Session.IdleMinutes,
	}
	return session.NewStore(filepath.Join(cfg.DataDir, "sessions"), policy)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	window := time.Duration(sessionListActiveMinutes) * time.Minute
	keys := store.List(window)
	if len(keys) == 0 {
		cmd.Println("No sessions.")
		return nil
	}

	for _, key := range keys {
		meta, ok := store.Info(key)
		if !ok {
			cmd.Println(key)
			continue
		}
		cmd.Printf("%-40s last active %s, %d in / %d out tokens\n",
			key,
			meta.LastActiveAt.Format("2006-01-02 15:04"),
			meta.InputTokens,
			meta.OutputTokens,
		)
	}
	return nil
}

func runSessionReset(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	key := args[0]
	if _, err := store.Reset(context.Background(), key); err != nil {
		return fmt.Errorf("resetting session %s: %w", key, err)
	}
	cmd.Printf("Session %s reset.\n", key)
	return nil
}
