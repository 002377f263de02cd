package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StanleyChanH/MicroClaw/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the MicroClaw daemon",
	Long: `Start the MicroClaw daemon in the foreground. The daemon serves the
webhook channel, runs scheduled cron prompts, and handles messages
until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("assembling daemon: %w", err)
	}

	return d.Run(context.Background())
}
