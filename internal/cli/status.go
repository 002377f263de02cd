package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether a MicroClaw daemon is reachable",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.Webhook.Enabled {
		cmd.Println("Webhook surface is disabled; daemon health is not observable remotely.")
		return nil
	}

	host := cfg.Webhook.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d/health", host, cfg.Webhook.Port)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		cmd.Printf("Daemon not reachable at %s: %v\n", url, err)
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Status        string `json:"status"`
		UptimeSeconds int    `json:"uptime_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("unexpected health response: %w", err)
	}

	cmd.Printf("Daemon: %s\n", body.Status)
	cmd.Printf("Uptime: %s\n", (time.Duration(body.UptimeSeconds) * time.Second).String())
	return nil
}
