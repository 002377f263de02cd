package cli

import (
	"github.com/spf13/cobra"

	"github.com/StanleyChanH/MicroClaw/internal/config"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "microclaw",
	Short: "MicroClaw - conversational agent orchestrator",
	Long: `MicroClaw runs a persistent conversational agent: sessions with
daily or idle reset, a tool-calling agent loop with context compression,
and a message gateway that serializes turns per session.`,
	Version: version,
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.microclaw/microclaw.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// loadConfig resolves configuration from the --config flag or the
// default search paths, applying the --log-level override.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()

	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = loader.LoadFromFile(cfgFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
