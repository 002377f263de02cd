package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with support for files and env vars
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()

	v.SetConfigName("microclaw")
	v.SetConfigType("json")

	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".microclaw"))
	}
	v.AddConfigPath("/etc/microclaw")

	v.SetEnvPrefix("MICROCLAW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// Load reads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file found, defaults plus env vars apply
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.applyDerivedDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.applyDerivedDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDerivedDefaults fills paths that depend on the user's home directory
func (l *Loader) applyDerivedDefaults(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(home, ".microclaw", "data")
	}
	if cfg.WorkspacePath == "" {
		cfg.WorkspacePath = filepath.Join(home, ".microclaw", "workspace")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(home, ".microclaw", "logs", "microclaw.log")
	}
}

// ConfigFileUsed returns the path of the config file that was loaded
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}
