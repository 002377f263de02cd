package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main MicroClaw configuration
type Config struct {
	// Agent behavior
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// AI provider profiles
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Session lifecycle
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Webhook channel surface
	Webhook WebhookConfig `json:"webhook" mapstructure:"webhook"`

	// Data directory (sessions, cron registry, logs)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace path (SOUL.md, USER.md, MEMORY.md, daily notes)
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// AgentConfig configures the agent loop
type AgentConfig struct {
	Model                string  `json:"model" mapstructure:"model"`
	Temperature          float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens            int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxSteps             int     `json:"max_steps" mapstructure:"max_steps"`
	MaxRetries           int     `json:"max_retries" mapstructure:"max_retries"`
	SystemPrompt         string  `json:"system_prompt" mapstructure:"system_prompt"`
	ContextLimit         int     `json:"context_limit" mapstructure:"context_limit"`
	CompressionThreshold float64 `json:"compression_threshold" mapstructure:"compression_threshold"`
	// DMScope controls session key derivation for direct messages:
	// main, per-peer, per-channel-peer
	DMScope string `json:"dm_scope" mapstructure:"dm_scope"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	ResetMode   string `json:"reset_mode" mapstructure:"reset_mode"` // daily, idle, manual
	ResetHour   int    `json:"reset_hour" mapstructure:"reset_hour"` // local hour for daily reset
	IdleMinutes int    `json:"idle_minutes" mapstructure:"idle_minutes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// WebhookConfig holds webhook server configuration
type WebhookConfig struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	Port               int    `json:"port" mapstructure:"port"`
	Host               string `json:"host" mapstructure:"host"`
	Timeout            int    `json:"timeout" mapstructure:"timeout"` // seconds
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:                "claude-sonnet-4",
			Temperature:          0.7,
			MaxTokens:            4096,
			MaxSteps:             10,
			MaxRetries:           3,
			SystemPrompt:         "You are a helpful AI assistant.",
			ContextLimit:         128000,
			CompressionThreshold: 0.8,
			DMScope:              "main",
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Session: SessionConfig{
			ResetMode:   "daily",
			ResetHour:   4,
			IdleMinutes: 0,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  false,
		},
		Webhook: WebhookConfig{
			Enabled:            false,
			Port:               8080,
			Host:               "0.0.0.0",
			Timeout:            30,
			RateLimitPerMinute: 100,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateResetPolicy(c.Session.ResetMode, c.Session.ResetHour, c.Session.IdleMinutes); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if err := v.ValidateAgent(c.Agent); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	for _, profile := range c.AI.Profiles {
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			return fmt.Errorf("ai profile %q: %w", profile.ID, err)
		}
	}

	if c.Webhook.Enabled {
		if c.Webhook.Port <= 0 || c.Webhook.Port > 65535 {
			return fmt.Errorf("webhook: invalid port %d", c.Webhook.Port)
		}
	}

	return nil
}
