package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateResetPolicy checks session reset mode and its parameters
func (v *Validator) ValidateResetPolicy(mode string, resetHour, idleMinutes int) error {
	switch mode {
	case "daily":
		if resetHour < 0 || resetHour > 23 {
			return fmt.Errorf("reset_hour must be between 0 and 23, got %d", resetHour)
		}
	case "idle":
		if idleMinutes <= 0 {
			return fmt.Errorf("idle_minutes must be positive, got %d", idleMinutes)
		}
	case "manual":
	default:
		return fmt.Errorf("unknown reset_mode %q (expected daily, idle, or manual)", mode)
	}
	return nil
}

// ValidateAgent checks agent loop parameters
func (v *Validator) ValidateAgent(a AgentConfig) error {
	if a.Model == "" {
		return fmt.Errorf("model is required")
	}
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", a.MaxSteps)
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}
	if a.ContextLimit <= 0 {
		return fmt.Errorf("context_limit must be positive, got %d", a.ContextLimit)
	}
	if a.CompressionThreshold <= 0 || a.CompressionThreshold > 1 {
		return fmt.Errorf("compression_threshold must be in (0, 1], got %v", a.CompressionThreshold)
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", a.Temperature)
	}
	switch a.DMScope {
	case "main", "per-peer", "per-channel-peer":
	default:
		return fmt.Errorf("unknown dm_scope %q (expected main, per-peer, or per-channel-peer)", a.DMScope)
	}
	return nil
}

// ValidateAPIKey performs a basic shape check on provider API keys
func (v *Validator) ValidateAPIKey(key, provider string) error {
	if key == "" {
		return fmt.Errorf("api_key is required")
	}
	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("anthropic api_key should start with sk-ant-")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("openai api_key should start with sk-")
		}
	default:
		return fmt.Errorf("unknown provider %q (expected anthropic or openai)", provider)
	}
	return nil
}
