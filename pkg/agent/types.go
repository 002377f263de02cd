package agent

import (
	"encoding/json"

	"github.com/StanleyChanH/MicroClaw/pkg/provider"
	"github.com/StanleyChanH/MicroClaw/pkg/session"
)

// Config carries the per-turn knobs for the loop. Zero values are
// replaced with the defaults below.
type Config struct {
	Model                string
	SystemPrompt         string
	Temperature          float64
	MaxTokens            int
	MaxSteps             int
	MaxRetries           int
	ContextLimit         int
	CompressionThreshold float64
}

const (
	defaultMaxTokens            = 4096
	defaultMaxSteps             = 10
	defaultMaxRetries           = 3
	defaultContextLimit         = 128000
	defaultCompressionThreshold = 0.8
)

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = defaultMaxSteps
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.ContextLimit <= 0 {
		c.ContextLimit = defaultContextLimit
	}
	if c.CompressionThreshold <= 0 || c.CompressionThreshold > 1 {
		c.CompressionThreshold = defaultCompressionThreshold
	}
	return c
}

// RunOptions customizes a single turn.
type RunOptions struct {
	// ContextText is injected into the system prompt ahead of the
	// conversation, typically the rendered workspace context.
	ContextText string
}

// Result is the outcome of one turn.
type Result struct {
	// Text is the final assistant reply, or the best partial text
	// when the turn aborted.
	Text string
	// Steps is the number of model calls made.
	Steps int
	// ToolCallCount counts tool executions across all steps.
	ToolCallCount int
	// Usage aggregates token usage across all model calls.
	Usage provider.Usage
	// Aborted is set when the step budget ran out before the model
	// produced a plain reply. Persisted tool results are retained.
	Aborted bool
}

// EstimateTokens approximates the token count of a message history
// using a bytes-to-tokens ratio of roughly four to one. Tool call
// names and arguments count toward the estimate.
func EstimateTokens(messages []session.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			chars += len(tc.Name)
			if tc.Arguments != nil {
				if raw, err := json.Marshal(tc.Arguments); err == nil {
					chars += len(raw)
				}
			}
		}
	}
	return (chars + 3) / 4
}
