// Package provider abstracts model backends behind one interface so the
// agent loop never touches SDK types directly.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/StanleyChanH/MicroClaw/pkg/session"
	"github.com/StanleyChanH/MicroClaw/pkg/tool"
)

// Request contains the parameters for one model call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []session.Message
	Tools        []tool.Schema
	Temperature  float64
	MaxTokens    int
}

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the logical result of one model call: final text plus zero
// or more tool calls.
type Response struct {
	Content   string
	ToolCalls []session.ToolCall
	Usage     Usage
}

// Provider is a model backend.
type Provider interface {
	// Complete makes one blocking model call.
	Complete(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// Profile represents credentials for one model backend.
type Profile struct {
	ID       string `json:"id"`
	Provider string `json:"provider"` // anthropic, openai
	APIKey   string `json:"api_key"`
	Priority int    `json:"priority"`
}

// New creates a provider from a profile.
func New(profile Profile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropic(profile.APIKey), nil
	case "openai":
		return NewOpenAI(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// NewFromProfiles creates a provider from the highest-priority profile.
func NewFromProfiles(profiles []Profile) (Provider, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no provider profiles configured")
	}
	sorted := make([]Profile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return New(sorted[0])
}

// compactionPrefix marks summaries of compressed history when rendering
// them back to a model.
const compactionPrefix = "[Previous conversation summary]\n"

// IsRetryableError checks if a model call error should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") {
		return true
	}
	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}
	// Server errors
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}
	return false
}
