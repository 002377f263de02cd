package provider

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StanleyChanH/MicroClaw/pkg/session"
)

func TestNewProvider(t *testing.T) {
	p, err := New(Profile{ID: "a", Provider: "anthropic", APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = New(Profile{ID: "o", Provider: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = New(Profile{ID: "g", Provider: "gemini", APIKey: "key"})
	assert.Error(t, err)
}

func TestNewFromProfilesPicksHighestPriority(t *testing.T) {
	p, err := NewFromProfiles([]Profile{
		{ID: "backup", Provider: "openai", APIKey: "sk-test", Priority: 1},
		{ID: "primary", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = NewFromProfiles(nil)
	assert.Error(t, err)
}

func TestOpenAIToolResultKeepsCallID(t *testing.T) {
	msgs, err := buildOpenAIMessages(Request{
		SystemPrompt: "You are helpful.",
		Messages: []session.Message{
			session.NewUserMessage("weather in Paris?"),
			session.NewAssistantMessage("", []session.ToolCall{{
				ID:        "call_abc123",
				Name:      "get_weather",
				Arguments: map[string]interface{}{"city": "Paris"},
			}}),
			session.NewToolResultMessage(session.ToolResult{
				ToolCallID: "call_abc123",
				Content:    "Paris: Sunny, 22C",
			}),
		},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	data, err := json.Marshal(msgs[3])
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "tool", raw["role"])
	assert.Equal(t, "call_abc123", raw["tool_call_id"])
	assert.Equal(t, "Paris: Sunny, 22C", raw["content"])
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection reset", errors.New("read tcp: ECONNRESET"), true},
		{"timeout", errors.New("dial: ETIMEDOUT"), true},
		{"rate limited status", errors.New("status 429 too many requests"), true},
		{"rate limit text", errors.New("rate limit exceeded"), true},
		{"server error", errors.New("unexpected status 500"), true},
		{"bad gateway", errors.New("502 Bad Gateway"), true},
		{"unavailable", errors.New("503 Service Unavailable"), true},
		{"gateway timeout", errors.New("504 upstream timeout"), true},
		{"auth failure", errors.New("status 401 unauthorized"), false},
		{"bad request", errors.New("status 400 invalid model"), false},
		{"generic", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}
