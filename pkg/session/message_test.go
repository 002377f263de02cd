package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"user", NewUserMessage("hi"), false},
		{"assistant text", NewAssistantMessage("hello", nil), false},
		{"assistant tool calls only", NewAssistantMessage("", []ToolCall{{ID: "1", Name: "x"}}), false},
		{"tool result", NewToolResultMessage(ToolResult{ToolCallID: "1", Content: "ok"}), false},
		{"compaction", NewCompactionMessage("summary"), false},
		{"unknown role", Message{Role: "oracle", Content: "hm"}, true},
		{"empty user", Message{Role: RoleUser}, true},
		{"empty assistant", Message{Role: RoleAssistant}, true},
		{"tool without id", Message{Role: RoleTool, Content: "ok"}, true},
		{"tool with tool_calls", Message{Role: RoleTool, Content: "ok", ToolCallID: "1", ToolCalls: []ToolCall{{ID: "2", Name: "y"}}}, true},
		{"user with tool_calls", Message{Role: RoleUser, Content: "hi", ToolCalls: []ToolCall{{ID: "1", Name: "x"}}}, true},
		{"tool call missing name", Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1"}}}, true},
		{"tool_call_id on user", Message{Role: RoleUser, Content: "hi", ToolCallID: "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToolResultErrorPrefix(t *testing.T) {
	msg := NewToolResultMessage(ToolResult{ToolCallID: "1", Content: "boom", IsError: true})
	assert.Equal(t, "Error: boom", msg.Content)
}

func TestMessageJSONShape(t *testing.T) {
	msg := NewAssistantMessage("checking", []ToolCall{{
		ID:        "tc1",
		Name:      "get_weather",
		Arguments: map[string]interface{}{"city": "Paris"},
	}})

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "assistant", raw["role"])
	assert.Contains(t, raw, "tool_calls")
	assert.NotContains(t, raw, "tool_call_id")

	plain, err := json.Marshal(NewUserMessage("hi"))
	require.NoError(t, err)
	var rawPlain map[string]interface{}
	require.NoError(t, json.Unmarshal(plain, &rawPlain))
	assert.NotContains(t, rawPlain, "tool_calls")
}
