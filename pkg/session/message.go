package session

import (
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleCompaction marks a synthetic summary that replaced a compressed
	// prefix of the conversation. Rendered to providers as a system message.
	RoleCompaction Role = "compaction"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleCompaction:
		return true
	}
	return false
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult is the outcome of executing a single tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message represents a single conversation turn
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// NewUserMessage builds a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage builds an assistant message, optionally carrying tool calls.
func NewAssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now(), ToolCalls: toolCalls}
}

// NewToolResultMessage builds a tool message answering one tool call.
func NewToolResultMessage(result ToolResult) Message {
	content := result.Content
	if result.IsError {
		content = "Error: " + content
	}
	return Message{Role: RoleTool, Content: content, Timestamp: time.Now(), ToolCallID: result.ToolCallID}
}

// NewCompactionMessage builds the synthetic summary that replaces a
// compressed conversation prefix.
func NewCompactionMessage(summary string) Message {
	return Message{Role: RoleCompaction, Content: summary, Timestamp: time.Now()}
}

// Validate checks structural constraints on the message.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("unknown role %q", m.Role)
	}
	switch m.Role {
	case RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool message requires tool_call_id")
		}
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("tool message cannot carry tool_calls")
		}
	case RoleAssistant:
		if m.Content == "" && len(m.ToolCalls) == 0 {
			return fmt.Errorf("assistant message requires content or tool_calls")
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == "" || tc.Name == "" {
				return fmt.Errorf("tool call requires id and name")
			}
		}
	default:
		if m.Content == "" {
			return fmt.Errorf("%s message requires content", m.Role)
		}
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("%s message cannot carry tool_calls", m.Role)
		}
	}
	if m.Role != RoleTool && m.ToolCallID != "" {
		return fmt.Errorf("tool_call_id only valid on tool messages")
	}
	return nil
}
