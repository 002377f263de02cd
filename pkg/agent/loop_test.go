package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StanleyChanH/MicroClaw/pkg/provider"
	"github.com/StanleyChanH/MicroClaw/pkg/session"
	"github.com/StanleyChanH/MicroClaw/pkg/tool"
)

// scriptedProvider replays canned responses and records every request
// it receives.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*provider.Response
	errs      []error
	requests  []provider.Request
}

func (p *scriptedProvider) Complete(_ context.Context, req provider.Request) (*provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	idx := len(p.requests) - 1
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx >= len(p.responses) {
		return &provider.Response{Content: "out of script"}, nil
	}
	return p.responses[idx], nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func textResponse(content string) *provider.Response {
	return &provider.Response{
		Content: content,
		Usage:   provider.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolCallResponse(content string, calls ...session.ToolCall) *provider.Response {
	return &provider.Response{
		Content:   content,
		ToolCalls: calls,
		Usage:     provider.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func setupTestLoop(t *testing.T, p provider.Provider, cfg Config) (*Loop, *session.Store) {
	t.Helper()
	store, err := session.NewStore(t.TempDir(), session.ResetPolicy{Mode: session.ResetManual})
	require.NoError(t, err)

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(tool.Definition{
		Name:        "get_weather",
		Description: "Look up the weather for a city",
		Parameters: []tool.Parameter{
			{Name: "city", Type: "string", Description: "City name", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			return fmt.Sprintf("Sunny in %v", args["city"]), nil
		},
	}))
	require.NoError(t, registry.Register(tool.Definition{
		Name:        "always_fails",
		Description: "A tool that always fails",
		Parameters:  []tool.Parameter{},
		Handler: func(_ context.Context, _ map[string]interface{}) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}))

	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	return NewLoop(store, registry, p, cfg), store
}

func TestRunPlainReply(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{textResponse("Hello there")}}
	loop, store := setupTestLoop(t, p, Config{})

	result, err := loop.Run(context.Background(), "agent:main:main", "hi", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", result.Text)
	assert.Equal(t, 1, result.Steps)
	assert.False(t, result.Aborted)
	assert.Equal(t, int64(10), result.Usage.InputTokens)

	sess, err := store.Get(context.Background(), "agent:main:main")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, session.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, sess.Messages[1].Role)
}

func TestRunEmptyCompletionEndsTurn(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{textResponse("")}}
	loop, store := setupTestLoop(t, p, Config{})

	result, err := loop.Run(context.Background(), "agent:main:main", "hi", RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Text)
	assert.Equal(t, 1, result.Steps)
	assert.False(t, result.Aborted)

	// Only the user message lands; there is no empty assistant record.
	sess, err := store.Get(context.Background(), "agent:main:main")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, session.RoleUser, sess.Messages[0].Role)
}

func TestRunEmptyCompletionKeepsPriorStepText(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolCallResponse("Checking the weather.", session.ToolCall{
			ID:        "call_1",
			Name:      "get_weather",
			Arguments: map[string]interface{}{"city": "Tokyo"},
		}),
		textResponse(""),
	}}
	loop, store := setupTestLoop(t, p, Config{})

	result, err := loop.Run(context.Background(), "agent:main:main", "weather?", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Checking the weather.", result.Text)
	assert.Equal(t, 2, result.Steps)

	// The completed tool step stays on disk.
	sess, err := store.Get(context.Background(), "agent:main:main")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, session.RoleTool, sess.Messages[2].Role)
}

func TestRunToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolCallResponse("", session.ToolCall{
			ID:        "call_1",
			Name:      "get_weather",
			Arguments: map[string]interface{}{"city": "Tokyo"},
		}),
		toolCallResponse("", session.ToolCall{
			ID:        "call_2",
			Name:      "get_weather",
			Arguments: map[string]interface{}{"city": "Osaka"},
		}),
		textResponse("Both cities are sunny."),
	}}
	loop, store := setupTestLoop(t, p, Config{})

	result, err := loop.Run(context.Background(), "agent:main:main", "weather in Tokyo and Osaka?", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Both cities are sunny.", result.Text)
	assert.Equal(t, 3, result.Steps)
	assert.Equal(t, 2, result.ToolCallCount)
	assert.False(t, result.Aborted)

	sess, err := store.Get(context.Background(), "agent:main:main")
	require.NoError(t, err)
	// user, assistant+call, tool, assistant+call, tool, assistant
	require.Len(t, sess.Messages, 6)

	// Every tool call id is answered exactly once, in order.
	answered := map[string]int{}
	for _, msg := range sess.Messages {
		if msg.Role == session.RoleTool {
			answered[msg.ToolCallID]++
		}
	}
	assert.Equal(t, map[string]int{"call_1": 1, "call_2": 1}, answered)
	assert.Contains(t, sess.Messages[2].Content, "Sunny in Tokyo")
	assert.Contains(t, sess.Messages[4].Content, "Sunny in Osaka")
}

func TestRunToolFailureFedBack(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolCallResponse("", session.ToolCall{
			ID:        "call_1",
			Name:      "always_fails",
			Arguments: map[string]interface{}{},
		}),
		textResponse("The tool could not complete."),
	}}
	loop, store := setupTestLoop(t, p, Config{})

	result, err := loop.Run(context.Background(), "agent:main:main", "try it", RunOptions{})
	require.NoError(t, err)
	assert.False(t, result.Aborted)

	sess, err := store.Get(context.Background(), "agent:main:main")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 4)
	assert.Equal(t, session.RoleTool, sess.Messages[2].Role)
	assert.Contains(t, sess.Messages[2].Content, "Error:")
}

func TestRunUnknownToolFedBack(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolCallResponse("", session.ToolCall{
			ID:        "call_1",
			Name:      "no_such_tool",
			Arguments: map[string]interface{}{},
		}),
		textResponse("ok"),
	}}
	loop, store := setupTestLoop(t, p, Config{})

	_, err := loop.Run(context.Background(), "agent:main:main", "go", RunOptions{})
	require.NoError(t, err)

	sess, err := store.Get(context.Background(), "agent:main:main")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 4)
	assert.Contains(t, sess.Messages[2].Content, "no_such_tool")
}

func TestRunAbortsOnStepBudget(t *testing.T) {
	loopingCall := toolCallResponse("still working", session.ToolCall{
		ID:        "call_x",
		Name:      "get_weather",
		Arguments: map[string]interface{}{"city": "Loop"},
	})
	p := &scriptedProvider{responses: []*provider.Response{
		loopingCall, loopingCall, loopingCall, loopingCall,
	}}
	loop, store := setupTestLoop(t, p, Config{MaxSteps: 3})

	result, err := loop.Run(context.Background(), "agent:main:main", "never stop", RunOptions{})
	require.NoError(t, err)

	assert.True(t, result.Aborted)
	assert.Equal(t, 3, result.Steps)
	assert.Equal(t, "still working", result.Text)
	assert.Equal(t, 3, p.callCount())

	// Completed steps stay persisted even though the turn aborted.
	sess, err := store.Get(context.Background(), "agent:main:main")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 7)
}

func TestRunRetriesTransientErrors(t *testing.T) {
	p := &scriptedProvider{
		errs:      []error{errors.New("rate limit exceeded (429)")},
		responses: []*provider.Response{nil, textResponse("recovered")},
	}
	loop, _ := setupTestLoop(t, p, Config{MaxRetries: 1})

	result, err := loop.Run(context.Background(), "agent:main:main", "hi", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, 2, p.callCount())
}

func TestRunFailsFastOnPermanentErrors(t *testing.T) {
	p := &scriptedProvider{
		errs: []error{errors.New("invalid api key")},
	}
	loop, _ := setupTestLoop(t, p, Config{MaxRetries: 3})

	_, err := loop.Run(context.Background(), "agent:main:main", "hi", RunOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, p.callCount())
}

func TestRunInjectsContextText(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{textResponse("ok")}}
	loop, _ := setupTestLoop(t, p, Config{SystemPrompt: "You are helpful."})

	_, err := loop.Run(context.Background(), "agent:main:main", "hi", RunOptions{
		ContextText: "# Workspace Context\n\nRemember the user likes brevity.",
	})
	require.NoError(t, err)

	require.Equal(t, 1, p.callCount())
	prompt := p.requests[0].SystemPrompt
	assert.Contains(t, prompt, "You are helpful.")
	assert.Contains(t, prompt, "Workspace Context")
}

// TestToolProtocolInvariantRandomized drives the loop with randomized
// tool-call scripts and checks the persisted transcript: every tool
// call is answered exactly once, results immediately follow their
// call, and no tool result appears without one.
func TestToolProtocolInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 10; round++ {
		steps := 1 + rng.Intn(4)
		var responses []*provider.Response
		callSeq := 0
		for i := 0; i < steps; i++ {
			calls := make([]session.ToolCall, 1+rng.Intn(3))
			for j := range calls {
				callSeq++
				calls[j] = session.ToolCall{
					ID:        fmt.Sprintf("call_%d", callSeq),
					Name:      "get_weather",
					Arguments: map[string]interface{}{"city": fmt.Sprintf("city-%d", callSeq)},
				}
			}
			responses = append(responses, toolCallResponse("", calls...))
		}
		responses = append(responses, textResponse("done"))

		p := &scriptedProvider{responses: responses}
		loop, store := setupTestLoop(t, p, Config{MaxSteps: 10})

		result, err := loop.Run(context.Background(), "agent:main:main", "go", RunOptions{})
		require.NoError(t, err)
		assert.False(t, result.Aborted)

		sess, err := store.Get(context.Background(), "agent:main:main")
		require.NoError(t, err)

		pending := map[string]bool{}
		answered := map[string]int{}
		for _, msg := range sess.Messages {
			switch msg.Role {
			case session.RoleTool:
				require.True(t, pending[msg.ToolCallID],
					"tool result %s has no pending call", msg.ToolCallID)
				answered[msg.ToolCallID]++
				delete(pending, msg.ToolCallID)
			default:
				require.Empty(t, pending, "tool calls left unanswered before %s message", msg.Role)
				for _, tc := range msg.ToolCalls {
					pending[tc.ID] = true
				}
			}
		}
		require.Empty(t, pending, "tool calls left unanswered at end of transcript")
		for id, n := range answered {
			assert.Equal(t, 1, n, "tool call %s answered %d times", id, n)
		}
		assert.Equal(t, callSeq, len(answered))
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []session.Message{
		session.NewUserMessage("abcd"),
		session.NewAssistantMessage("efgh", nil),
	}
	assert.Equal(t, 2, EstimateTokens(msgs))

	withCall := []session.Message{
		session.NewAssistantMessage("", []session.ToolCall{
			{ID: "c1", Name: "tool", Arguments: map[string]interface{}{"a": "b"}},
		}),
	}
	assert.Greater(t, EstimateTokens(withCall), 0)
}

func TestRunStreamEmitsChunks(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolCallResponse("", session.ToolCall{
			ID:        "call_1",
			Name:      "get_weather",
			Arguments: map[string]interface{}{"city": "Kyoto"},
		}),
		textResponse("Sunny day in Kyoto."),
	}}
	loop, _ := setupTestLoop(t, p, Config{})

	stream := loop.RunStream(context.Background(), "agent:main:main", "weather?", RunOptions{})

	var types []ChunkType
	var final *Result
	for chunk := range stream.C {
		types = append(types, chunk.Type)
		if chunk.Type == ChunkDone {
			final = chunk.Result
		}
		if chunk.Type == ChunkError {
			t.Fatalf("unexpected error chunk: %v", chunk.Err)
		}
	}

	assert.Equal(t, []ChunkType{ChunkToolCall, ChunkToolResult, ChunkText, ChunkDone}, types)
	require.NotNil(t, final)
	assert.Equal(t, "Sunny day in Kyoto.", final.Text)
}

func TestRunStreamErrorChunk(t *testing.T) {
	p := &scriptedProvider{errs: []error{errors.New("invalid request")}}
	loop, _ := setupTestLoop(t, p, Config{MaxRetries: 1})

	stream := loop.RunStream(context.Background(), "agent:main:main", "hi", RunOptions{})

	var sawError bool
	for chunk := range stream.C {
		if chunk.Type == ChunkError {
			sawError = true
			assert.Error(t, chunk.Err)
		}
	}
	assert.True(t, sawError)
}
