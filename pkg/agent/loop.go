package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/StanleyChanH/MicroClaw/internal/observability"
	"github.com/StanleyChanH/MicroClaw/internal/tracing"
	"github.com/StanleyChanH/MicroClaw/pkg/provider"
	"github.com/StanleyChanH/MicroClaw/pkg/session"
	"github.com/StanleyChanH/MicroClaw/pkg/tool"
)

// Loop runs agent turns against a session store, a tool registry, and
// a model provider. It is safe for concurrent use across different
// session keys; callers serialize turns on the same key through the
// command queue.
type Loop struct {
	store    *session.Store
	registry *tool.Registry
	provider provider.Provider
	config   Config
}

// NewLoop wires a loop. The registry may be nil, in which case the
// model is called without any tools.
func NewLoop(store *session.Store, registry *tool.Registry, p provider.Provider, config Config) *Loop {
	observability.EnsureRegistered()
	return &Loop{
		store:    store,
		registry: registry,
		provider: p,
		config:   config.withDefaults(),
	}
}

// Config returns the effective configuration after defaults.
func (l *Loop) Config() Config {
	return l.config
}

// Run executes one full turn for the given session key: the user text
// is appended to the transcript, then the loop alternates model calls
// and tool executions until the model answers without tool calls or
// the step budget is spent.
func (l *Loop) Run(ctx context.Context, key string, userText string, opts RunOptions) (*Result, error) {
	return l.runTurn(ctx, key, userText, opts, nil)
}

func (l *Loop) runTurn(ctx context.Context, key string, userText string, opts RunOptions, observer stepObserver) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"microclaw.agent",
		"agent.run",
		attribute.String("session_key", key),
		attribute.String("model", l.config.Model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	sess, err := l.store.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("loading session: %w", err)
	}

	userMsg := session.NewUserMessage(userText)
	if err := l.store.Append(ctx, key, userMsg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	start := time.Now()
	history := append(sess.Messages, userMsg)
	result, err := l.runSteps(ctx, key, history, opts, observer)
	if err != nil {
		observability.RecordTurn("error", l.provider.Name(), time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	status := "completed"
	if result.Aborted {
		status = "aborted"
	}
	observability.RecordTurn(status, l.provider.Name(), time.Since(start))
	logger.Info().
		Str("session_key", key).
		Int("steps", result.Steps).
		Int("tool_calls", result.ToolCallCount).
		Bool("aborted", result.Aborted).
		Msg("Turn completed")

	return result, nil
}

// stepObserver receives loop progress. Used by RunStream; nil in the
// blocking path.
type stepObserver interface {
	onText(text string)
	onToolCall(call session.ToolCall)
	onToolResult(result session.ToolResult)
}

func (l *Loop) runSteps(ctx context.Context, key string, history []session.Message, opts RunOptions, observer stepObserver) (*Result, error) {
	result := &Result{}
	systemPrompt := l.buildSystemPrompt(opts)

	var schemas []tool.Schema
	if l.registry != nil {
		schemas = l.registry.Schemas()
	}

	for step := 0; step < l.config.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		compacted, err := l.compressIfNeeded(ctx, key, history)
		if err != nil {
			log.Warn().Err(err).Str("session_key", key).Msg("Context compression failed, continuing with full history")
		} else {
			history = compacted
		}

		observability.SetPromptTokenEstimate(EstimateTokens(history))

		resp, err := l.callWithRetry(ctx, provider.Request{
			Model:        l.config.Model,
			SystemPrompt: systemPrompt,
			Messages:     history,
			Tools:        schemas,
			Temperature:  l.config.Temperature,
			MaxTokens:    l.config.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("model call failed after retries: %w", err)
		}

		result.Steps++
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens
		l.store.AddUsage(key, resp.Usage.InputTokens, resp.Usage.OutputTokens)

		if resp.Content != "" {
			result.Text = resp.Content
			if observer != nil {
				observer.onText(resp.Content)
			}
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				// Providers can legitimately return an empty final
				// completion, e.g. on a max-tokens cutoff. Nothing to
				// persist; any earlier step text is already in result.
				log.Warn().Str("session_key", key).Msg("Empty completion, ending turn")
				return result, nil
			}
			assistant := session.NewAssistantMessage(resp.Content, nil)
			if err := l.store.Append(ctx, key, assistant); err != nil {
				return nil, fmt.Errorf("persisting assistant message: %w", err)
			}
			return result, nil
		}

		assistant := session.NewAssistantMessage(resp.Content, resp.ToolCalls)
		toolMsgs := l.executeToolCalls(ctx, resp.ToolCalls, observer)
		result.ToolCallCount += len(resp.ToolCalls)

		if err := ctx.Err(); err != nil {
			// The step did not complete; persist nothing from it.
			return nil, err
		}

		batch := append([]session.Message{assistant}, toolMsgs...)
		if err := l.store.AppendAll(ctx, key, batch...); err != nil {
			return nil, fmt.Errorf("persisting step: %w", err)
		}
		history = append(history, batch...)
	}

	result.Aborted = true
	log.Warn().
		Str("session_key", key).
		Int("max_steps", l.config.MaxSteps).
		Msg("Turn aborted, step budget exhausted")
	return result, nil
}

func (l *Loop) buildSystemPrompt(opts RunOptions) string {
	prompt := l.config.SystemPrompt
	if opts.ContextText != "" {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += opts.ContextText
	}
	return prompt
}

// executeToolCalls runs the requested calls sequentially in emission
// order. Every tool_call_id gets exactly one result; failures become
// error results rather than aborting the step.
func (l *Loop) executeToolCalls(ctx context.Context, calls []session.ToolCall, observer stepObserver) []session.Message {
	messages := make([]session.Message, 0, len(calls))
	for _, call := range calls {
		if observer != nil {
			observer.onToolCall(call)
		}

		var res tool.Result
		if l.registry == nil {
			res = tool.Result{Content: fmt.Sprintf("Tool not found: %s", call.Name), IsError: true}
		} else {
			res = l.registry.Execute(ctx, call.Name, call.Arguments)
		}

		toolResult := session.ToolResult{
			ToolCallID: call.ID,
			Content:    res.Content,
			IsError:    res.IsError,
		}
		if observer != nil {
			observer.onToolResult(toolResult)
		}
		messages = append(messages, session.NewToolResultMessage(toolResult))
	}
	return messages
}

// callWithRetry retries transient provider failures with exponential
// backoff starting at one second.
func (l *Loop) callWithRetry(ctx context.Context, req provider.Request) (*provider.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= l.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			observability.RecordProviderRetry(l.provider.Name())
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Retrying model call")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := l.provider.Complete(ctx, req)
		observability.RecordModelCall(l.provider.Name(), err == nil)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !provider.IsRetryableError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}
