package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/StanleyChanH/MicroClaw/pkg/agent"
)

const helpText = `Available commands:
/status  - session info and token usage
/new     - reset this session (alias: /reset)
/context - show what the agent sees
/help    - this message`

// handleCommand intercepts slash commands before the agent loop.
// Unknown commands fall through to the agent so the model can answer
// things like "/remind me tomorrow". Read-only commands reply on the
// fast path; commands that mutate the session run on the key's lane so
// they apply in arrival order behind any queued or running turn.
func (g *Gateway) handleCommand(ctx context.Context, key string, content string) (*Outgoing, bool) {
	if !strings.HasPrefix(content, "/") {
		return nil, false
	}

	switch firstWord(content) {
	case "/help":
		return g.commandReply(key, helpText), true
	case "/status":
		return g.commandReply(key, g.statusText(ctx, key)), true
	case "/new", "/reset":
		return g.resetCommand(ctx, key), true
	case "/context":
		return g.commandReply(key, g.contextSummary(ctx, key)), true
	default:
		return nil, false
	}
}

// resetCommand clears the session from the key's own lane. A reset that
// arrives while a turn is running waits for that turn to finish, so the
// archive never captures half a conversation.
func (g *Gateway) resetCommand(ctx context.Context, key string) *Outgoing {
	_, err := g.queue.EnqueueWithContext(ctx, key, func(taskCtx context.Context) (interface{}, error) {
		return g.store.Reset(taskCtx, key)
	}, nil)
	if err != nil {
		log.Error().Err(err).Str("session_key", key).Msg("Session reset failed")
		return g.commandReply(key, fmt.Sprintf("Reset failed: %v", err))
	}
	return g.commandReply(key, "Session reset. Starting fresh.")
}

func (g *Gateway) commandReply(key, content string) *Outgoing {
	return &Outgoing{SessionKey: key, Content: content, Command: true}
}

func (g *Gateway) statusText(ctx context.Context, key string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s\n", key)

	if meta, ok := g.store.Info(key); ok {
		fmt.Fprintf(&sb, "Created: %s\n", meta.CreatedAt.Format("2006-01-02 15:04"))
		fmt.Fprintf(&sb, "Last active: %s\n", meta.LastActiveAt.Format("2006-01-02 15:04"))
		if !meta.LastResetAt.IsZero() {
			fmt.Fprintf(&sb, "Last reset: %s\n", meta.LastResetAt.Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(&sb, "Tokens: %d in / %d out\n", meta.InputTokens, meta.OutputTokens)
	} else {
		sb.WriteString("No activity yet.\n")
	}

	if sess, err := g.store.Get(ctx, key); err == nil {
		fmt.Fprintf(&sb, "Messages: %d\n", len(sess.Messages))
	}
	fmt.Fprintf(&sb, "Queued: %d", g.queue.QueueSize(key))
	return sb.String()
}

func (g *Gateway) contextSummary(ctx context.Context, key string) string {
	var sb strings.Builder
	sb.WriteString("Context breakdown:\n")

	wsText := g.contextText(key)
	fmt.Fprintf(&sb, "Workspace context: %d chars\n", len(wsText))

	if sess, err := g.store.Get(ctx, key); err == nil {
		fmt.Fprintf(&sb, "History: %d messages, ~%d tokens\n",
			len(sess.Messages), agent.EstimateTokens(sess.Messages))
	}

	cfg := g.loop.Config()
	fmt.Fprintf(&sb, "Context limit: %d tokens (compression at %.0f%%)",
		cfg.ContextLimit, cfg.CompressionThreshold*100)
	return sb.String()
}
