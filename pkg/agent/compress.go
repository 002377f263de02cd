package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/StanleyChanH/MicroClaw/internal/tracing"
	"github.com/StanleyChanH/MicroClaw/pkg/provider"
	"github.com/StanleyChanH/MicroClaw/pkg/session"
)

const summarizePrompt = `Summarize the conversation below so a later turn can continue it.
Keep user goals, decisions made, tool outcomes, and any unfinished work.
Be concise. Reply with the summary only.`

// minRetained keeps the tail of the conversation out of any
// compression run so the model always sees recent context verbatim.
const minRetained = 4

// compressIfNeeded checks the estimated prompt size against the
// configured budget and, when exceeded, folds the oldest run of
// messages into a summary. The rewritten history is returned; the
// transcript on disk is rewritten to match. When summarization fails
// the run is dropped outright.
func (l *Loop) compressIfNeeded(ctx context.Context, key string, history []session.Message) ([]session.Message, error) {
	budget := int(float64(l.config.ContextLimit) * l.config.CompressionThreshold)
	if EstimateTokens(history) <= budget {
		return history, nil
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"microclaw.agent",
		"agent.compress",
		attribute.String("session_key", key),
		attribute.Int("history_len", len(history)),
	)
	defer span.End()

	for EstimateTokens(history) > budget {
		upto := compressionBoundary(history, budget)
		if upto <= 0 {
			// Nothing left to fold without touching the retained tail.
			break
		}

		summary, err := l.summarize(ctx, history[:upto])
		if err != nil {
			log.Warn().Err(err).Str("session_key", key).Msg("Summarization failed, truncating instead")
			if terr := l.store.Truncate(ctx, key, upto); terr != nil {
				return history, terr
			}
			history = history[upto:]
			continue
		}

		if err := l.store.Compact(ctx, key, summary, upto); err != nil {
			return history, err
		}
		compacted := make([]session.Message, 0, len(history)-upto+1)
		compacted = append(compacted, session.NewCompactionMessage(summary))
		compacted = append(compacted, history[upto:]...)
		history = compacted
	}

	span.SetAttributes(attribute.Int("compressed_len", len(history)))
	return history, nil
}

// compressionBoundary picks how many of the oldest messages to fold.
// The boundary never splits an assistant tool-call message from its
// tool results and always leaves the most recent messages in place.
func compressionBoundary(history []session.Message, budget int) int {
	limit := len(history) - minRetained
	if limit <= 0 {
		return 0
	}

	upto := 0
	for upto < limit && EstimateTokens(history[upto:]) > budget {
		upto++
		// Tool results belong with the call that produced them.
		for upto < len(history) && history[upto].Role == session.RoleTool {
			upto++
		}
	}
	if upto > limit {
		upto = limit
		for upto > 0 && history[upto].Role == session.RoleTool {
			upto--
		}
	}
	return upto
}

// summarize asks the provider to condense a run of messages.
func (l *Loop) summarize(ctx context.Context, run []session.Message) (string, error) {
	var sb strings.Builder
	for _, msg := range run {
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		for _, tc := range msg.ToolCalls {
			sb.WriteString(fmt.Sprintf(" [called %s]", tc.Name))
		}
		sb.WriteString("\n")
	}

	resp, err := l.callWithRetry(ctx, provider.Request{
		Model:        l.config.Model,
		SystemPrompt: summarizePrompt,
		Messages:     []session.Message{session.NewUserMessage(sb.String())},
		MaxTokens:    1024,
	})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", fmt.Errorf("empty summary from provider")
	}
	return resp.Content, nil
}
