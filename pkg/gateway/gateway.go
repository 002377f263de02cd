package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/StanleyChanH/MicroClaw/internal/observability"
	"github.com/StanleyChanH/MicroClaw/internal/tracing"
	"github.com/StanleyChanH/MicroClaw/pkg/agent"
	"github.com/StanleyChanH/MicroClaw/pkg/commandqueue"
	"github.com/StanleyChanH/MicroClaw/pkg/session"
	"github.com/StanleyChanH/MicroClaw/pkg/workspace"
)

const defaultWarnAfterMs = 5000

// Options wires a Gateway.
type Options struct {
	AgentID string
	// DMScope selects session key derivation for direct messages:
	// main, per-peer, or per-channel-peer.
	DMScope   string
	Loop      *agent.Loop
	Store     *session.Store
	Queue     *commandqueue.Queue
	Workspace *workspace.Files
	// WarnAfterMs delays the "still working" notice for queued
	// messages. Zero uses the default.
	WarnAfterMs int
}

// Gateway routes incoming messages to sessions: it derives the session
// key, handles slash commands, and serializes turns per key through
// the command queue. The transcript is only ever mutated by tasks
// running on the key's lane.
type Gateway struct {
	agentID     string
	dmScope     string
	loop        *agent.Loop
	store       *session.Store
	queue       *commandqueue.Queue
	workspace   *workspace.Files
	warnAfterMs int
	channels    *ChannelRegistry
}

// New constructs a gateway and its channel registry.
func New(opts Options) (*Gateway, error) {
	if opts.Loop == nil {
		return nil, fmt.Errorf("agent loop is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if opts.AgentID == "" {
		opts.AgentID = "main"
	}
	if opts.DMScope == "" {
		opts.DMScope = session.DMScopeMain
	}
	if opts.WarnAfterMs <= 0 {
		opts.WarnAfterMs = defaultWarnAfterMs
	}

	observability.EnsureRegistered()
	g := &Gateway{
		agentID:     opts.AgentID,
		dmScope:     opts.DMScope,
		loop:        opts.Loop,
		store:       opts.Store,
		queue:       opts.Queue,
		workspace:   opts.Workspace,
		warnAfterMs: opts.WarnAfterMs,
	}
	g.channels = NewChannelRegistry(g.Handle)
	return g, nil
}

// Channels returns the registry transport adapters register with.
func (g *Gateway) Channels() *ChannelRegistry {
	return g.channels
}

// SessionKey derives the session key for an incoming message. Group
// messages always get their own session; DMs follow the configured
// scope.
func (g *Gateway) SessionKey(msg Incoming) string {
	if msg.Group != "" {
		return session.KeyForGroup(g.agentID, msg.Channel, msg.Group)
	}
	return session.KeyForDM(g.agentID, msg.Channel, msg.Sender, g.dmScope)
}

// Handle processes one incoming message and blocks until the reply is
// ready. Messages for the same session key run in arrival order;
// distinct keys proceed concurrently.
func (g *Gateway) Handle(ctx context.Context, msg Incoming) (*Outgoing, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil, fmt.Errorf("message content is empty")
	}

	key := g.SessionKey(msg)
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"microclaw.gateway",
		"gateway.handle",
		attribute.String("channel", msg.Channel),
		attribute.String("session_key", key),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if out, handled := g.handleCommand(ctx, key, content); handled {
		logger.Info().Str("session_key", key).Str("command", firstWord(content)).Msg("Slash command handled")
		return out, nil
	}

	result, err := g.queue.EnqueueWithContext(ctx, key, func(taskCtx context.Context) (interface{}, error) {
		return g.loop.Run(taskCtx, key, content, agent.RunOptions{
			ContextText: g.contextText(key),
		})
	}, &commandqueue.TaskOptions{
		RequestID:   msg.MessageID,
		WarnAfterMs: g.warnAfterMs,
		OnWait:      g.waitNotifier(msg),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	turn, ok := result.(*agent.Result)
	if !ok {
		return nil, fmt.Errorf("unexpected task result type %T", result)
	}

	return &Outgoing{
		SessionKey: key,
		Content:    turn.Text,
		Aborted:    turn.Aborted,
	}, nil
}

// cronLane batches scheduled work on one lane with extra headroom so
// jobs do not queue behind conversational turns.
const cronLane = "cron"

// HandleCron runs a scheduled prompt under the job's own session key
// on the shared cron lane.
func (g *Gateway) HandleCron(ctx context.Context, job string, prompt string) (*Outgoing, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("cron prompt is empty")
	}

	key := session.KeyForCron(job)
	ctx = tracing.WithSessionKey(ctx, key)
	g.queue.EnsureLane(cronLane, 3)

	result, err := g.queue.EnqueueWithContext(ctx, cronLane, func(taskCtx context.Context) (interface{}, error) {
		return g.loop.Run(taskCtx, key, prompt, agent.RunOptions{
			ContextText: g.contextText(key),
		})
	}, nil)
	if err != nil {
		return nil, err
	}

	turn, ok := result.(*agent.Result)
	if !ok {
		return nil, fmt.Errorf("unexpected task result type %T", result)
	}
	return &Outgoing{SessionKey: key, Content: turn.Text, Aborted: turn.Aborted}, nil
}

// HandleStream is Handle with chunked delivery. The key's lane is held
// for the lifetime of the stream; cancelling the stream releases it.
func (g *Gateway) HandleStream(ctx context.Context, msg Incoming) (*agent.Stream, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil, fmt.Errorf("message content is empty")
	}

	key := g.SessionKey(msg)
	ctx = tracing.WithSessionKey(ctx, key)

	if out, handled := g.handleCommand(ctx, key, content); handled {
		ch := make(chan agent.Chunk, 2)
		ch <- agent.Chunk{Type: agent.ChunkText, Text: out.Content}
		ch <- agent.Chunk{Type: agent.ChunkDone, Result: &agent.Result{Text: out.Content}}
		close(ch)
		return agent.NewStream(ch, nil), nil
	}

	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan agent.Chunk, 16)

	go func() {
		defer close(ch)
		_, err := g.queue.EnqueueWithContext(streamCtx, key, func(taskCtx context.Context) (interface{}, error) {
			inner := g.loop.RunStream(taskCtx, key, content, agent.RunOptions{
				ContextText: g.contextText(key),
			})
			for chunk := range inner.C {
				select {
				case ch <- chunk:
				case <-streamCtx.Done():
					inner.Cancel()
					for range inner.C {
					}
					return nil, streamCtx.Err()
				}
			}
			return nil, nil
		}, &commandqueue.TaskOptions{RequestID: msg.MessageID})
		if err != nil {
			select {
			case ch <- agent.Chunk{Type: agent.ChunkError, Err: err}:
			case <-streamCtx.Done():
			}
		}
	}()

	return agent.NewStream(ch, cancel), nil
}

// contextText renders the workspace context for the key. MEMORY.md is
// included only for the agent's main session.
func (g *Gateway) contextText(key string) string {
	if g.workspace == nil {
		return ""
	}
	isMain := key == session.KeyForMain(g.agentID)
	return g.workspace.BuildContext(isMain)
}

// waitNotifier sends a "still working" notice back on the source
// channel when the message has been queued behind a running turn.
func (g *Gateway) waitNotifier(msg Incoming) func(waitMs int64, queuePos int) {
	return func(waitMs int64, queuePos int) {
		ch, ok := g.channels.Get(msg.Channel)
		if !ok {
			return
		}
		recipient := msg.Sender
		if msg.Group != "" {
			recipient = msg.Group
		}
		notice := "Still working on the previous message, yours is queued."
		if err := ch.Send(context.Background(), recipient, notice); err != nil {
			log.Warn().Err(err).Str("channel", msg.Channel).Msg("Failed to send wait notice")
		}
	}
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
