package gateway

import (
	"context"
)

// Incoming is the normalized ingress payload from any channel.
type Incoming struct {
	// Channel names the transport the message arrived on, e.g.
	// "webhook" or "cli".
	Channel string `json:"channel"`
	// Sender identifies the peer within the channel.
	Sender string `json:"sender"`
	// Group is set for group conversations and empty for DMs.
	Group string `json:"group,omitempty"`
	// Content is the message text.
	Content string `json:"content"`
	// MessageID, when set, makes delivery idempotent: retries with
	// the same ID return the cached outcome.
	MessageID string `json:"message_id,omitempty"`
}

// Outgoing is the reply produced for one incoming message.
type Outgoing struct {
	SessionKey string `json:"session_key"`
	Content    string `json:"content"`
	// Aborted is set when the turn hit its step budget; Content then
	// carries the best partial text.
	Aborted bool `json:"aborted,omitempty"`
	// Command is set when the message was handled as a slash command
	// without running the agent.
	Command bool `json:"command,omitempty"`
}

// DispatchFunc routes an inbound channel message into the gateway.
type DispatchFunc func(ctx context.Context, msg Incoming) (*Outgoing, error)

// Channel is a transport adapter. Adapters live outside this module;
// the gateway only needs delivery and lifecycle.
type Channel interface {
	Name() string
	// Send delivers an outbound message to a recipient on this channel.
	Send(ctx context.Context, recipient string, content string) error
	Start(ctx context.Context, dispatch DispatchFunc) error
	Stop(ctx context.Context) error
}
