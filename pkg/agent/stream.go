package agent

import (
	"context"

	"github.com/StanleyChanH/MicroClaw/pkg/session"
)

// ChunkType discriminates stream events.
type ChunkType string

const (
	ChunkText       ChunkType = "text"
	ChunkToolCall   ChunkType = "tool_call"
	ChunkToolResult ChunkType = "tool_result"
	ChunkDone       ChunkType = "done"
	ChunkError      ChunkType = "error"
)

// Chunk is one event of a streamed turn. Exactly one payload field is
// set depending on Type; Done chunks carry the final Result.
type Chunk struct {
	Type       ChunkType           `json:"type"`
	Text       string              `json:"text,omitempty"`
	ToolCall   *session.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *session.ToolResult `json:"tool_result,omitempty"`
	Result     *Result             `json:"result,omitempty"`
	Err        error               `json:"-"`
}

// Stream delivers the chunks of a single turn. It is finite and not
// restartable: once the channel closes the turn is over. Cancel stops
// the producing turn; the channel still drains to close.
type Stream struct {
	C      <-chan Chunk
	cancel context.CancelFunc
}

// NewStream wraps an externally produced chunk channel. The caller
// owns closing the channel; cancel is invoked by Cancel.
func NewStream(ch <-chan Chunk, cancel context.CancelFunc) *Stream {
	if cancel == nil {
		cancel = func() {}
	}
	return &Stream{C: ch, cancel: cancel}
}

// Cancel aborts the underlying turn. Safe to call more than once.
func (s *Stream) Cancel() {
	s.cancel()
}

// streamObserver forwards loop progress into the chunk channel.
type streamObserver struct {
	ctx context.Context
	ch  chan<- Chunk
}

func (o *streamObserver) send(c Chunk) {
	select {
	case o.ch <- c:
	case <-o.ctx.Done():
	}
}

func (o *streamObserver) onText(text string) {
	o.send(Chunk{Type: ChunkText, Text: text})
}

func (o *streamObserver) onToolCall(call session.ToolCall) {
	c := call
	o.send(Chunk{Type: ChunkToolCall, ToolCall: &c})
}

func (o *streamObserver) onToolResult(result session.ToolResult) {
	r := result
	o.send(Chunk{Type: ChunkToolResult, ToolResult: &r})
}

// RunStream executes a turn like Run but emits progress as chunks:
// assistant text, tool call starts, tool results, then a final done or
// error chunk. The channel closes once the turn finishes either way.
func (l *Loop) RunStream(ctx context.Context, key string, userText string, opts RunOptions) *Stream {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Chunk, 16)
	stream := &Stream{C: ch, cancel: cancel}

	go func() {
		defer close(ch)
		defer cancel()

		observer := &streamObserver{ctx: ctx, ch: ch}
		result, err := l.runTurn(ctx, key, userText, opts, observer)
		if err != nil {
			observer.send(Chunk{Type: ChunkError, Err: err})
			return
		}
		observer.send(Chunk{Type: ChunkDone, Result: result})
	}()

	return stream
}
