// Package agent drives the think-act-observe loop for a single session
// turn. Each turn builds a prompt from the persisted transcript, calls
// the model provider, executes any requested tool calls sequentially,
// and persists the assistant message alongside its tool results in one
// atomic append. The loop ends on a plain assistant reply or aborts
// when the step budget is exhausted.
//
// Before each model call the loop checks the estimated prompt size
// against the configured context budget and compresses the oldest run
// of messages into a summary when the threshold is crossed. Callers
// must never see a transcript where a tool call lacks its result.
package agent
