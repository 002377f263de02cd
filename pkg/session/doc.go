// Package session manages persistent conversation history using JSONL files.
//
// Invariants:
// - Session keys are opaque identities; transcript filenames are derived path-safe.
// - Writes for the same session key are serialized.
// - Appends persist to disk before in-memory metadata updates.
// - A malformed transcript is quarantined, never fatal.
//
// Usage:
//
//	store, _ := session.NewStore("/tmp/microclaw/sessions", session.ResetPolicy{Mode: session.ResetDaily, AtHour: 4})
//	_ = store.Append(ctx, "agent:main:main", session.NewUserMessage("hello"))
//	sess, _ := store.Get(ctx, "agent:main:main")
//	_ = sess
package session
