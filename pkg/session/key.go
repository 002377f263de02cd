package session

import (
	"fmt"
	"strings"
)

// DM scoping modes for session key derivation.
const (
	DMScopeMain           = "main"
	DMScopePerPeer        = "per-peer"
	DMScopePerChannelPeer = "per-channel-peer"
)

// KeyForMain returns the agent's shared main session key.
func KeyForMain(agentID string) string {
	return fmt.Sprintf("agent:%s:main", agentID)
}

// KeyForDM derives the session key for a direct message according to the
// configured dm scope. Unknown scopes fall back to the main session.
func KeyForDM(agentID, channel, peer, scope string) string {
	switch scope {
	case DMScopePerPeer:
		return fmt.Sprintf("agent:%s:dm:%s", agentID, peer)
	case DMScopePerChannelPeer:
		return fmt.Sprintf("agent:%s:%s:dm:%s", agentID, channel, peer)
	default:
		return KeyForMain(agentID)
	}
}

// KeyForGroup derives the session key for a group conversation. Group
// conversations always get their own session regardless of dm scope.
func KeyForGroup(agentID, channel, groupID string) string {
	return fmt.Sprintf("agent:%s:%s:group:%s", agentID, channel, groupID)
}

// KeyForCron returns the session key used by a scheduled job.
func KeyForCron(job string) string {
	return fmt.Sprintf("cron:%s", job)
}

// ValidateKey validates a session key for storage safety. Keys are
// otherwise opaque; the store never parses their structure.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if len(key) > 256 {
		return fmt.Errorf("session key too long (%d chars)", len(key))
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	return nil
}

// SafeFileName derives a filesystem-safe transcript name from a key.
func SafeFileName(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
