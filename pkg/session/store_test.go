package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, policy ResetPolicy) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), policy)
	require.NoError(t, err)
	return store
}

func TestGetCreatesEmptySession(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetManual})
	ctx := context.Background()

	sess, err := store.Get(ctx, "agent:main:main")
	require.NoError(t, err)
	assert.Equal(t, "agent:main:main", sess.Key)
	assert.Empty(t, sess.Messages)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestAppendAndGetRoundTrip(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetManual})
	ctx := context.Background()
	key := "agent:main:dm:u1"

	require.NoError(t, store.Append(ctx, key, NewUserMessage("hello")))
	require.NoError(t, store.Append(ctx, key, NewAssistantMessage("hi there", nil)))

	sess, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "hello", sess.Messages[0].Content)
	assert.Equal(t, RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, "hi there", sess.Messages[1].Content)
}

func TestAppendAllPreservesOrder(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetManual})
	ctx := context.Background()
	key := "agent:main:main"

	assistant := NewAssistantMessage("", []ToolCall{{ID: "tc1", Name: "get_weather", Arguments: map[string]interface{}{"city": "Paris"}}})
	result := NewToolResultMessage(ToolResult{ToolCallID: "tc1", Content: "Paris: Sunny, 22C"})
	require.NoError(t, store.AppendAll(ctx, key, assistant, result))

	sess, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, RoleAssistant, sess.Messages[0].Role)
	require.Len(t, sess.Messages[0].ToolCalls, 1)
	assert.Equal(t, "tc1", sess.Messages[0].ToolCalls[0].ID)
	assert.Equal(t, RoleTool, sess.Messages[1].Role)
	assert.Equal(t, "tc1", sess.Messages[1].ToolCallID)
}

func TestConcurrentAppendsAcrossKeys(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetManual})
	ctx := context.Background()
	keys := []string{"agent:main:dm:u1", "agent:main:dm:u2", "cron:daily-report"}
	const perKey = 20

	var wg sync.WaitGroup
	errs := make(chan error, len(keys)*perKey)
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for i := 0; i < perKey; i++ {
				if err := store.Append(ctx, key, NewUserMessage("msg")); err != nil {
					errs <- err
				}
				store.AddUsage(key, 10, 5)
			}
		}(key)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, key := range keys {
		sess, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Len(t, sess.Messages, perKey)
		assert.False(t, sess.LastActiveAt.IsZero())

		meta, ok := store.Info(key)
		require.True(t, ok)
		assert.Equal(t, int64(perKey*10), meta.InputTokens)
		assert.Equal(t, int64(perKey*5), meta.OutputTokens)
	}
	assert.ElementsMatch(t, keys, store.List(0))
}

func TestAppendRejectsInvalidMessage(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetManual})
	ctx := context.Background()

	err := store.Append(ctx, "agent:main:main", Message{Role: "oracle", Content: "hm"})
	assert.Error(t, err)

	err = store.Append(ctx, "agent:main:main", Message{Role: RoleTool, Content: "missing id"})
	assert.Error(t, err)
}

func TestResetClearsHistoryKeepsCreatedAt(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetManual})
	ctx := context.Background()
	key := "agent:main:main"

	require.NoError(t, store.Append(ctx, key, NewUserMessage("before reset")))
	before, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, before.Messages, 1)

	after, err := store.Reset(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, after.Messages)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.True(t, after.LastResetAt.After(before.LastResetAt))

	reloaded, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Messages)
}

func TestResetArchivesTranscript(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, ResetPolicy{Mode: ResetManual})
	require.NoError(t, err)
	ctx := context.Background()
	key := "agent:main:main"

	require.NoError(t, store.Append(ctx, key, NewUserMessage("archive me")))
	_, err = store.Reset(ctx, key)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "archive"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".jsonl"))
}

func TestIdleExpiry(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetIdle, IdleMinutes: 30})
	ctx := context.Background()
	key := "agent:main:dm:u1"

	require.NoError(t, store.Append(ctx, key, NewUserMessage("stale")))

	// Backdate the activity stamp past the idle window.
	store.mu.Lock()
	store.meta[key].LastActiveAt = time.Now().Add(-31 * time.Minute)
	store.mu.Unlock()

	sess, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)

	// The key still shows up in a wider activity window until overwritten.
	assert.Contains(t, store.List(35*time.Minute), key)
}

func TestDailyResetIdempotent(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetDaily, AtHour: 0})
	ctx := context.Background()
	key := "agent:main:dm:u1"

	require.NoError(t, store.Append(ctx, key, NewUserMessage("yesterday's news")))

	// Pretend the last reset happened yesterday.
	store.mu.Lock()
	store.meta[key].LastResetAt = time.Now().Add(-24 * time.Hour)
	store.mu.Unlock()

	first, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, first.Messages)

	second, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, second.Messages)
	assert.Equal(t, first.LastResetAt, second.LastResetAt)
}

func TestListMostRecentFirst(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetManual})
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "agent:a:main", NewUserMessage("first")))
	require.NoError(t, store.Append(ctx, "agent:b:main", NewUserMessage("second")))
	require.NoError(t, store.Append(ctx, "agent:c:main", NewUserMessage("third")))

	// Spread activity stamps so ordering is unambiguous.
	now := time.Now()
	store.mu.Lock()
	store.meta["agent:a:main"].LastActiveAt = now.Add(-3 * time.Minute)
	store.meta["agent:b:main"].LastActiveAt = now.Add(-2 * time.Minute)
	store.meta["agent:c:main"].LastActiveAt = now.Add(-1 * time.Minute)
	store.mu.Unlock()

	keys := store.List(0)
	require.Len(t, keys, 3)
	assert.Equal(t, []string{"agent:c:main", "agent:b:main", "agent:a:main"}, keys)

	// Narrow window filters the oldest out.
	keys = store.List(150 * time.Second)
	assert.Equal(t, []string{"agent:c:main", "agent:b:main"}, keys)
}

func TestQuarantineOnCorruptTranscript(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, ResetPolicy{Mode: ResetManual})
	require.NoError(t, err)
	ctx := context.Background()
	key := "agent:main:main"

	require.NoError(t, store.Append(ctx, key, NewUserMessage("ok line")))

	path := filepath.Join(dir, SafeFileName(key)+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json at all\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sess, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)

	// Original file is gone, quarantine copy exists.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupt-") {
			found = true
		}
	}
	assert.True(t, found, "expected a quarantined transcript")
}

func TestCompactPreservesSuffix(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetManual})
	ctx := context.Background()
	key := "agent:main:main"

	require.NoError(t, store.Append(ctx, key, NewUserMessage("old 1")))
	require.NoError(t, store.Append(ctx, key, NewAssistantMessage("old 2", nil)))
	require.NoError(t, store.Append(ctx, key, NewUserMessage("recent question")))
	require.NoError(t, store.Append(ctx, key, NewAssistantMessage("recent answer", nil)))

	require.NoError(t, store.Compact(ctx, key, "They exchanged greetings.", 2))

	sess, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, RoleCompaction, sess.Messages[0].Role)
	assert.Equal(t, "They exchanged greetings.", sess.Messages[0].Content)
	assert.Equal(t, "recent question", sess.Messages[1].Content)
	assert.Equal(t, "recent answer", sess.Messages[2].Content)
}

func TestCompactRejectsBadBoundary(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetManual})
	ctx := context.Background()
	key := "agent:main:main"

	require.NoError(t, store.Append(ctx, key, NewUserMessage("only one")))

	assert.Error(t, store.Compact(ctx, key, "summary", 0))
	assert.Error(t, store.Compact(ctx, key, "summary", 5))
}

func TestMetadataSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := "agent:main:dm:u1"

	store1, err := NewStore(dir, ResetPolicy{Mode: ResetManual})
	require.NoError(t, err)
	require.NoError(t, store1.Append(ctx, key, NewUserMessage("persisted")))
	store1.AddUsage(key, 120, 45)

	store2, err := NewStore(dir, ResetPolicy{Mode: ResetManual})
	require.NoError(t, err)

	sess, err := store2.Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)

	meta, ok := store2.Info(key)
	require.True(t, ok)
	assert.Equal(t, int64(120), meta.InputTokens)
	assert.Equal(t, int64(45), meta.OutputTokens)
}

func TestValidateKeyRejectsBadKeys(t *testing.T) {
	store := setupTestStore(t, ResetPolicy{Mode: ResetManual})
	ctx := context.Background()

	_, err := store.Get(ctx, "")
	assert.Error(t, err)
	_, err = store.Get(ctx, "agent:../../etc:main")
	assert.Error(t, err)
}
