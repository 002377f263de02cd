package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/StanleyChanH/MicroClaw/internal/observability"
	"github.com/StanleyChanH/MicroClaw/internal/tracing"
)

const (
	indexFileName = "sessions.json"
	archiveDir    = "archive"
)

// Session is a snapshot of one conversation's state. Mutations go through
// the Store; the snapshot itself is safe to read without locks.
type Session struct {
	Key          string    `json:"key"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	LastResetAt  time.Time `json:"last_reset_at"`
}

// Metadata is the persisted per-key index entry.
type Metadata struct {
	Key          string    `json:"key"`
	InstanceID   string    `json:"instance_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	LastResetAt  time.Time `json:"last_reset_at"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
}

// Store owns all session state: JSONL transcripts plus a metadata index,
// both under a single directory. Appends for the same key are serialized.
type Store struct {
	dir    string
	policy ResetPolicy

	mu    sync.Mutex
	meta  map[string]*Metadata
	locks map[string]*sync.Mutex
}

// NewStore creates a session store rooted at dir, loading any existing
// metadata index.
func NewStore(dir string, policy ResetPolicy) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".microclaw", "sessions")
	}

	if err := os.MkdirAll(filepath.Join(dir, archiveDir), 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &Store{
		dir:    dir,
		policy: policy,
		meta:   make(map[string]*Metadata),
		locks:  make(map[string]*sync.Mutex),
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}

	log.Info().
		Str("dir", dir).
		Str("reset_mode", string(policy.Mode)).
		Int("sessions", len(s.meta)).
		Msg("Session store initialized")
	observability.SetActiveSessions(len(s.meta))

	return s, nil
}

// Policy returns the store's reset policy.
func (s *Store) Policy() ResetPolicy {
	return s.policy
}

func (s *Store) transcriptPath(key string) string {
	return filepath.Join(s.dir, SafeFileName(key)+".jsonl")
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

// Get returns the session for key, creating an empty one for unseen keys.
// The reset policy is evaluated first, so an expired session comes back
// empty with last_reset_at already stamped.
func (s *Store) Get(ctx context.Context, key string) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"microclaw.session",
		"session.get",
		attribute.String("session_key", key),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := ValidateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	meta := s.ensureMeta(key)

	now := time.Now()
	if s.policy.Expired(meta.LastActiveAt, meta.LastResetAt, now) {
		if err := s.resetLocked(ctx, meta, string(s.policy.Mode)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	messages, err := s.loadMessagesLocked(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger.Debug().
		Str("session_key", key).
		Int("messages", len(messages)).
		Msg("Session loaded")

	return s.snapshotLocked(meta, messages), nil
}

// Reset unconditionally clears the session's history, archiving the old
// transcript, and returns the fresh session.
func (s *Store) Reset(ctx context.Context, key string) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"microclaw.session",
		"session.reset",
		attribute.String("session_key", key),
	)
	defer span.End()

	if err := ValidateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	meta := s.ensureMeta(key)
	if err := s.resetLocked(ctx, meta, "manual"); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return s.snapshotLocked(meta, nil), nil
}

// Append validates and persists a single message, then bumps last_active_at.
func (s *Store) Append(ctx context.Context, key string, message Message) error {
	return s.AppendAll(ctx, key, message)
}

// AppendAll persists a batch of messages as one write. The agent loop uses
// this to land an assistant message and its tool results together, so a
// cancelled step never leaves unmatched tool calls on disk.
func (s *Store) AppendAll(ctx context.Context, key string, messages ...Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"microclaw.session",
		"session.append",
		attribute.String("session_key", key),
		attribute.Int("messages", len(messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	lines := make([][]byte, 0, len(messages))
	for i := range messages {
		if messages[i].Timestamp.IsZero() {
			messages[i].Timestamp = time.Now()
		}
		if err := messages[i].Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("invalid message: %w", err)
		}
		data, err := json.Marshal(messages[i])
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		lines = append(lines, data)
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.ensureMeta(key)

	file, err := os.OpenFile(s.transcriptPath(key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	for _, line := range lines {
		if _, err := file.Write(append(line, '\n')); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync transcript: %w", err)
	}

	// Persisted. Only now update metadata.
	s.mutateMeta(key, func(m *Metadata) {
		m.LastActiveAt = time.Now()
	})

	logger.Debug().
		Str("session_key", key).
		Int("messages", len(messages)).
		Msg("Messages appended")

	return nil
}

// AddUsage accumulates provider token usage onto the session's metadata.
func (s *Store) AddUsage(key string, inputTokens, outputTokens int64) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.ensureMeta(key)
	s.mutateMeta(key, func(m *Metadata) {
		m.InputTokens += inputTokens
		m.OutputTokens += outputTokens
	})
}

// List returns keys active within the window, most recently active first.
// A zero window returns every known key.
func (s *Store) List(activeWindow time.Duration) []string {
	s.mu.Lock()
	type entry struct {
		key        string
		lastActive time.Time
	}
	cutoff := time.Time{}
	if activeWindow > 0 {
		cutoff = time.Now().Add(-activeWindow)
	}
	entries := make([]entry, 0, len(s.meta))
	for key, meta := range s.meta {
		if meta.LastActiveAt.Before(cutoff) {
			continue
		}
		entries = append(entries, entry{key, meta.LastActiveAt})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastActive.After(entries[j].lastActive)
	})
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}

// Info returns a copy of the session's metadata, or false for unseen keys.
func (s *Store) Info(key string) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.meta[key]
	if !ok {
		return Metadata{}, false
	}
	return *meta, true
}

// Compact replaces the first upto messages with a single summary record and
// rewrites the transcript atomically. The suffix keeps its order; the
// boundary must not split an assistant tool-call message from its results,
// which the caller guarantees by choosing upto accordingly.
func (s *Store) Compact(ctx context.Context, key string, summary string, upto int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"microclaw.session",
		"session.compact",
		attribute.String("session_key", key),
		attribute.Int("upto", upto),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := ValidateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if upto <= 0 {
		return fmt.Errorf("compaction boundary must be positive, got %d", upto)
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	messages, err := s.loadMessagesLocked(ctx, key)
	if err != nil {
		return err
	}
	if upto > len(messages) {
		return fmt.Errorf("compaction boundary %d exceeds history length %d", upto, len(messages))
	}

	rewritten := make([]Message, 0, len(messages)-upto+1)
	rewritten = append(rewritten, NewCompactionMessage(summary))
	rewritten = append(rewritten, messages[upto:]...)

	if err := s.rewriteLocked(key, rewritten); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	observability.RecordCompaction()
	logger.Info().
		Str("session_key", key).
		Int("compacted", upto).
		Int("remaining", len(rewritten)).
		Msg("Session compacted")

	return nil
}

// Truncate drops the first upto messages without a summary and rewrites
// the transcript. Used as the lossy fallback when summarization fails.
func (s *Store) Truncate(ctx context.Context, key string, upto int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"microclaw.session",
		"session.truncate",
		attribute.String("session_key", key),
		attribute.Int("upto", upto),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := ValidateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if upto <= 0 {
		return fmt.Errorf("truncation boundary must be positive, got %d", upto)
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	messages, err := s.loadMessagesLocked(ctx, key)
	if err != nil {
		return err
	}
	if upto > len(messages) {
		return fmt.Errorf("truncation boundary %d exceeds history length %d", upto, len(messages))
	}

	if err := s.rewriteLocked(key, messages[upto:]); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	logger.Warn().
		Str("session_key", key).
		Int("dropped", upto).
		Msg("Session truncated")

	return nil
}

// ensureMeta must run under the key lock.
func (s *Store) ensureMeta(key string) *Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta, ok := s.meta[key]; ok {
		return meta
	}
	now := time.Now()
	meta := &Metadata{
		Key:         key,
		InstanceID:  uuid.NewString(),
		CreatedAt:   now,
		LastResetAt: now,
	}
	s.meta[key] = meta
	if err := s.saveIndexLocked(); err != nil {
		log.Warn().Err(err).Msg("Failed to persist session index")
	}
	observability.SetActiveSessions(len(s.meta))
	return meta
}

// mutateMeta applies fn to the key's metadata and persists the index in one
// critical section, so an index marshal triggered by another key never
// observes a half-written entry. Callers hold the key lock, which keeps
// same-key field reads consistent.
func (s *Store) mutateMeta(key string, fn func(*Metadata)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.meta[key]
	if !ok {
		return
	}
	fn(meta)
	if err := s.saveIndexLocked(); err != nil {
		log.Warn().Err(err).Msg("Failed to persist session index")
	}
}

// resetLocked archives the transcript and stamps a fresh instance. Caller
// holds the key lock.
func (s *Store) resetLocked(ctx context.Context, meta *Metadata, trigger string) error {
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	path := s.transcriptPath(meta.Key)

	if _, err := os.Stat(path); err == nil {
		archived := filepath.Join(s.dir, archiveDir,
			fmt.Sprintf("%s.%d.jsonl", SafeFileName(meta.Key), time.Now().UnixNano()))
		if err := os.Rename(path, archived); err != nil {
			return fmt.Errorf("failed to archive transcript: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat transcript: %w", err)
	}

	s.mutateMeta(meta.Key, func(m *Metadata) {
		m.LastResetAt = time.Now()
		m.InstanceID = uuid.NewString()
	})

	observability.RecordSessionReset(trigger)
	logger.Info().
		Str("session_key", meta.Key).
		Str("trigger", trigger).
		Msg("Session reset")

	return nil
}

// loadMessagesLocked reads the transcript, quarantining it on corruption.
// Caller holds the key lock.
func (s *Store) loadMessagesLocked(ctx context.Context, key string) ([]Message, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	path := s.transcriptPath(key)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}

	var messages []Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	corrupt := false

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warn().
				Str("session_key", key).
				Int("line", lineNum).
				Err(err).
				Msg("Malformed transcript record, quarantining")
			corrupt = true
			break
		}
		if err := msg.Validate(); err != nil {
			logger.Warn().
				Str("session_key", key).
				Int("line", lineNum).
				Err(err).
				Msg("Invalid transcript record, quarantining")
			corrupt = true
			break
		}
		messages = append(messages, msg)
	}
	scanErr := scanner.Err()
	file.Close()

	if scanErr != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", scanErr)
	}

	if corrupt {
		quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixNano())
		if err := os.Rename(path, quarantine); err != nil {
			return nil, fmt.Errorf("failed to quarantine transcript: %w", err)
		}
		logger.Warn().
			Str("session_key", key).
			Str("quarantined", quarantine).
			Msg("Transcript quarantined, serving empty session")
		return nil, nil
	}

	return messages, nil
}

// rewriteLocked replaces the transcript via temp file and rename. Caller
// holds the key lock.
func (s *Store) rewriteLocked(key string, messages []Message) error {
	path := s.transcriptPath(key)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp transcript: %w", err)
	}

	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write message: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync transcript: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace transcript: %w", err)
	}
	return nil
}

func (s *Store) snapshotLocked(meta *Metadata, messages []Message) *Session {
	return &Session{
		Key:          meta.Key,
		Messages:     messages,
		CreatedAt:    meta.CreatedAt,
		LastActiveAt: meta.LastActiveAt,
		LastResetAt:  meta.LastResetAt,
	}
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read session index: %w", err)
	}
	var meta map[string]*Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		// A broken index only loses metadata; transcripts stay intact.
		log.Warn().Err(err).Msg("Malformed session index, starting fresh")
		return nil
	}
	s.meta = meta
	return nil
}

func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session index: %w", err)
	}
	tempPath := s.indexPath() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session index: %w", err)
	}
	if err := os.Rename(tempPath, s.indexPath()); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session index: %w", err)
	}
	return nil
}
