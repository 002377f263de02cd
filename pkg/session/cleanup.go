package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultRetention       = 7 * 24 * time.Hour // 7 days
	DefaultCleanupInterval = time.Hour
)

// Cleanup prunes archived and quarantined transcripts past their retention.
type Cleanup struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	stopCh    chan struct{}
	running   bool
}

// NewCleanup creates a cleanup handler for the store.
func NewCleanup(store *Store, retention time.Duration) *Cleanup {
	if retention == 0 {
		retention = DefaultRetention
	}
	return &Cleanup{
		store:     store,
		retention: retention,
		interval:  DefaultCleanupInterval,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the background cleanup loop.
func (c *Cleanup) Start() error {
	if c.running {
		return fmt.Errorf("cleanup is already running")
	}
	c.running = true
	go c.run()

	log.Info().
		Dur("retention", c.retention).
		Msg("Session cleanup started")
	return nil
}

// Stop stops the background cleanup loop.
func (c *Cleanup) Stop() error {
	if !c.running {
		return fmt.Errorf("cleanup is not running")
	}
	close(c.stopCh)
	c.running = false
	return nil
}

func (c *Cleanup) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := c.RunOnce(); err != nil {
				log.Warn().Err(err).Msg("Session cleanup pass failed")
			} else if n > 0 {
				log.Info().Int("removed", n).Msg("Session cleanup pass completed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// RunOnce performs a single cleanup pass and returns the number of files
// removed.
func (c *Cleanup) RunOnce() (int, error) {
	cutoff := time.Now().Add(-c.retention)
	removed := 0

	// Archived transcripts from prior resets.
	archived, err := os.ReadDir(filepath.Join(c.store.dir, archiveDir))
	if err != nil && !os.IsNotExist(err) {
		return removed, fmt.Errorf("failed to read archive directory: %w", err)
	}
	for _, entry := range archived {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(c.store.dir, archiveDir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Failed to remove archived transcript")
			continue
		}
		removed++
	}

	// Quarantined transcripts.
	entries, err := os.ReadDir(c.store.dir)
	if err != nil {
		return removed, fmt.Errorf("failed to read sessions directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), ".corrupt-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(c.store.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Failed to remove quarantined transcript")
			continue
		}
		removed++
	}

	return removed, nil
}
