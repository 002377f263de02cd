package workspace

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the workspace directory and invalidates the context
// cache when a markdown file changes.
type Watcher struct {
	watcher            *fsnotify.Watcher
	files              *Files
	stabilityThreshold time.Duration
	onChange           func(path string)

	done           chan struct{}
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	stopOnce       sync.Once
}

// NewWatcher creates a watcher over the workspace. onChange is optional.
func NewWatcher(files *Files, onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:            fsw,
		files:              files,
		stabilityThreshold: 100 * time.Millisecond,
		onChange:           onChange,
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Start begins watching the workspace root and its memory directory.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.files.Root()); err != nil {
		return fmt.Errorf("failed to watch workspace: %w", err)
	}
	if err := w.watcher.Add(w.files.DailyDir()); err != nil {
		return fmt.Errorf("failed to watch memory directory: %w", err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.files.Root()).Msg("Workspace watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	clear(w.debounceTimers)
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Workspace watcher error")
		case <-w.done:
			return
		}
	}
}

// handleEvent debounces rapid write sequences so editors that write in
// several syscalls trigger one reload.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounceTimers[event.Name]; ok {
		timer.Stop()
	}
	path := event.Name
	w.debounceTimers[path] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		w.files.Invalidate()
		log.Debug().Str("file", path).Msg("Workspace file changed")
		if w.onChange != nil {
			w.onChange(path)
		}
	})
}
