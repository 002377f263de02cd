// Package workspace manages the agent's markdown memory files.
//
// The workspace directory holds a small set of context files (AGENTS.md,
// SOUL.md, USER.md, TOOLS.md, MEMORY.md) plus append-only daily notes under
// memory/YYYY-MM-DD.md. BuildContext concatenates them into one opaque text
// blob for the system prompt; the agent core never parses their content.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	SoulFile   = "SOUL.md"
	UserFile   = "USER.md"
	MemoryFile = "MEMORY.md"
	ToolsFile  = "TOOLS.md"
	AgentsFile = "AGENTS.md"

	memoryDirName = "memory"
	dailyLookback = 2
	maxFileSize   = 10 * 1024 * 1024 // 10MB
)

// Files provides access to the workspace directory.
type Files struct {
	root string

	mu           sync.RWMutex
	contextCache map[bool]string
}

// New creates workspace file access rooted at path, creating the directory
// layout and default files if missing.
func New(root string) (*Files, error) {
	if root == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		root = filepath.Join(homeDir, ".microclaw", "workspace")
	}

	if err := os.MkdirAll(filepath.Join(root, memoryDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	f := &Files{
		root:         root,
		contextCache: make(map[bool]string),
	}
	if err := f.ensureDefaults(); err != nil {
		return nil, err
	}

	log.Info().Str("path", root).Msg("Workspace initialized")
	return f, nil
}

// Root returns the workspace root directory.
func (f *Files) Root() string {
	return f.root
}

func (f *Files) path(name string) string {
	return filepath.Join(f.root, name)
}

// DailyDir returns the directory holding daily notes.
func (f *Files) DailyDir() string {
	return filepath.Join(f.root, memoryDirName)
}

// DailyPath returns the daily note path for the given date.
func (f *Files) DailyPath(date time.Time) string {
	return filepath.Join(f.root, memoryDirName, date.Format("2006-01-02")+".md")
}

// ReadFile returns a workspace file's content, or "" if it doesn't exist.
func (f *Files) ReadFile(name string) string {
	data, err := os.ReadFile(f.path(name))
	if err != nil {
		return ""
	}
	if len(data) > maxFileSize {
		data = data[:maxFileSize]
	}
	return string(data)
}

// WriteFile replaces a workspace file's content.
func (f *Files) WriteFile(name, content string) error {
	if err := os.WriteFile(f.path(name), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	f.Invalidate()
	return nil
}

// AppendDaily appends a note to today's daily log.
func (f *Files) AppendDaily(content string) error {
	return f.AppendDailyAt(content, time.Now())
}

// AppendDailyAt appends a note to the daily log for the given date.
func (f *Files) AppendDailyAt(content string, date time.Time) error {
	path := f.DailyPath(date)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open daily note: %w", err)
	}
	defer file.Close()

	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to append daily note: %w", err)
	}
	f.Invalidate()
	return nil
}

// BuildContext assembles the workspace context blob for the system prompt.
// MEMORY.md is included only for main sessions; group and DM sessions skip
// it for privacy. Results are cached until Invalidate.
func (f *Files) BuildContext(isMain bool) string {
	f.mu.RLock()
	if cached, ok := f.contextCache[isMain]; ok {
		f.mu.RUnlock()
		return cached
	}
	f.mu.RUnlock()

	var sections []string
	appendSection := func(label, content string) {
		if content != "" {
			sections = append(sections, fmt.Sprintf("## %s\n%s", label, content))
		}
	}

	appendSection(AgentsFile, f.ReadFile(AgentsFile))
	appendSection(SoulFile, f.ReadFile(SoulFile))
	appendSection(UserFile, f.ReadFile(UserFile))
	if isMain {
		appendSection(MemoryFile, f.ReadFile(MemoryFile))
	}
	appendSection(ToolsFile, f.ReadFile(ToolsFile))

	if daily := f.recentDaily(dailyLookback); daily != "" {
		sections = append(sections, "## Recent Notes\n"+daily)
	}

	context := ""
	if len(sections) > 0 {
		context = "# Workspace Context\n\n" + strings.Join(sections, "\n\n")
	}

	f.mu.Lock()
	f.contextCache[isMain] = context
	f.mu.Unlock()
	return context
}

// Invalidate drops the cached context. The watcher calls this on any
// workspace file change.
func (f *Files) Invalidate() {
	f.mu.Lock()
	f.contextCache = make(map[bool]string)
	f.mu.Unlock()
}

// recentDaily returns the last N days of daily notes, newest first.
func (f *Files) recentDaily(days int) string {
	var parts []string
	dates := make([]time.Time, 0, days)
	for i := 0; i < days; i++ {
		dates = append(dates, time.Now().AddDate(0, 0, -i))
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })

	for _, date := range dates {
		data, err := os.ReadFile(f.DailyPath(date))
		if err != nil || len(data) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("### %s\n%s", date.Format("2006-01-02"), string(data)))
	}
	return strings.Join(parts, "\n\n")
}

func (f *Files) ensureDefaults() error {
	defaults := map[string]string{
		SoulFile:   defaultSoul,
		UserFile:   defaultUser,
		AgentsFile: defaultAgents,
	}
	for name, content := range defaults {
		path := f.path(name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
		log.Debug().Str("file", name).Msg("Created default workspace file")
	}
	return nil
}
