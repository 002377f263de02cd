package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SearchResult is one memory search hit with surrounding context.
type SearchResult struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
	Score   int    `json:"score"`
}

const maxSnippetLen = 500

// Search scans MEMORY.md and the daily notes for lines matching the query
// words, scored by match count. Plain keyword matching; no embeddings.
func (f *Files) Search(query string, maxResults int) []SearchResult {
	if maxResults <= 0 {
		maxResults = 5
	}
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return nil
	}

	type target struct {
		path  string
		label string
	}
	targets := []target{{f.path(MemoryFile), MemoryFile}}

	if entries, err := os.ReadDir(filepath.Join(f.root, memoryDirName)); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			targets = append(targets, target{
				path:  filepath.Join(f.root, memoryDirName, entry.Name()),
				label: memoryDirName + "/" + entry.Name(),
			})
		}
	}

	var results []SearchResult
	for _, tgt := range targets {
		data, err := os.ReadFile(tgt.path)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			lineLower := strings.ToLower(line)
			score := 0
			for _, word := range queryWords {
				if strings.Contains(lineLower, word) {
					score++
				}
			}
			if score == 0 {
				continue
			}

			start := i - 1
			if start < 0 {
				start = 0
			}
			end := i + 2
			if end > len(lines) {
				end = len(lines)
			}
			snippet := strings.Join(lines[start:end], "\n")
			if len(snippet) > maxSnippetLen {
				snippet = snippet[:maxSnippetLen]
			}

			results = append(results, SearchResult{
				Path:    tgt.label,
				Line:    i + 1,
				Snippet: snippet,
				Score:   score,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// Snippet reads a window of lines from a memory file named by its search
// result label (MEMORY.md or memory/<date>.md).
func (f *Files) Snippet(label string, fromLine, lines int) (string, error) {
	var path string
	switch {
	case label == MemoryFile:
		path = f.path(MemoryFile)
	case strings.HasPrefix(label, memoryDirName+"/") && !strings.Contains(label, ".."):
		path = filepath.Join(f.root, label)
	default:
		return "", fmt.Errorf("unknown memory file: %s", label)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", label, err)
	}

	allLines := strings.Split(string(data), "\n")
	start := fromLine - 1
	if start < 0 {
		start = 0
	}
	if start >= len(allLines) {
		return "", nil
	}
	end := start + lines
	if end > len(allLines) {
		end = len(allLines)
	}
	return strings.Join(allLines[start:end], "\n"), nil
}
