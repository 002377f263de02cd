package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/StanleyChanH/MicroClaw/pkg/tool"
)

// RegisterMemoryTools registers the agent-facing memory tools backed by
// this workspace.
func RegisterMemoryTools(registry *tool.Registry, files *Files) error {
	tools := []tool.Definition{
		{
			Name:        "memory_search",
			Description: "Search memory files (MEMORY.md and daily notes) for relevant information.",
			Parameters: []tool.Parameter{
				{Name: "query", Type: "string", Description: "Keywords to search for", Required: true},
				{Name: "max_results", Type: "integer", Description: "Maximum number of results", Required: false, Default: float64(5)},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				query, _ := args["query"].(string)
				maxResults := 5
				if n, ok := args["max_results"].(float64); ok {
					maxResults = int(n)
				}

				results := files.Search(query, maxResults)
				if len(results) == 0 {
					return "No relevant memories found.", nil
				}

				parts := make([]string, 0, len(results))
				for _, r := range results {
					parts = append(parts, fmt.Sprintf("**%s** (line %d):\n%s\n", r.Path, r.Line, r.Snippet))
				}
				return strings.Join(parts, "\n---\n"), nil
			},
		},
		{
			Name:        "memory_get",
			Description: "Read a snippet from a memory file.",
			Parameters: []tool.Parameter{
				{Name: "path", Type: "string", Description: "MEMORY.md or memory/<date>.md", Required: true},
				{Name: "from_line", Type: "integer", Description: "First line to read", Required: false, Default: float64(1)},
				{Name: "lines", Type: "integer", Description: "Number of lines to read", Required: false, Default: float64(20)},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				path, _ := args["path"].(string)
				fromLine := int(args["from_line"].(float64))
				lines := int(args["lines"].(float64))
				return files.Snippet(path, fromLine, lines)
			},
		},
		{
			Name:        "memory_append",
			Description: "Append a note to today's daily memory file.",
			Parameters: []tool.Parameter{
				{Name: "content", Type: "string", Description: "Note to record", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				content, _ := args["content"].(string)
				if err := files.AppendDaily(content); err != nil {
					return "", err
				}
				return fmt.Sprintf("Added to %s", filepath.Base(files.DailyPath(time.Now()))), nil
			},
		},
		{
			Name:        "memory_update",
			Description: "Replace the contents of MEMORY.md (long-term memory).",
			Parameters: []tool.Parameter{
				{Name: "content", Type: "string", Description: "New MEMORY.md content", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				content, _ := args["content"].(string)
				if err := files.WriteFile(MemoryFile, content); err != nil {
					return "", err
				}
				return "Updated MEMORY.md", nil
			},
		},
	}

	for _, def := range tools {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}
