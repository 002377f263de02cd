package tool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultExecTimeout = 60 * time.Second
	maxExecTimeout     = 10 * time.Minute
	maxReadBytes       = 256 * 1024
)

// BuiltinOptions configures builtin tool registration.
type BuiltinOptions struct {
	WorkspaceRoot string
}

// RegisterBuiltins registers baseline runtime and filesystem tools. File
// tools resolve paths relative to the workspace root and refuse to escape it.
func RegisterBuiltins(registry *Registry, opts BuiltinOptions) error {
	if opts.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root is required")
	}

	tools := []Definition{
		shellExecTool(opts),
		readFileTool(opts),
		writeFileTool(opts),
	}
	for _, def := range tools {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func shellExecTool(opts BuiltinOptions) Definition {
	return Definition{
		Name:        "shell_exec",
		Description: "Execute a shell command in the workspace directory and return combined output.",
		Parameters: []Parameter{
			{Name: "command", Type: "string", Description: "Command to execute", Required: true},
			{Name: "timeout", Type: "number", Description: "Timeout in seconds", Required: false, Default: float64(60)},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			command, _ := args["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return "", fmt.Errorf("command is required")
			}

			timeout := parseTimeoutSeconds(args["timeout"], defaultExecTimeout)
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = opts.WorkspaceRoot
			output, err := cmd.CombinedOutput()
			if ctx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("command timed out after %s", timeout)
			}
			if err != nil {
				return "", fmt.Errorf("command failed: %v\n%s", err, output)
			}
			return string(output), nil
		},
	}
}

func readFileTool(opts BuiltinOptions) Definition {
	return Definition{
		Name:        "read_file",
		Description: "Read a text file from the workspace.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Path relative to the workspace", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, err := resolveWorkspacePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("failed to read file: %w", err)
			}
			if len(data) > maxReadBytes {
				return string(data[:maxReadBytes]) + "\n... [file truncated]", nil
			}
			return string(data), nil
		},
	}
}

func writeFileTool(opts BuiltinOptions) Definition {
	return Definition{
		Name:        "write_file",
		Description: "Write or append a text file inside the workspace.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Path relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "Content to write", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwrite", Required: false, Default: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, err := resolveWorkspacePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return "", err
			}
			content, _ := args["content"].(string)
			appendMode, _ := args["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}

			flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
			if appendMode {
				flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
			}
			file, err := os.OpenFile(path, flags, 0644)
			if err != nil {
				return "", fmt.Errorf("failed to open file: %w", err)
			}
			defer file.Close()

			if _, err := file.WriteString(content); err != nil {
				return "", fmt.Errorf("failed to write file: %w", err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), args["path"]), nil
		},
	}
}

// resolveWorkspacePath joins a user-supplied relative path onto the
// workspace root and rejects escapes.
func resolveWorkspacePath(root string, value interface{}) (string, error) {
	rel, _ := value.(string)
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative to the workspace")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	joined := filepath.Clean(filepath.Join(absRoot, rel))
	if joined != absRoot && !strings.HasPrefix(joined, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace")
	}
	return joined, nil
}

func parseTimeoutSeconds(value interface{}, fallback time.Duration) time.Duration {
	seconds, ok := value.(float64)
	if !ok || seconds <= 0 {
		return fallback
	}
	timeout := time.Duration(seconds * float64(time.Second))
	if timeout > maxExecTimeout {
		return maxExecTimeout
	}
	return timeout
}
