package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBuiltins(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, BuiltinOptions{WorkspaceRoot: root}))
	return registry, root
}

func TestBuiltinsRegistered(t *testing.T) {
	registry, _ := setupBuiltins(t)
	assert.Equal(t, []string{"read_file", "shell_exec", "write_file"}, registry.List())
}

func TestShellExec(t *testing.T) {
	registry, _ := setupBuiltins(t)

	result := registry.Execute(context.Background(), "shell_exec", map[string]interface{}{
		"command": "echo hello",
	})
	require.False(t, result.IsError, result.Content)
	assert.Equal(t, "hello\n", result.Content)
}

func TestShellExecFailure(t *testing.T) {
	registry, _ := setupBuiltins(t)

	result := registry.Execute(context.Background(), "shell_exec", map[string]interface{}{
		"command": "exit 3",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "command failed")
}

func TestShellExecTimeout(t *testing.T) {
	registry, _ := setupBuiltins(t)

	result := registry.Execute(context.Background(), "shell_exec", map[string]interface{}{
		"command": "sleep 5",
		"timeout": float64(0.1),
	})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "timed out")
}

func TestWriteAndReadFile(t *testing.T) {
	registry, root := setupBuiltins(t)
	ctx := context.Background()

	result := registry.Execute(ctx, "write_file", map[string]interface{}{
		"path":    "notes/today.md",
		"content": "remember the milk",
	})
	require.False(t, result.IsError, result.Content)

	data, err := os.ReadFile(filepath.Join(root, "notes", "today.md"))
	require.NoError(t, err)
	assert.Equal(t, "remember the milk", string(data))

	result = registry.Execute(ctx, "read_file", map[string]interface{}{"path": "notes/today.md"})
	require.False(t, result.IsError)
	assert.Equal(t, "remember the milk", result.Content)
}

func TestWriteFileAppend(t *testing.T) {
	registry, root := setupBuiltins(t)
	ctx := context.Background()

	registry.Execute(ctx, "write_file", map[string]interface{}{"path": "log.txt", "content": "one\n"})
	registry.Execute(ctx, "write_file", map[string]interface{}{"path": "log.txt", "content": "two\n", "append": true})

	data, err := os.ReadFile(filepath.Join(root, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestFileToolsRejectEscapes(t *testing.T) {
	registry, _ := setupBuiltins(t)
	ctx := context.Background()

	result := registry.Execute(ctx, "read_file", map[string]interface{}{"path": "../outside.txt"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "escapes")

	result = registry.Execute(ctx, "write_file", map[string]interface{}{"path": "/etc/passwd", "content": "x"})
	assert.True(t, result.IsError)

	result = registry.Execute(ctx, "read_file", map[string]interface{}{"path": "missing.txt"})
	assert.True(t, result.IsError)
}
