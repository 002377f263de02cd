package tool

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echoes the input back.",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
			{Name: "repeat", Type: "integer", Description: "Repetitions", Required: false, Default: float64(1)},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			text, _ := args["text"].(string)
			repeat := int(args["repeat"].(float64))
			out := ""
			for i := 0; i < repeat; i++ {
				out += text
			}
			return out, nil
		},
	}
}

func TestRegisterAndExecute(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoTool()))

	result := registry.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	assert.False(t, result.IsError)
	assert.Equal(t, "hi", result.Content)

	result = registry.Execute(context.Background(), "echo", map[string]interface{}{"text": "ab", "repeat": float64(3)})
	assert.False(t, result.IsError)
	assert.Equal(t, "ababab", result.Content)
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	registry := NewRegistry()

	assert.Error(t, registry.Register(Definition{Description: "no name", Handler: func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil }}))
	assert.Error(t, registry.Register(Definition{Name: "x", Handler: func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil }}))
	assert.Error(t, registry.Register(Definition{Name: "x", Description: "no handler"}))
	assert.Error(t, registry.Register(Definition{
		Name:        "x",
		Description: "bad param type",
		Parameters:  []Parameter{{Name: "p", Type: "tuple", Description: "nope"}},
		Handler:     func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil },
	}))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoTool()))
	assert.Error(t, registry.Register(echoTool()))
}

func TestExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry()
	result := registry.Execute(context.Background(), "nonexistent", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "unknown tool")
}

func TestExecuteInvalidArguments(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoTool()))

	// Missing required parameter.
	result := registry.Execute(context.Background(), "echo", map[string]interface{}{})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "invalid arguments")

	// Unknown parameter rejected by additionalProperties.
	result = registry.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi", "volume": 11})
	assert.True(t, result.IsError)
}

func TestExecuteHandlerErrorBecomesResult(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Definition{
		Name:        "broken",
		Description: "Always fails.",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", fmt.Errorf("disk on fire")
		},
	}))

	result := registry.Execute(context.Background(), "broken", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "disk on fire")
}

func TestExecuteRecoversPanic(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Definition{
		Name:        "panicky",
		Description: "Panics.",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			panic("oops")
		},
	}))

	result := registry.Execute(context.Background(), "panicky", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "panicked")
}

func TestExecuteTruncatesLongOutput(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Definition{
		Name:        "firehose",
		Description: "Produces a lot of output.",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			out := make([]byte, maxOutputSize+100)
			for i := range out {
				out[i] = 'a'
			}
			return string(out), nil
		},
	}))

	result := registry.Execute(context.Background(), "firehose", nil)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content, "[output truncated]")
}

func TestSchemasSortedAndShaped(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoTool()))
	require.NoError(t, registry.Register(Definition{
		Name:        "alpha",
		Description: "Comes first.",
		Handler:     func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil },
	}))

	schemas := registry.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Equal(t, "echo", schemas[1].Name)

	assert.Equal(t, "object", schemas[1].Parameters["type"])
	props := schemas[1].Parameters["properties"].(map[string]interface{})
	assert.Contains(t, props, "text")
	assert.Equal(t, []string{"text"}, schemas[1].Parameters["required"])
}

func TestListAndCount(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoTool()))
	assert.Equal(t, []string{"echo"}, registry.List())
	assert.Equal(t, 1, registry.Count())

	registry.Unregister("echo")
	assert.Equal(t, 0, registry.Count())
}
