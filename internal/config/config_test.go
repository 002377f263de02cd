package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "daily", cfg.Session.ResetMode)
	assert.Equal(t, 4, cfg.Session.ResetHour)
	assert.Equal(t, 10, cfg.Agent.MaxSteps)
	assert.Equal(t, 0.8, cfg.Agent.CompressionThreshold)
	assert.Equal(t, "main", cfg.Agent.DMScope)
	assert.False(t, cfg.Webhook.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestValidateResetPolicy(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name        string
		mode        string
		resetHour   int
		idleMinutes int
		wantErr     bool
	}{
		{"daily valid", "daily", 4, 0, false},
		{"daily midnight", "daily", 0, 0, false},
		{"daily hour too large", "daily", 24, 0, true},
		{"daily negative hour", "daily", -1, 0, true},
		{"idle valid", "idle", 0, 30, false},
		{"idle zero minutes", "idle", 0, 0, true},
		{"manual", "manual", 0, 0, false},
		{"unknown mode", "weekly", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateResetPolicy(tt.mode, tt.resetHour, tt.idleMinutes)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAgent(t *testing.T) {
	v := NewValidator()
	base := DefaultConfig().Agent

	t.Run("default is valid", func(t *testing.T) {
		assert.NoError(t, v.ValidateAgent(base))
	})

	t.Run("missing model", func(t *testing.T) {
		a := base
		a.Model = ""
		assert.Error(t, v.ValidateAgent(a))
	})

	t.Run("zero max steps", func(t *testing.T) {
		a := base
		a.MaxSteps = 0
		assert.Error(t, v.ValidateAgent(a))
	})

	t.Run("threshold out of range", func(t *testing.T) {
		a := base
		a.CompressionThreshold = 1.5
		assert.Error(t, v.ValidateAgent(a))
	})

	t.Run("bad dm scope", func(t *testing.T) {
		a := base
		a.DMScope = "per-galaxy"
		assert.Error(t, v.ValidateAgent(a))
	})
}

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-ant-abc123", "anthropic"))
	assert.NoError(t, v.ValidateAPIKey("sk-abc123", "openai"))
	assert.Error(t, v.ValidateAPIKey("", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("sk-abc123", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("key", "openai"))
	assert.Error(t, v.ValidateAPIKey("key", "gemini"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "microclaw.json")

	content := `{
		"agent": {
			"model": "claude-opus-4",
			"max_steps": 20
		},
		"session": {
			"reset_mode": "idle",
			"idle_minutes": 45
		},
		"data_dir": "` + filepath.Join(dir, "data") + `"
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "claude-opus-4", cfg.Agent.Model)
	assert.Equal(t, 20, cfg.Agent.MaxSteps)
	// Untouched fields keep defaults
	assert.Equal(t, 0.8, cfg.Agent.CompressionThreshold)
	assert.Equal(t, "idle", cfg.Session.ResetMode)
	assert.Equal(t, 45, cfg.Session.IdleMinutes)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	// Derived defaults are filled when absent
	assert.NotEmpty(t, cfg.WorkspacePath)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "microclaw.json")

	content := `{"session": {"reset_mode": "fortnightly"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := NewLoader().LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	_, err := NewLoader().LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
