package daemon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StanleyChanH/MicroClaw/internal/config"
	"github.com/StanleyChanH/MicroClaw/pkg/gateway"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.WorkspacePath = filepath.Join(dir, "workspace")
	cfg.Logging.Console = false
	cfg.Logging.File = ""
	cfg.Webhook.Enabled = false
	cfg.AI.Profiles = []config.AIProfile{
		{ID: "primary", Provider: "anthropic", APIKey: "sk-ant-test-key", Priority: 1},
	}
	return cfg
}

func TestNewAssemblesRuntime(t *testing.T) {
	d, err := New(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, d.Gateway())

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())
}

func TestNewRejectsMissingProfiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.Profiles = nil

	_, err := New(cfg)
	require.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.ResetMode = "sometimes"

	_, err := New(cfg)
	require.Error(t, err)
}

func TestSlashCommandsWorkWithoutProviderAccess(t *testing.T) {
	d, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })

	out, err := d.Gateway().Handle(context.Background(), gateway.Incoming{
		Channel: "cli",
		Sender:  "local",
		Content: "/help",
	})
	require.NoError(t, err)
	assert.True(t, out.Command)
	assert.Contains(t, out.Content, "/status")
}
