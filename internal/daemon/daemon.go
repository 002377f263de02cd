// Package daemon assembles the runtime: configuration, logging,
// tracing, the session store, tools, the provider client, the command
// queue, the gateway, and the optional webhook and cron services. The
// CLI start command builds one Daemon and runs it until a signal.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/StanleyChanH/MicroClaw/internal/config"
	"github.com/StanleyChanH/MicroClaw/internal/logger"
	"github.com/StanleyChanH/MicroClaw/internal/tracing"
	"github.com/StanleyChanH/MicroClaw/pkg/agent"
	"github.com/StanleyChanH/MicroClaw/pkg/commandqueue"
	"github.com/StanleyChanH/MicroClaw/pkg/cron"
	"github.com/StanleyChanH/MicroClaw/pkg/gateway"
	"github.com/StanleyChanH/MicroClaw/pkg/provider"
	"github.com/StanleyChanH/MicroClaw/pkg/session"
	"github.com/StanleyChanH/MicroClaw/pkg/tool"
	"github.com/StanleyChanH/MicroClaw/pkg/webhook"
	"github.com/StanleyChanH/MicroClaw/pkg/workspace"
)

const shutdownGrace = 15 * time.Second

// Daemon owns the assembled runtime components.
type Daemon struct {
	cfg *config.Config
	log *logger.Logger

	store     *session.Store
	cleanup   *session.Cleanup
	registry  *tool.Registry
	provider  provider.Provider
	queue     *commandqueue.Queue
	loop      *agent.Loop
	gateway   *gateway.Gateway
	workspace *workspace.Files
	watcher   *workspace.Watcher
	webhook   *webhook.Server
	cron      *cron.Service
}

// New builds the full runtime from configuration. Nothing is started;
// call Run or Start/Stop.
func New(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	log.Logger = lg.Zerolog()

	d := &Daemon{cfg: cfg, log: lg}
	if err := d.assemble(); err != nil {
		lg.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) assemble() error {
	cfg := d.cfg

	policy := session.ResetPolicy{
		Mode:        session.ResetMode(cfg.Session.ResetMode),
		AtHour:      cfg.Session.ResetHour,
		IdleMinutes: cfg.Session.IdleMinutes,
	}
	store, err := session.NewStore(filepath.Join(cfg.DataDir, "sessions"), policy)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	d.store = store
	d.cleanup = session.NewCleanup(store, 7*24*time.Hour)

	files, err := workspace.New(cfg.WorkspacePath)
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	d.workspace = files

	registry := tool.NewRegistry()
	if err := tool.RegisterBuiltins(registry, tool.BuiltinOptions{WorkspaceRoot: files.Root()}); err != nil {
		return fmt.Errorf("registering builtin tools: %w", err)
	}
	if err := workspace.RegisterMemoryTools(registry, files); err != nil {
		return fmt.Errorf("registering memory tools: %w", err)
	}
	d.registry = registry

	profiles := make([]provider.Profile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, provider.Profile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}
	prov, err := provider.NewFromProfiles(profiles)
	if err != nil {
		return fmt.Errorf("building provider: %w", err)
	}
	d.provider = prov

	d.queue = commandqueue.New()
	d.loop = agent.NewLoop(store, registry, prov, agent.Config{
		Model:                cfg.Agent.Model,
		SystemPrompt:         cfg.Agent.SystemPrompt,
		Temperature:          cfg.Agent.Temperature,
		MaxTokens:            cfg.Agent.MaxTokens,
		MaxSteps:             cfg.Agent.MaxSteps,
		MaxRetries:           cfg.Agent.MaxRetries,
		ContextLimit:         cfg.Agent.ContextLimit,
		CompressionThreshold: cfg.Agent.CompressionThreshold,
	})

	gw, err := gateway.New(gateway.Options{
		AgentID:   "main",
		DMScope:   cfg.Agent.DMScope,
		Loop:      d.loop,
		Store:     store,
		Queue:     d.queue,
		Workspace: files,
	})
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}
	d.gateway = gw

	if cfg.Webhook.Enabled {
		srv, err := webhook.NewServer(webhook.ServerOptions{
			Host:               cfg.Webhook.Host,
			Port:               cfg.Webhook.Port,
			RateLimitPerMinute: cfg.Webhook.RateLimitPerMinute,
			Timeout:            time.Duration(cfg.Webhook.Timeout) * time.Second,
		}, gw, d.log.Zerolog())
		if err != nil {
			return fmt.Errorf("building webhook server: %w", err)
		}
		d.webhook = srv
		if err := gw.Channels().Register(gateway.NewDirectChannel("webhook")); err != nil {
			return err
		}
	}

	cronSvc, err := cron.NewService(cron.ServiceOptions{
		StorePath: filepath.Join(cfg.DataDir, "cron", "jobs.json"),
		Run: func(ctx context.Context, jobName, message string) (string, error) {
			out, err := gw.HandleCron(ctx, jobName, message)
			if err != nil {
				return "", err
			}
			return out.Content, nil
		},
	})
	if err != nil {
		return fmt.Errorf("building cron service: %w", err)
	}
	d.cron = cronSvc

	return nil
}

// Gateway exposes the assembled gateway.
func (d *Daemon) Gateway() *gateway.Gateway {
	return d.gateway
}

// Start launches background services: the workspace watcher, archive
// cleanup, channel adapters, and the webhook listener.
func (d *Daemon) Start(ctx context.Context) error {
	if err := tracing.Setup(tracing.Options{ServiceName: "microclaw"}); err != nil {
		log.Warn().Err(err).Msg("Tracing init failed, continuing without traces")
	}

	watcher, err := workspace.NewWatcher(d.workspace, func(path string) {
		log.Debug().Str("path", path).Msg("Workspace file changed")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Workspace watcher unavailable")
	} else if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Workspace watcher failed to start")
	} else {
		d.watcher = watcher
	}

	if err := d.cleanup.Start(); err != nil {
		log.Warn().Err(err).Msg("Archive cleanup failed to start")
	}

	if err := d.gateway.Channels().StartAll(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	if d.webhook != nil {
		go func() {
			if err := d.webhook.Start(); err != nil {
				log.Error().Err(err).Msg("Webhook server exited")
			}
		}()
	}

	log.Info().
		Str("model", d.cfg.Agent.Model).
		Str("provider", d.provider.Name()).
		Bool("webhook", d.webhook != nil).
		Msg("MicroClaw daemon started")
	return nil
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-ctx.Done():
	}
	return d.Stop()
}

// Stop tears components down in reverse dependency order.
func (d *Daemon) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if d.cron != nil {
		d.cron.Stop()
	}
	if d.webhook != nil {
		if err := d.webhook.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Webhook shutdown error")
		}
	}
	if err := d.gateway.Channels().StopAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Channel shutdown error")
	}
	d.queue.WaitForActive(shutdownGrace)
	if err := d.queue.Close(); err != nil {
		log.Warn().Err(err).Msg("Queue shutdown error")
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	d.cleanup.Stop()

	if err := tracing.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Tracing shutdown error")
	}

	log.Info().Msg("MicroClaw daemon stopped")
	return d.log.Close()
}
