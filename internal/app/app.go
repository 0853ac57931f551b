// Package app assembles the store, model gateway, crisis checker, engine and
// session service from configuration. Both the server and icebergctl use it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/iceberg/internal/agent"
	"github.com/ashureev/iceberg/internal/config"
	"github.com/ashureev/iceberg/internal/crisis"
	"github.com/ashureev/iceberg/internal/engine"
	"github.com/ashureev/iceberg/internal/llm"
	"github.com/ashureev/iceberg/internal/retention"
	"github.com/ashureev/iceberg/internal/sanitize"
	"github.com/ashureev/iceberg/internal/store"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config  *config.Config
	Repo    *store.SQLiteStore
	Gateway *llm.Gateway
	Engine  *engine.Engine
	Service *agent.Service
	Sweeper *retention.Sweeper

	remote *crisis.RemoteChecker
	logger *slog.Logger
}

// New opens the database and builds every component. A configured remote
// crisis lexicon that cannot be reached is logged and skipped; the local
// lexicon still screens every message.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Repo = repo
	if err := repo.Ping(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("store health check: %w", err)
	}

	gw, err := llm.FromDescriptors(cfg.Providers, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build model gateway: %w", err)
	}
	a.Gateway = gw
	if len(cfg.Providers) == 0 {
		logger.Warn("No model providers configured, responses will use static fallbacks")
	}

	checker := &crisis.Fallback{Secondary: crisis.NewLexicon(), Logger: logger}
	if cfg.Crisis.Addr != "" {
		rc := crisis.DefaultRemoteConfig(cfg.Crisis.Addr)
		rc.RequestTimeout = cfg.Crisis.Timeout
		remote, err := crisis.Dial(rc, logger)
		if err != nil {
			logger.Warn("Remote crisis lexicon unavailable, using local lexicon", "address", cfg.Crisis.Addr, "error", err)
		} else {
			a.remote = remote
			checker.Primary = remote
		}
	}

	a.Engine = engine.New(gw, checker,
		engine.WithLogger(logger),
		engine.WithPicker(sanitize.NewPicker(cfg.Engine.Picker, cfg.Engine.Seed)),
	)

	convLog, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("conversation logger: %w", err)
	}

	agentCfg := agent.DefaultConfig()
	agentCfg.HistoryLimit = cfg.HistoryLimit
	a.Service = agent.NewService(a.Engine, repo, agentCfg, convLog, logger)

	a.Sweeper = retention.NewSweeper(repo, cfg.Retention.Schedule, cfg.Retention.SessionTTL, func(deleted int64) {
		logger.Info("Idle sessions expired", "deleted", deleted, "session_ttl", cfg.Retention.SessionTTL)
	}, logger)

	return a, nil
}

// ProviderNames lists the configured providers in preference order.
func (a *App) ProviderNames() []string {
	if a.Gateway == nil {
		return nil
	}
	return a.Gateway.Names()
}

// CrisisHealth checks the remote crisis lexicon. It is nil when no remote
// lexicon is connected.
func (a *App) CrisisHealth() func(context.Context) error {
	if a.remote == nil {
		return nil
	}
	return a.remote.Healthy
}

// Close flushes the transcript log and closes the crisis connection and store.
func (a *App) Close() error {
	var errs []error
	if a.Service != nil {
		errs = append(errs, a.Service.Close())
	}
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	if a.Repo != nil {
		errs = append(errs, a.Repo.Close())
	}
	return errors.Join(errs...)
}
