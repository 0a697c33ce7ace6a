package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/crewflow/internal/config"
	"github.com/p-blackswan/crewflow/internal/health"
	"github.com/p-blackswan/crewflow/internal/memory"
	"github.com/p-blackswan/crewflow/internal/metrics"
	"github.com/p-blackswan/crewflow/internal/notify"
	"github.com/p-blackswan/crewflow/internal/orchestrator"
	"github.com/p-blackswan/crewflow/internal/pipeline"
	"github.com/p-blackswan/crewflow/internal/project"
	"github.com/p-blackswan/crewflow/internal/store"
)

// app is the wired process: storage, memory, observability and the
// orchestrator built from the pipeline file.
type app struct {
	cfg      *config.Config
	pipeline *pipeline.Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	data     *store.Store
	projects *project.Store
	memory   *memory.Store
	checker  *health.Checker
	orch     *orchestrator.Orchestrator
}

func newApp(cfg *config.Config, pipelineFile string, logger zerolog.Logger) (*app, error) {
	if pipelineFile == "" {
		pipelineFile = cfg.PipelineFile
	}
	pcfg := pipeline.Default()
	if pipelineFile != "" {
		var err error
		if pcfg, err = pipeline.Load(pipelineFile); err != nil {
			return nil, err
		}
	}
	if cfg.AnthropicModel != "" {
		pcfg.LLM.Model = cfg.AnthropicModel
	}
	if cfg.AnthropicMaxTokens > 0 {
		pcfg.LLM.MaxTokens = cfg.AnthropicMaxTokens
	}

	provider, err := pcfg.Provider(cfg.AnthropicAPIKey, logger)
	if err != nil {
		return nil, err
	}
	crews, err := pcfg.BuildCrews(provider, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		pipeline: pcfg,
		logger:   logger,
		metrics:  metrics.New(),
		checker:  health.NewChecker(logger),
	}

	a.data, err = store.New(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	a.projects = project.NewStore(a.data, logger)
	a.checker.Register("database", func(ctx context.Context) health.Status {
		if err := a.data.Ping(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	backend, err := newMemoryBackend(cfg, logger)
	if err != nil {
		a.data.Close()
		return nil, err
	}
	a.memory = memory.NewStore(backend, logger, memory.WithMetrics(a.metrics))
	a.checker.Register("memory", a.memory.HealthCheck())

	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.SlackEnabled() {
		notifiers = append(notifiers, notify.NewSlackNotifier(notify.NewSlackClient(cfg.SlackBotToken), cfg.SlackChannel, logger))
	}

	a.orch = orchestrator.New(orchestrator.Deps{
		Crews:    crews,
		Memory:   a.memory,
		Store:    a.projects,
		Metrics:  a.metrics,
		Notifier: notify.NewMultiNotifier(a.metrics, notifiers...),
		Logger:   logger,
	}, pcfg.Apply(cfg.OrchestratorConfig()))

	logger.Info().
		Str("pipeline", pcfg.Name).
		Str("memory_backend", cfg.MemoryBackend).
		Bool("llm", pcfg.UsesLLM()).
		Bool("slack", cfg.SlackEnabled()).
		Msg("crewflow initialized")
	return a, nil
}

func newMemoryBackend(cfg *config.Config, logger zerolog.Logger) (memory.Backend, error) {
	switch cfg.MemoryBackend {
	case "memory":
		return memory.NewInMemoryStore(), nil
	case "sqlite", "":
		return memory.NewSQLiteStore(cfg.MemoryDSN, logger)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.MemoryBackend)
	}
}

// runRetention prunes finished projects and old audit entries, then
// refreshes the database size gauge.
func (a *app) runRetention(ctx context.Context) {
	removed, err := a.data.RunRetention(ctx, store.RetentionPolicy{
		FinishedProjects: a.cfg.ProjectRetention,
		Audit:            a.cfg.AuditRetention,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("retention failed")
	} else if removed > 0 {
		a.logger.Info().Int64("removed", removed).Msg("retention removed rows")
	}
	if size, err := a.data.DBSizeBytes(); err == nil {
		a.metrics.SetDBSize(size)
	}
}

func (a *app) Close() error {
	return errors.Join(a.memory.Close(), a.data.Close())
}
