package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/agent"
	"github.com/Eng-Elias/codetective/internal/agent/aireview"
	"github.com/Eng-Elias/codetective/internal/agent/comment"
	"github.com/Eng-Elias/codetective/internal/agent/edit"
	"github.com/Eng-Elias/codetective/internal/agent/secrets"
	"github.com/Eng-Elias/codetective/internal/agent/semgrep"
	"github.com/Eng-Elias/codetective/internal/agent/trivy"
	"github.com/Eng-Elias/codetective/internal/config"
	"github.com/Eng-Elias/codetective/internal/execx"
	"github.com/Eng-Elias/codetective/internal/knowledge"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/ollama"
	"github.com/Eng-Elias/codetective/internal/orchestrator"
	"github.com/Eng-Elias/codetective/internal/system"
	"github.com/Eng-Elias/codetective/internal/telemetry"
	"github.com/Eng-Elias/codetective/internal/version"
)

// app holds the wired-up services every command runs against.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	tel       *telemetry.Telemetry
	ollama    *ollama.Client
	registry  *agent.Registry
	knowledge *knowledge.Store
	svc       orchestrator.Service
	prober    *system.Prober
}

// newApp loads configuration, applies CLI overrides and wires the full
// service graph: telemetry, logging, the agent registry, the optional
// knowledge base and the orchestrator.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry, version.Version)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	log, err := newAppLogger(cfg, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	client, err := ollama.New(ollama.Config{
		BaseURL:   cfg.Ollama.BaseURL,
		Model:     cfg.Ollama.Model,
		Timeout:   cfg.Ollama.TimeoutDuration(),
		RateLimit: cfg.Ollama.RateLimit,
		Burst:     cfg.Ollama.Burst,
	})
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("configure ollama client: %w", err)
	}

	registry, err := buildRegistry(client, log)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	// The knowledge base is best-effort: a store that cannot open logs a
	// warning and the run continues without fix-history hints.
	var kb *knowledge.Store
	if cfg.Knowledge.Enabled {
		kb, err = knowledge.New(knowledge.Config{
			Path:           cfg.Knowledge.Path,
			OllamaURL:      cfg.Ollama.BaseURL,
			EmbeddingModel: cfg.Knowledge.EmbeddingModel,
		}, log)
		if err != nil {
			log.Warn(ctx, "knowledge base unavailable, continuing without fix history",
				zap.Error(err))
			kb = nil
		}
	}

	svc, err := orchestrator.New(registry, kb, log)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	return &app{
		cfg:       cfg,
		log:       log,
		tel:       tel,
		ollama:    client,
		registry:  registry,
		knowledge: kb,
		svc:       svc,
		prober:    system.NewProber(execx.OSRunner{}, client),
	}, nil
}

// Close flushes telemetry and logs. Safe to call on a partially built app.
func (a *app) Close(ctx context.Context) {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.tel != nil {
		_ = a.tel.Shutdown(ctx)
	}
}

// loadConfig loads configuration with CLI flag overrides applied and
// validated.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newAppLogger builds the logger from config, routing log records through
// OTLP as well when telemetry is enabled.
func newAppLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Log.Format
	logCfg.Output.OTEL = tel.IsEnabled()

	log, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return log, nil
}

// buildRegistry registers every agent the binary ships.
func buildRegistry(client *ollama.Client, log *logging.Logger) (*agent.Registry, error) {
	registry := agent.NewRegistry()

	registry.RegisterScan(agent.KindSemgrep, semgrep.New(execx.OSRunner{}, log))
	registry.RegisterScan(agent.KindTrivy, trivy.New(execx.OSRunner{}, log))
	registry.RegisterScan(agent.KindSecrets, secrets.New(log))

	review, err := aireview.New(client, log)
	if err != nil {
		return nil, fmt.Errorf("create ai_review agent: %w", err)
	}
	registry.RegisterScan(agent.KindAIReview, review)

	editor, err := edit.New(client, log)
	if err != nil {
		return nil, fmt.Errorf("create edit agent: %w", err)
	}
	registry.RegisterOutput(agent.KindEdit, editor)

	commenter, err := comment.New(client, log)
	if err != nil {
		return nil, fmt.Errorf("create comment agent: %w", err)
	}
	registry.RegisterOutput(agent.KindComment, commenter)

	return registry, nil
}
