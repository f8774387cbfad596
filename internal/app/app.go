// Package app wires a configured orchestrator for the relayd and relaybot
// entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	relay "github.com/nevindra/relay"
	"github.com/nevindra/relay/internal/config"
	"github.com/nevindra/relay/observer"
	"github.com/nevindra/relay/provider/anthropic"
	"github.com/nevindra/relay/provider/openaicompat"
	"github.com/nevindra/relay/sandbox"
	"github.com/nevindra/relay/store/postgres"
	"github.com/nevindra/relay/store/sqlite"
	"github.com/nevindra/relay/tools/doc"
	"github.com/nevindra/relay/tools/web"
)

// App bundles the running pieces an entry point needs.
type App struct {
	Orch     *relay.Orchestrator
	Logger   *slog.Logger
	Shutdown func(context.Context) error
}

// Build assembles provider, runner, store, observability, and the builtin
// tool tree from config. extraTools, when non-nil, is merged over the
// builtins.
func Build(ctx context.Context, cfg config.Config, extraTools *relay.Tree) (*App, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	var runner relay.CodeRunner = sandbox.NewRunner(
		sandbox.WithTimeout(time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second),
	)

	shutdown := func(context.Context) error { return nil }
	var tracer relay.Tracer
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		inst, stop, err := observer.Init(ctx, pricing)
		if err != nil {
			return nil, fmt.Errorf("observer init: %w", err)
		}
		shutdown = stop
		provider = observer.WrapProvider(provider, cfg.LLM.Model, inst)
		runner = observer.WrapRunner(runner, inst)
		tracer = observer.NewTracer()
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tools := relay.Merge(web.New().Tree(), doc.New().Tree(), extraTools)

	opts := []relay.OrchestratorOption{
		relay.WithLogger(logger),
		relay.WithMaxRounds(cfg.Server.MaxRounds),
	}
	if store != nil {
		opts = append(opts, relay.WithStore(store))
	}
	if tracer != nil {
		opts = append(opts, relay.WithTracer(tracer))
	}

	return &App{
		Orch:     relay.NewOrchestrator(provider, tools, runner, opts...),
		Logger:   logger,
		Shutdown: shutdown,
	}, nil
}

func buildProvider(cfg config.Config) (relay.Provider, error) {
	switch cfg.LLM.Provider {
	case "anthropic", "":
		return anthropic.New(cfg.LLM.APIKey, anthropic.WithModel(cfg.LLM.Model)), nil
	case "openai":
		baseURL := cfg.LLM.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func buildStore(ctx context.Context, cfg config.Config) (relay.TaskStore, error) {
	switch cfg.Database.Driver {
	case "":
		return nil, nil
	case "sqlite":
		s := sqlite.New(cfg.Database.Path)
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		s := postgres.New(pool)
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
