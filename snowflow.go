// Package snowflow is the public API for embedding the snowflow migration
// orchestration server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := snowflow.New(
//	    snowflow.WithVersion(version),
//	    snowflow.WithLogger(logger),
//	    snowflow.WithExecutor(myWarehouseExecutor),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: snowflow (root) imports
// internal/*, but internal/* never imports snowflow (root).
package snowflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/enmapper/snowflow/internal/agent"
	"github.com/enmapper/snowflow/internal/config"
	"github.com/enmapper/snowflow/internal/introspect"
	"github.com/enmapper/snowflow/internal/model"
	"github.com/enmapper/snowflow/internal/ratelimit"
	"github.com/enmapper/snowflow/internal/run"
	"github.com/enmapper/snowflow/internal/server"
	"github.com/enmapper/snowflow/internal/telemetry"
)

// App is the snowflow server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	registry     *run.Registry
	srv          *server.Server
	broker       *server.Broker
	analyzer     *introspect.Analyzer // nil when live introspection is not configured
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the snowflow server. It wires collaborators from
// configuration and option overrides and returns a ready-to-run App.
// It does NOT accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("snowflow starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	app := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}

	// Schema analyzer: external override, else live Postgres introspection.
	analyzer := o.analyzer
	if analyzer == nil {
		if cfg.SourceDSN == "" {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("schema analyzer required: set SNOWFLOW_SOURCE_DSN or pass WithAnalyzer")
		}
		pg, err := introspect.New(context.Background(), cfg.SourceDSN, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("introspect: %w", err)
		}
		app.analyzer = pg
		analyzer = pg
		logger.Info("schema analyzer: postgres introspection")
	}

	// Planner and diagram renderer: model provider when configured,
	// deterministic fallbacks otherwise.
	planner := o.planner
	var renderer agent.DiagramRenderer = agent.MermaidRenderer{}
	if cfg.AzureBaseURL != "" {
		clientCfg := agent.ChatClientConfig{
			BaseURL:    cfg.AzureBaseURL,
			APIKey:     cfg.AzureAPIKey,
			APIVersion: cfg.AzureAPIVersion,
		}
		if planner == nil {
			planner = agent.NewLLMPlanner(clientCfg)
		}
		renderer = agent.NewLLMRenderer(clientCfg)
		logger.Info("planner: model provider", "base_url", cfg.AzureBaseURL)
	} else if planner == nil {
		planner = agent.StaticPlanner{}
		logger.Info("planner: static draft (no model provider configured)")
	}
	if o.renderer != nil {
		renderer = o.renderer
	}

	executor := o.executor
	if executor == nil {
		executor = agent.DryRunExecutor{}
		logger.Warn("executor: dry run (no data is moved; pass WithExecutor for real migration)")
	}

	app.broker = server.NewBroker(logger)

	firstMover := agent.AgentAlpha
	if cfg.FirstMover == "beta" {
		firstMover = agent.AgentBeta
	}
	app.registry = run.NewRegistry(
		run.Collaborators{
			Analyzer: analyzer,
			Planner:  planner,
			Executor: executor,
			Renderer: renderer,
		},
		run.Options{
			OutputDir:           cfg.OutputDir,
			Retention:           cfg.Retention,
			TaskConcurrency:     cfg.TaskConcurrency,
			FirstMover:          firstMover,
			DefaultDebateRounds: cfg.DebateRounds,
			OnLog:               app.broker.Publish,
		},
		logger,
	)

	if cfg.RateLimitRPS > 0 {
		app.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		app.limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	app.srv = server.New(server.Config{
		Registry:            app.registry,
		Logger:              logger,
		Limiter:             app.limiter,
		Broker:              app.broker,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return app, nil
}

// Handler returns the root HTTP handler, primarily for tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Start begins a migration run directly, bypassing HTTP. Useful for
// embedding consumers that drive runs programmatically.
func (a *App) Start(req model.StartRequest) (model.StartResponse, error) {
	return a.registry.Start(req)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. It then shuts everything down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.close()
		return err
	}

	a.logger.Info("snowflow shutting down")

	httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	a.close()
	a.logger.Info("snowflow stopped")
	return nil
}

// close tears down everything Run started, in dependency order: active
// pipelines first, then their collaborators, then telemetry.
func (a *App) close() {
	a.registry.Close()
	a.broker.Close()
	if a.analyzer != nil {
		a.analyzer.Close()
	}
	_ = a.limiter.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = a.otelShutdown(shutdownCtx)
	cancel()
}
