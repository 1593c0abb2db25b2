package snowflow

import (
	"log/slog"

	"github.com/enmapper/snowflow/internal/agent"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port      int
	outputDir string
	logger    *slog.Logger
	version   string
	analyzer  agent.SchemaAnalyzer
	planner   agent.Planner
	executor  agent.Executor
	renderer  agent.DiagramRenderer
}

// WithPort overrides the TCP port from config (SNOWFLOW_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithOutputDir overrides the base directory for run artifact folders
// (SNOWFLOW_OUTPUT_DIR env var).
func WithOutputDir(dir string) Option {
	return func(o *resolvedOptions) { o.outputDir = dir }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithAnalyzer replaces the Postgres introspection analyzer used for
// schema discovery. Required when SNOWFLOW_SOURCE_DSN is unset.
func WithAnalyzer(a agent.SchemaAnalyzer) Option {
	return func(o *resolvedOptions) { o.analyzer = a }
}

// WithPlanner replaces the configured planning agent for debate rounds.
func WithPlanner(p agent.Planner) Option {
	return func(o *resolvedOptions) { o.planner = p }
}

// WithExecutor replaces the dry-run executor with one that moves data.
// The executor receives one table task per call, with the prior attempt's
// failure reason on retries.
func WithExecutor(e agent.Executor) Option {
	return func(o *resolvedOptions) { o.executor = e }
}

// WithRenderer replaces the schema diagram renderer.
func WithRenderer(r agent.DiagramRenderer) Option {
	return func(o *resolvedOptions) { o.renderer = r }
}
