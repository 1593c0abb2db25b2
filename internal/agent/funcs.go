package agent

import (
	"context"

	"github.com/enmapper/snowflow/internal/model"
)

// Function adapters so callers (and tests) can provide collaborators
// without declaring a type.

// AnalyzerFunc adapts a function to the SchemaAnalyzer interface.
type AnalyzerFunc func(ctx context.Context, instructions string) (AnalysisReport, error)

func (f AnalyzerFunc) AnalyzeSchema(ctx context.Context, instructions string) (AnalysisReport, error) {
	return f(ctx, instructions)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, req DebateRequest) (DebateResult, error)

func (f PlannerFunc) DebateRound(ctx context.Context, req DebateRequest) (DebateResult, error) {
	return f(ctx, req)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req TaskRequest) (model.TableResult, error)

func (f ExecutorFunc) ExecuteTask(ctx context.Context, req TaskRequest) (model.TableResult, error) {
	return f(ctx, req)
}

// RendererFunc adapts a function to the DiagramRenderer interface.
type RendererFunc func(ctx context.Context, catalog *model.Catalog) (string, error)

func (f RendererFunc) RenderDiagram(ctx context.Context, catalog *model.Catalog) (string, error) {
	return f(ctx, catalog)
}
