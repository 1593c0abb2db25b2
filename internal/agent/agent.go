// Package agent defines the collaborator boundary the orchestrator drives:
// schema analysis, the planning debate, task execution, and diagram
// rendering. The orchestrator treats every invocation as opaque; it only
// sees a typed result or a typed failure.
package agent

import (
	"context"

	"github.com/enmapper/snowflow/internal/model"
)

// DebateAgent identifies one of the two fixed planning roles.
type DebateAgent string

const (
	AgentAlpha DebateAgent = "alpha"
	AgentBeta  DebateAgent = "beta"
)

// Other returns the opposing debate role.
func (a DebateAgent) Other() DebateAgent {
	if a == AgentAlpha {
		return AgentBeta
	}
	return AgentAlpha
}

// AnalysisReport is the Phase 1 outcome: the discovered catalog plus the
// number of refinement iterations the analyzer ran internally.
type AnalysisReport struct {
	Catalog    *model.Catalog
	Iterations int
}

// SchemaAnalyzer discovers the source schema from free-form instructions
// (connection details are embedded in the instructions, as in Phase 1).
type SchemaAnalyzer interface {
	AnalyzeSchema(ctx context.Context, instructions string) (AnalysisReport, error)
}

// DebateRequest is one alternating turn of the Phase 2 debate.
// PriorArtifact is empty on round 1 and carries the previous round's
// revised plan afterwards.
type DebateRequest struct {
	Round         int
	Agent         DebateAgent
	Model         string
	Instructions  string
	Catalog       *model.Catalog
	PriorArtifact string
}

// DebateResult is the artifact produced by one debate round. Converged is
// an early-stop hint; the debate loop currently records it but always runs
// the configured round count.
type DebateResult struct {
	Artifact  string
	Converged bool
}

// Planner produces one debate round's revised plan artifact.
type Planner interface {
	DebateRound(ctx context.Context, req DebateRequest) (DebateResult, error)
}

// TaskRequest is one attempt at a Phase 3 task. PriorError carries the
// previous attempt's failure reason (empty on attempt 1) so the executor
// can self-correct.
type TaskRequest struct {
	Table        model.TableSchema
	Plan         string
	Instructions string
	Attempt      int
	PriorError   string
	Model        string
	Effort       string
}

// Executor applies one task against the target store and validates it.
// A returned error means the attempt failed and may be retried; a returned
// TableResult is terminal for the task.
type Executor interface {
	ExecuteTask(ctx context.Context, req TaskRequest) (model.TableResult, error)
}

// DiagramRenderer turns a catalog into Mermaid erDiagram text.
type DiagramRenderer interface {
	RenderDiagram(ctx context.Context, catalog *model.Catalog) (string, error)
}
