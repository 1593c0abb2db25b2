package run

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/enmapper/snowflow/internal/agent"
	"github.com/enmapper/snowflow/internal/model"
)

// drive executes the phase sequence for one run. It is the run's single
// logical writer: every state mutation below happens on this goroutine or
// on workers it owns.
func (r *Registry) drive(ctx context.Context, run *Run, req model.StartRequest) {
	catalog, err := r.runAnalysis(ctx, run, req)
	if err != nil {
		r.finishFailed(ctx, run, model.PhaseAnalysis, err)
		return
	}

	// Phase 2 and 3 proceed without waiting for the diagram.
	r.fireDiagram(ctx, run, catalog)

	plan, err := r.runDebate(ctx, run, catalog, req)
	if err != nil {
		r.finishFailed(ctx, run, model.PhasePlanning, err)
		return
	}

	if err := r.runExecution(ctx, run, catalog, plan, req); err != nil {
		r.finishFailed(ctx, run, model.PhaseExecution, err)
		return
	}

	r.finish(ctx, run)
}

// runAnalysis drives Phase 1 and returns the discovered catalog.
func (r *Registry) runAnalysis(ctx context.Context, run *Run, req model.StartRequest) (*model.Catalog, error) {
	run.update(func(s *runState) {
		s.phase = model.PhaseAnalysis
		s.p1.Status = model.PhaseRunning
	})
	run.logf(model.LogPhase1, "Starting Phase 1: Schema Analysis")

	report, err := r.collab.Analyzer.AnalyzeSchema(ctx, req.Phase1Instructions)
	if err != nil {
		return nil, err
	}
	catalog := report.Catalog
	if catalog == nil || len(catalog.Tables) == 0 {
		return nil, errors.New("schema analysis produced an empty catalog")
	}

	run.update(func(s *runState) {
		s.p1.Status = model.PhaseComplete
		s.p1.Iterations = report.Iterations
		s.p1.Tables = len(catalog.Tables)
		s.p1.Relationships = len(catalog.Relationships)
		s.p1.TableList = catalog.TableInfos()
	})
	run.logf(model.LogSuccess, "Phase 1 complete: %d tables found", len(catalog.Tables))

	// Best-effort catalog artifact; downstream tooling reads it from the
	// run folder. A failed write never fails the phase.
	if data, err := json.MarshalIndent(catalog, "", "  "); err == nil {
		path := filepath.Join(run.folder, "schema_catalog.json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			r.logger.Warn("catalog write failed", "path", path, "error", err)
		}
	}

	return catalog, nil
}

// finishFailed halts the run: downstream phases never start, the failing
// phase's error becomes the run's terminal error.
func (r *Registry) finishFailed(ctx context.Context, run *Run, phase int, err error) {
	if errors.Is(err, context.Canceled) {
		err = model.ErrCancelled
	}
	perr := &model.PhaseError{Phase: phase, Err: err}

	run.update(func(s *runState) {
		switch phase {
		case model.PhaseAnalysis:
			s.p1.Status = model.PhaseFailed
			s.p1.Error = err.Error()
		case model.PhasePlanning:
			s.p2.Status = model.PhaseFailed
			s.p2.Error = err.Error()
		case model.PhaseExecution:
			s.p3.Status = model.PhaseFailed
			s.p3.Error = err.Error()
		}
		s.complete = true
		s.success = false
		s.err = perr.Error()
		now := time.Now().UTC()
		s.completedAt = &now
	})
	run.logf(model.LogError, "Phase %d failed: %v", phase, err)

	r.logger.Error("migration failed",
		"migration_id", run.migrationID, "phase", phase, "error", err)
	recordCompletion(ctx, false)
}

// finish marks the run complete. Success requires all three phases
// complete and every Phase 3 task result to match.
func (r *Registry) finish(ctx context.Context, run *Run) {
	var success bool
	run.update(func(s *runState) {
		success = s.p1.Status == model.PhaseComplete &&
			s.p2.Status == model.PhaseComplete &&
			s.p3.Status == model.PhaseComplete
		for _, res := range s.p3.Results {
			if !res.Match {
				success = false
			}
		}
		s.complete = true
		s.success = success
		now := time.Now().UTC()
		s.completedAt = &now
	})
	if success {
		run.logf(model.LogSuccess, "Migration completed successfully!")
	} else {
		run.logf(model.LogWarning, "Migration completed with mismatched tables")
	}

	r.logger.Info("migration complete", "migration_id", run.migrationID, "success", success)
	recordCompletion(ctx, success)
}

// agentModel maps a debate role to its configured deployment.
func agentModel(cfg model.PlannerConfig, a agent.DebateAgent) string {
	if a == agent.AgentAlpha {
		return cfg.AlphaModel
	}
	return cfg.BetaModel
}

// planSummary extracts a short status line from a plan artifact.
func planSummary(artifact string) string {
	for i := 0; i < len(artifact); i++ {
		if artifact[i] == '\n' {
			artifact = artifact[:i]
			break
		}
	}
	const maxSummary = 200
	if len(artifact) > maxSummary {
		artifact = artifact[:maxSummary]
	}
	if strings.TrimSpace(artifact) == "" {
		artifact = "Migration plan created successfully"
	}
	return artifact
}
