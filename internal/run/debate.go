package run

import (
	"context"
	"fmt"

	"github.com/enmapper/snowflow/internal/agent"
	"github.com/enmapper/snowflow/internal/model"
)

// runDebate drives Phase 2: the two planning roles alternate for the
// configured number of rounds, each consuming the prior round's artifact
// and producing a revised one. Odd rounds belong to the first mover.
// Any round failure fails the whole phase; partial artifacts are
// discarded, never merged into the state.
func (r *Registry) runDebate(ctx context.Context, run *Run, catalog *model.Catalog, req model.StartRequest) (string, error) {
	rounds := req.Planner.DebateRounds
	run.update(func(s *runState) {
		s.phase = model.PhasePlanning
		s.p2.Status = model.PhaseRunning
		s.p2.Rounds = rounds
	})
	run.logf(model.LogPhase2, "Starting Phase 2: Migration Planning")

	var artifact string
	for k := 1; k <= rounds; k++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		actor := r.opts.FirstMover
		if k%2 == 0 {
			actor = actor.Other()
		}

		run.update(func(s *runState) {
			s.p2.Round = k
			s.p2.Agent = string(actor)
		})
		run.logf(model.LogPhase2, "Debate round %d: %s", k, actor)

		res, err := r.collab.Planner.DebateRound(ctx, agent.DebateRequest{
			Round:         k,
			Agent:         actor,
			Model:         agentModel(req.Planner, actor),
			Instructions:  req.Phase2Instructions,
			Catalog:       catalog,
			PriorArtifact: artifact,
		})
		if err != nil {
			return "", fmt.Errorf("debate round %d (%s): %w", k, actor, err)
		}
		artifact = res.Artifact

		// Early-stop hint. Recorded for the trail, but the protocol
		// honors the configured round count unconditionally.
		if res.Converged {
			run.logf(model.LogInfo, "Round %d signalled convergence", k)
		}
	}

	summary := planSummary(artifact)
	run.update(func(s *runState) {
		s.p2.Status = model.PhaseComplete
		s.p2.Rounds = rounds
		s.p2.Summary = summary
	})
	run.logf(model.LogSuccess, "Phase 2 complete: Migration plan ready")
	return artifact, nil
}
