package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRequestNormalizeDefaults(t *testing.T) {
	req := StartRequest{
		RunID:              "acme_prod",
		Phase1Instructions: "analyze public schema",
	}
	req.Normalize()

	assert.Equal(t, DefaultAlphaModel, req.Planner.AlphaModel)
	assert.Equal(t, DefaultBetaModel, req.Planner.BetaModel)
	assert.Equal(t, DefaultDebateRounds, req.Planner.DebateRounds)
	assert.Equal(t, DefaultWorkerModel, req.Worker.Model)
	assert.Equal(t, DefaultWorkerEffort, req.Worker.Effort)
}

func TestStartRequestNormalizeKeepsOverrides(t *testing.T) {
	req := StartRequest{
		RunID:              "acme_prod",
		Phase1Instructions: "analyze",
		Planner:            PlannerConfig{AlphaModel: "custom-a", BetaModel: "custom-b", DebateRounds: 5},
		Worker:             WorkerConfig{Model: "custom-w", Effort: "high"},
	}
	req.Normalize()

	assert.Equal(t, "custom-a", req.Planner.AlphaModel)
	assert.Equal(t, "custom-b", req.Planner.BetaModel)
	assert.Equal(t, 5, req.Planner.DebateRounds)
	assert.Equal(t, "custom-w", req.Worker.Model)
	assert.Equal(t, "high", req.Worker.Effort)
}

func TestStartRequestValidate(t *testing.T) {
	tests := []struct {
		name      string
		req       StartRequest
		wantField string
	}{
		{
			name:      "missing run_id",
			req:       StartRequest{Phase1Instructions: "analyze"},
			wantField: "run_id",
		},
		{
			name:      "whitespace run_id",
			req:       StartRequest{RunID: "   ", Phase1Instructions: "analyze"},
			wantField: "run_id",
		},
		{
			name:      "run_id with slash",
			req:       StartRequest{RunID: "acme/prod", Phase1Instructions: "analyze"},
			wantField: "run_id",
		},
		{
			name:      "run_id with backslash",
			req:       StartRequest{RunID: `acme\prod`, Phase1Instructions: "analyze"},
			wantField: "run_id",
		},
		{
			name:      "run_id with parent traversal",
			req:       StartRequest{RunID: "../escaped/evil", Phase1Instructions: "analyze"},
			wantField: "run_id",
		},
		{
			name:      "run_id with bare dotdot",
			req:       StartRequest{RunID: "..", Phase1Instructions: "analyze"},
			wantField: "run_id",
		},
		{
			name:      "missing phase1 instructions",
			req:       StartRequest{RunID: "r1"},
			wantField: "phase1_instructions",
		},
		{
			name: "oversized phase2 instructions",
			req: StartRequest{
				RunID:              "r1",
				Phase1Instructions: "analyze",
				Phase2Instructions: strings.Repeat("x", MaxInstructionsLen+1),
			},
			wantField: "phase2_instructions",
		},
		{
			name: "valid",
			req:  StartRequest{RunID: "r1", Phase1Instructions: "analyze"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestPhaseErrorUnwrap(t *testing.T) {
	perr := &PhaseError{Phase: PhasePlanning, Err: ErrCancelled}
	require.True(t, errors.Is(perr, ErrCancelled))
	assert.Contains(t, perr.Error(), PhaseName(PhasePlanning))
}

func TestLogsAfterCursor(t *testing.T) {
	snap := RunSnapshot{
		Logs: []LogEntry{
			{Seq: 1, Message: "one"},
			{Seq: 2, Message: "two"},
			{Seq: 3, Message: "three"},
		},
	}

	assert.Len(t, snap.LogsAfter(0), 3)
	assert.Len(t, snap.LogsAfter(2), 1)
	assert.Equal(t, "three", snap.LogsAfter(2)[0].Message)
	assert.Empty(t, snap.LogsAfter(3))
	assert.Empty(t, snap.LogsAfter(99))
}
