package run

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enmapper/snowflow/internal/agent"
	"github.com/enmapper/snowflow/internal/model"
)

func TestPipelineHappyPath(t *testing.T) {
	r := newTestRegistry(t, passingCollaborators(), Options{})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)
	status := waitComplete(t, r, resp.MigrationID)

	assert.True(t, status.Success)
	assert.Empty(t, status.Error)
	assert.Equal(t, 100, status.Progress)
	require.NotNil(t, status.CompletedAt)

	assert.Equal(t, model.PhaseComplete, status.Phase1.Status)
	assert.Equal(t, 3, status.Phase1.Tables)
	assert.Equal(t, 2, status.Phase1.Relationships)
	assert.Len(t, status.Phase1.TableList, 3)

	assert.Equal(t, model.PhaseComplete, status.Phase2.Status)
	assert.Equal(t, model.DefaultDebateRounds, status.Phase2.Rounds)
	assert.NotEmpty(t, status.Phase2.Summary)

	assert.Equal(t, model.PhaseComplete, status.Phase3.Status)
	assert.Equal(t, 3, status.Phase3.Completed)
	require.Len(t, status.Phase3.Results, 3)
	for _, res := range status.Phase3.Results {
		assert.True(t, res.Match, "table %s", res.Table)
		assert.Equal(t, res.SourceRows, res.TargetRows, "table %s", res.Table)
	}
}

// Later phases must never start before their predecessor completed.
func TestPipelinePersistsCatalogArtifact(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, passingCollaborators(), Options{OutputDir: dir})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)
	waitComplete(t, r, resp.MigrationID)

	data, err := os.ReadFile(filepath.Join(dir, resp.RunFolder, "schema_catalog.json"))
	require.NoError(t, err)

	var catalog model.Catalog
	require.NoError(t, json.Unmarshal(data, &catalog))
	assert.Equal(t, "public", catalog.Schema)
	assert.Len(t, catalog.Tables, 3)
	assert.Len(t, catalog.Relationships, 2)
}

func TestPipelinePhaseGating(t *testing.T) {
	var mu sync.Mutex
	var order []string

	collab := passingCollaborators()
	collab.Analyzer = agent.AnalyzerFunc(func(context.Context, string) (agent.AnalysisReport, error) {
		mu.Lock()
		order = append(order, "analysis")
		mu.Unlock()
		return agent.AnalysisReport{Catalog: testCatalog(), Iterations: 1}, nil
	})
	collab.Planner = agent.PlannerFunc(func(_ context.Context, req agent.DebateRequest) (agent.DebateResult, error) {
		mu.Lock()
		order = append(order, "debate")
		mu.Unlock()
		return agent.DebateResult{Artifact: "plan"}, nil
	})
	collab.Executor = agent.ExecutorFunc(func(_ context.Context, req agent.TaskRequest) (model.TableResult, error) {
		mu.Lock()
		order = append(order, "task")
		mu.Unlock()
		return model.TableResult{
			Table: req.Table.Name, SourceRows: req.Table.RowCount,
			TargetRows: req.Table.RowCount, Match: true,
		}, nil
	})
	r := newTestRegistry(t, collab, Options{})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)
	waitComplete(t, r, resp.MigrationID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 1+model.DefaultDebateRounds+3)
	assert.Equal(t, "analysis", order[0])
	for i := 1; i <= model.DefaultDebateRounds; i++ {
		assert.Equal(t, "debate", order[i])
	}
	for _, step := range order[1+model.DefaultDebateRounds:] {
		assert.Equal(t, "task", step)
	}
}

func TestPipelineAnalysisFailureStopsRun(t *testing.T) {
	plannerCalled := atomic.Bool{}
	collab := passingCollaborators()
	collab.Analyzer = agent.AnalyzerFunc(func(context.Context, string) (agent.AnalysisReport, error) {
		return agent.AnalysisReport{}, errors.New("connection refused")
	})
	collab.Planner = agent.PlannerFunc(func(context.Context, agent.DebateRequest) (agent.DebateResult, error) {
		plannerCalled.Store(true)
		return agent.DebateResult{}, nil
	})
	r := newTestRegistry(t, collab, Options{})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)
	status := waitComplete(t, r, resp.MigrationID)

	assert.False(t, status.Success)
	assert.Contains(t, status.Error, "connection refused")
	assert.Equal(t, model.PhaseFailed, status.Phase1.Status)
	assert.Equal(t, model.PhasePending, status.Phase2.Status, "planning must not start after analysis failed")
	assert.Equal(t, model.PhasePending, status.Phase3.Status)
	assert.False(t, plannerCalled.Load())
}

func TestPipelineRejectsEmptyCatalog(t *testing.T) {
	collab := passingCollaborators()
	collab.Analyzer = agent.AnalyzerFunc(func(context.Context, string) (agent.AnalysisReport, error) {
		return agent.AnalysisReport{Catalog: &model.Catalog{}, Iterations: 1}, nil
	})
	r := newTestRegistry(t, collab, Options{})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)
	status := waitComplete(t, r, resp.MigrationID)

	assert.False(t, status.Success)
	assert.Equal(t, model.PhaseFailed, status.Phase1.Status)
	assert.Contains(t, status.Error, "empty catalog")
}

func TestPipelineMismatchedTableDegradesSuccess(t *testing.T) {
	collab := passingCollaborators()
	collab.Executor = agent.ExecutorFunc(func(_ context.Context, req agent.TaskRequest) (model.TableResult, error) {
		res := model.TableResult{
			Table: req.Table.Name, SourceRows: req.Table.RowCount,
			TargetRows: req.Table.RowCount, Match: true,
		}
		if req.Table.Name == "orders" {
			res.TargetRows = res.SourceRows - 1
			res.Match = false
		}
		return res, nil
	})
	r := newTestRegistry(t, collab, Options{})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)
	status := waitComplete(t, r, resp.MigrationID)

	// All phases ran to completion, but one mismatch sinks the outcome.
	assert.Equal(t, model.PhaseComplete, status.Phase3.Status)
	assert.False(t, status.Success)
	require.Len(t, status.Phase3.Results, 3)
}

// Progress must never move backwards, whatever the pollers observe.
func TestProgressMonotonic(t *testing.T) {
	r := newTestRegistry(t, passingCollaborators(), Options{})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)

	last := -1
	require.Eventually(t, func() bool {
		status, err := r.Status(resp.MigrationID, 0)
		if err != nil {
			return false
		}
		if status.Progress < last {
			t.Errorf("progress went backwards: %d -> %d", last, status.Progress)
		}
		last = status.Progress
		return status.Complete
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, 100, last)
}

func TestFailedRunFreezesProgress(t *testing.T) {
	collab := passingCollaborators()
	collab.Planner = agent.PlannerFunc(func(context.Context, agent.DebateRequest) (agent.DebateResult, error) {
		return agent.DebateResult{}, errors.New("model unavailable")
	})
	r := newTestRegistry(t, collab, Options{})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)
	status := waitComplete(t, r, resp.MigrationID)

	assert.False(t, status.Success)
	assert.GreaterOrEqual(t, status.Progress, 30, "analysis completed before the failure")
	assert.Less(t, status.Progress, 100)
}

func TestLogCursorDeliversEachEntryOnce(t *testing.T) {
	r := newTestRegistry(t, passingCollaborators(), Options{})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)

	var collected []model.LogEntry
	var cursor uint64
	require.Eventually(t, func() bool {
		status, err := r.Status(resp.MigrationID, cursor)
		if err != nil {
			return false
		}
		collected = append(collected, status.Logs...)
		cursor = status.Cursor
		return status.Complete && len(status.Logs) == 0
	}, 5*time.Second, time.Millisecond)

	require.NotEmpty(t, collected)
	for i, e := range collected {
		assert.Equal(t, uint64(i+1), e.Seq, "gap or duplicate at index %d", i)
	}

	// A full replay from cursor zero matches what incremental polling saw.
	full, err := r.Status(resp.MigrationID, 0)
	require.NoError(t, err)
	require.Len(t, full.Logs, len(collected))
}

func TestDiagramLifecycle(t *testing.T) {
	var renders atomic.Int32
	block := make(chan struct{})
	collab := passingCollaborators()
	collab.Renderer = agent.RendererFunc(func(_ context.Context, c *model.Catalog) (string, error) {
		renders.Add(1)
		<-block
		return "erDiagram\n", nil
	})
	r := newTestRegistry(t, collab, Options{})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)

	// While the render is in flight every poller sees not-ready.
	require.Eventually(t, func() bool { return renders.Load() == 1 }, 5*time.Second, time.Millisecond)
	for i := 0; i < 5; i++ {
		_, err := r.Diagram(resp.MigrationID)
		assert.ErrorIs(t, err, model.ErrNotReady)
	}

	close(block)
	require.Eventually(t, func() bool {
		code, err := r.Diagram(resp.MigrationID)
		return err == nil && code == "erDiagram\n"
	}, 5*time.Second, time.Millisecond)

	waitComplete(t, r, resp.MigrationID)
	assert.Equal(t, int32(1), renders.Load(), "render must fire exactly once")
}

func TestDiagramFailureDoesNotFailRun(t *testing.T) {
	collab := passingCollaborators()
	collab.Renderer = agent.RendererFunc(func(context.Context, *model.Catalog) (string, error) {
		return "", errors.New("render exploded")
	})
	r := newTestRegistry(t, collab, Options{})

	resp, err := r.Start(startRequest())
	require.NoError(t, err)
	status := waitComplete(t, r, resp.MigrationID)

	assert.True(t, status.Success, "diagram failure must degrade, not fail the run")

	require.Eventually(t, func() bool {
		_, err := r.Diagram(resp.MigrationID)
		return err != nil && errors.Is(err, model.ErrNotReady) &&
			err.Error() != model.ErrNotReady.Error()
	}, 5*time.Second, time.Millisecond)
}

func TestPlanSummary(t *testing.T) {
	assert.Equal(t, "First line", planSummary("First line\nsecond line"))
	assert.Equal(t, "Migration plan created successfully", planSummary("   \n\nrest"))
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, planSummary(string(long)), 200)
}
