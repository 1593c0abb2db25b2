package run

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/enmapper/snowflow/internal/agent"
	"github.com/enmapper/snowflow/internal/model"
)

// Collaborators are the external boundary operations the pipeline drives.
// All four are required.
type Collaborators struct {
	Analyzer agent.SchemaAnalyzer
	Planner  agent.Planner
	Executor agent.Executor
	Renderer agent.DiagramRenderer
}

// Options tune the registry and the pipelines it starts.
type Options struct {
	// OutputDir is the base directory for per-run folders.
	OutputDir string
	// Retention is how long a completed run stays queryable before the
	// janitor evicts it. Default 1h.
	Retention time.Duration
	// TaskConcurrency bounds how many Phase 3 tasks run at once.
	// Default 1 (strictly sequential).
	TaskConcurrency int
	// FirstMover is the debate role attributed to odd rounds.
	// Default alpha.
	FirstMover agent.DebateAgent
	// DefaultDebateRounds applies when a start request omits the round
	// count. Zero falls back to the request-level default.
	DefaultDebateRounds int
	// OnLog receives every appended log entry for live streaming.
	OnLog func(migrationID string, e model.LogEntry)
}

// Registry owns the set of active runs, keyed by migration id. Distinct
// runs may be inserted concurrently; each run's state is mutated only
// through its own pipeline.
type Registry struct {
	collab Collaborators
	opts   Options
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]*Run

	baseCtx    context.Context
	baseCancel context.CancelFunc
	done       chan struct{}
}

var runMeter = otel.GetMeterProvider().Meter("snowflow/run")

// NewRegistry creates a registry and starts its eviction janitor.
func NewRegistry(collab Collaborators, opts Options, logger *slog.Logger) *Registry {
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.TaskConcurrency <= 0 {
		opts.TaskConcurrency = 1
	}
	if opts.FirstMover == "" {
		opts.FirstMover = agent.AgentAlpha
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		collab:     collab,
		opts:       opts,
		logger:     logger,
		runs:       make(map[string]*Run),
		baseCtx:    ctx,
		baseCancel: cancel,
		done:       make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Start validates the request, allocates a run and its folder, registers
// it, and begins the pipeline asynchronously. It returns immediately.
func (r *Registry) Start(req model.StartRequest) (model.StartResponse, error) {
	if req.Planner.DebateRounds <= 0 && r.opts.DefaultDebateRounds > 0 {
		req.Planner.DebateRounds = r.opts.DefaultDebateRounds
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return model.StartResponse{}, err
	}

	migrationID := uuid.NewString()[:8]
	folderName := fmt.Sprintf("%s_%s", req.RunID, time.Now().Format("20060102_150405"))
	folder := filepath.Join(r.opts.OutputDir, folderName)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return model.StartResponse{}, fmt.Errorf("create run folder: %w", err)
	}

	run := newRun(migrationID, req.RunID, folder, r.opts.OnLog)
	ctx, cancel := context.WithCancel(r.baseCtx)
	run.cancel = cancel

	r.mu.Lock()
	r.runs[migrationID] = run
	r.mu.Unlock()

	r.logger.Info("migration started",
		"migration_id", migrationID, "run_id", req.RunID, "run_folder", folder)
	if counter, err := runMeter.Int64Counter("snowflow.runs.started"); err == nil {
		counter.Add(ctx, 1)
	}

	go r.drive(ctx, run, req)

	return model.StartResponse{
		MigrationID: migrationID,
		RunFolder:   folderName,
		Status:      "started",
	}, nil
}

// get looks a run up by migration id.
func (r *Registry) get(migrationID string) (*Run, error) {
	r.mu.RLock()
	run, ok := r.runs[migrationID]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	return run, nil
}

// Status returns the current snapshot plus logs appended after cursor.
func (r *Registry) Status(migrationID string, cursor uint64) (model.StatusResponse, error) {
	run, err := r.get(migrationID)
	if err != nil {
		return model.StatusResponse{}, err
	}
	snap := run.Snapshot()
	logs := snap.LogsAfter(cursor)
	next := cursor
	if n := len(snap.Logs); n > 0 {
		next = snap.Logs[n-1].Seq
	}
	return model.StatusResponse{RunSnapshot: *snap, Logs: logs, Cursor: next}, nil
}

// Diagram returns the rendered schema diagram, or ErrNotReady while
// Phase 1 or the render itself is still in flight. A failed render also
// reports not ready: the failure was already logged as a warning and the
// trigger never re-fires.
func (r *Registry) Diagram(migrationID string) (string, error) {
	run, err := r.get(migrationID)
	if err != nil {
		return "", err
	}
	snap := run.Snapshot()
	if !snap.DiagramReady {
		if snap.DiagramError != "" {
			return "", fmt.Errorf("%w: render failed: %s", model.ErrNotReady, snap.DiagramError)
		}
		return "", model.ErrNotReady
	}
	return snap.Diagram, nil
}

// Cancel signals run abandonment. Further phase advancement stops and the
// run is marked failed with a Cancelled error; in-flight collaborator
// calls are cancelled via context but not otherwise interrupted.
// Cancelling an already-completed run is a no-op.
func (r *Registry) Cancel(migrationID string) error {
	run, err := r.get(migrationID)
	if err != nil {
		return err
	}
	if run.Snapshot().Complete {
		return nil
	}
	r.logger.Info("migration cancel requested", "migration_id", migrationID)
	run.cancel()
	return nil
}

// List returns summaries of all registered runs, newest first.
func (r *Registry) List() []model.RunSummary {
	r.mu.RLock()
	summaries := make([]model.RunSummary, 0, len(r.runs))
	for _, run := range r.runs {
		snap := run.Snapshot()
		summaries = append(summaries, model.RunSummary{
			MigrationID: snap.MigrationID,
			RunID:       snap.RunID,
			StartedAt:   snap.StartedAt,
			Complete:    snap.Complete,
			Success:     snap.Success,
		})
	}
	r.mu.RUnlock()
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries
}

// RunFolder returns the run's artifact folder path.
func (r *Registry) RunFolder(migrationID string) (string, error) {
	run, err := r.get(migrationID)
	if err != nil {
		return "", err
	}
	return run.folder, nil
}

// Close cancels all active runs and stops the janitor.
func (r *Registry) Close() {
	r.baseCancel()
	close(r.done)
}

// janitor evicts completed runs after the retention window.
func (r *Registry) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.evictExpired(time.Now())
		}
	}
}

func (r *Registry) evictExpired(now time.Time) {
	r.mu.Lock()
	for id, run := range r.runs {
		snap := run.Snapshot()
		if snap.Complete && snap.CompletedAt != nil && now.Sub(*snap.CompletedAt) > r.opts.Retention {
			delete(r.runs, id)
			r.logger.Info("migration evicted", "migration_id", id)
		}
	}
	r.mu.Unlock()
}

// recordCompletion emits the run-completed metric with its outcome.
func recordCompletion(ctx context.Context, success bool) {
	if counter, err := runMeter.Int64Counter("snowflow.runs.completed"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.Bool("snowflow.success", success)))
	}
}
