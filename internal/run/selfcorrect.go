package run

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/enmapper/snowflow/internal/agent"
	"github.com/enmapper/snowflow/internal/model"
)

// MaxTaskAttempts is the hard ceiling on the self-correction loop. A task
// whose 7th attempt fails is permanently failed; the loop never recurses
// and never exceeds this count.
const MaxTaskAttempts = 7

// runExecution drives Phase 3: one task per catalog table, processed with
// bounded concurrency. Each task's retry sequence is strictly sequential
// because attempt i+1 consumes attempt i's error. A permanently failed
// task does not fail the phase; it surfaces as a match=false result and
// sibling tasks keep going. The only error returned is cancellation.
func (r *Registry) runExecution(ctx context.Context, run *Run, catalog *model.Catalog, plan string, req model.StartRequest) error {
	start := time.Now()
	run.update(func(s *runState) {
		s.phase = model.PhaseExecution
		s.p3.Status = model.PhaseRunning
		s.p3.Total = len(catalog.Tables)
	})
	run.logf(model.LogPhase3, "Starting Phase 3: Migration Execution (%d tasks)", len(catalog.Tables))

	// Task failures are contained per-task, so the group never sees an
	// error; it is used for its concurrency limit and ctx plumbing.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.TaskConcurrency)
	for _, table := range catalog.Tables {
		g.Go(func() error {
			result := r.executeTask(gctx, run, table, plan, req)
			run.update(func(s *runState) {
				s.p3.Completed++
				s.p3.Results = append(s.p3.Results, result)
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	var matched int
	snap := run.Snapshot()
	for _, res := range snap.Phase3.Results {
		if res.Match {
			matched++
		}
	}
	run.update(func(s *runState) {
		s.p3.Status = model.PhaseComplete
		s.p3.CurrentTask = ""
		s.p3.Attempt = 0
		s.p3.Duration = time.Since(start).Round(100 * time.Millisecond).Seconds()
	})
	run.logf(model.LogSuccess, "Phase 3 complete: %d/%d tasks matched", matched, len(catalog.Tables))
	return nil
}

// executeTask runs the bounded retry-with-feedback loop for one table.
// Always returns a terminal result; exhausting the ceiling produces a
// failed result, not an error.
func (r *Registry) executeTask(ctx context.Context, run *Run, table model.TableSchema, plan string, req model.StartRequest) model.TableResult {
	var lastErr string
	for attempt := 1; attempt <= MaxTaskAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.TableResult{
				Table:      table.Name,
				SourceRows: table.RowCount,
				Match:      false,
				Attempts:   attempt - 1,
				Error:      model.ErrCancelled.Error(),
			}
		}

		run.update(func(s *runState) {
			s.p3.CurrentTask = table.Name
			s.p3.Attempt = attempt
		})
		run.logf(model.LogPhase3, "Executing: %s (attempt %d)", table.Name, attempt)

		result, err := r.collab.Executor.ExecuteTask(ctx, agent.TaskRequest{
			Table:        table,
			Plan:         plan,
			Instructions: req.Phase3Instructions,
			Attempt:      attempt,
			PriorError:   lastErr,
			Model:        req.Worker.Model,
			Effort:       req.Worker.Effort,
		})
		if err == nil {
			result.Table = table.Name
			result.Attempts = attempt
			run.logf(model.LogSuccess, "Task %s completed in %d attempt(s)", table.Name, attempt)
			return result
		}

		lastErr = err.Error()
		run.logf(model.LogError, "Task %s attempt %d failed: %v", table.Name, attempt, err)
	}

	run.logf(model.LogError, "Task %s failed permanently after %d attempts", table.Name, MaxTaskAttempts)
	return model.TableResult{
		Table:      table.Name,
		SourceRows: table.RowCount,
		Match:      false,
		Attempts:   MaxTaskAttempts,
		Error:      lastErr,
	}
}
