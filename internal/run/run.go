// Package run implements the migration orchestration core: the per-run
// state machine, the registry of active runs, the phase pipeline with its
// debate and self-correction loops, and the one-shot diagram trigger.
//
// Concurrency model: every mutation of a run funnels through update(),
// which rebuilds an immutable snapshot and publishes it with an atomic
// pointer swap. Observers only ever load the pointer; they never block
// the writer and can never see a torn state.
package run

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/enmapper/snowflow/internal/model"
)

// Run is one active migration. All fields except the snapshot pointer are
// private to the driver and the registry.
type Run struct {
	migrationID string
	runID       string
	folder      string
	startedAt   time.Time

	cancel      context.CancelFunc
	diagramOnce sync.Once

	// onLog fans appended log entries out to live subscribers (SSE).
	// Nil when nothing is listening. pubMu spans Seq assignment and
	// fan-out so concurrent writers publish in Seq order; onLog must
	// not block (the broker drops on a full buffer).
	onLog func(migrationID string, e model.LogEntry)
	pubMu sync.Mutex

	mu    sync.Mutex
	state runState
	snap  atomic.Pointer[model.RunSnapshot]
}

// runState is the driver-owned mutable state behind the snapshots.
type runState struct {
	phase       int
	complete    bool
	success     bool
	err         string
	completedAt *time.Time

	p1 model.Phase1State
	p2 model.Phase2State
	p3 model.Phase3State

	diagram      string
	diagramReady bool
	diagramErr   string

	logs     []model.LogEntry
	progress int
}

func newRun(migrationID, runID, folder string, onLog func(string, model.LogEntry)) *Run {
	r := &Run{
		migrationID: migrationID,
		runID:       runID,
		folder:      folder,
		startedAt:   time.Now().UTC(),
		onLog:       onLog,
		state: runState{
			p1: model.Phase1State{Status: model.PhasePending},
			p2: model.Phase2State{Status: model.PhasePending},
			p3: model.Phase3State{Status: model.PhasePending},
		},
	}
	r.snap.Store(r.buildSnapshot())
	return r
}

// Snapshot returns the latest published snapshot.
func (r *Run) Snapshot() *model.RunSnapshot {
	return r.snap.Load()
}

// update applies fn to the state and publishes a fresh snapshot. fn runs
// under the run's lock and must not block.
func (r *Run) update(fn func(s *runState)) {
	r.mu.Lock()
	fn(&r.state)
	if p := computeProgress(&r.state); p > r.state.progress {
		r.state.progress = p
	}
	r.snap.Store(r.buildSnapshot())
	r.mu.Unlock()
}

// logf appends a log entry and publishes it to any live subscribers.
func (r *Run) logf(kind model.LogKind, format string, args ...any) {
	entry := model.LogEntry{
		Time:    time.Now().UTC(),
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	r.update(func(s *runState) {
		entry.Seq = uint64(len(s.logs)) + 1
		s.logs = append(s.logs, entry)
	})
	if r.onLog != nil {
		r.onLog(r.migrationID, entry)
	}
}

// buildSnapshot deep-copies the state into a new immutable snapshot.
// Caller holds r.mu. The log slice is shared via a three-index slice:
// entries are append-only and existing indices are never rewritten.
func (r *Run) buildSnapshot() *model.RunSnapshot {
	s := &r.state
	snap := &model.RunSnapshot{
		MigrationID:  r.migrationID,
		RunID:        r.runID,
		RunFolder:    r.folder,
		StartedAt:    r.startedAt,
		CompletedAt:  s.completedAt,
		Phase:        s.phase,
		Complete:     s.complete,
		Success:      s.success,
		Error:        s.err,
		Progress:     s.progress,
		Phase1:       s.p1,
		Phase2:       s.p2,
		Phase3:       s.p3,
		DiagramReady: s.diagramReady,
		Diagram:      s.diagram,
		DiagramError: s.diagramErr,
		Logs:         s.logs[:len(s.logs):len(s.logs)],
	}
	snap.Phase1.TableList = slices.Clone(s.p1.TableList)
	snap.Phase3.Results = slices.Clone(s.p3.Results)
	return snap
}

// Progress weights: analysis 30%, planning 30%, execution 40%. The value
// is clamped to be non-decreasing in update(), so a failed run freezes at
// its last reported progress.
func computeProgress(s *runState) int {
	p := 0
	switch s.p1.Status {
	case model.PhaseRunning:
		p = 5
	case model.PhaseComplete:
		p = 30
	}
	switch s.p2.Status {
	case model.PhaseRunning:
		p = 30
		if s.p2.Rounds > 0 && s.p2.Round > 0 {
			p += 30 * (s.p2.Round - 1) / s.p2.Rounds
		}
	case model.PhaseComplete:
		p = 60
	}
	switch s.p3.Status {
	case model.PhaseRunning:
		p = 60
		if s.p3.Total > 0 {
			p += 40 * s.p3.Completed / s.p3.Total
		}
	case model.PhaseComplete:
		p = 100
	}
	if s.complete && s.success {
		p = 100
	}
	return p
}
