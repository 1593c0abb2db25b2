// Package model defines the core domain types for snowflow.
//
// Types use strong typing (enums, time.Time) and avoid interface{}
// wherever possible. The RunSnapshot is the immutable read model handed
// to observers; it is built by the run driver and never mutated after
// publication.
package model

import "time"

// PhaseStatus represents the lifecycle state of a single migration phase.
type PhaseStatus string

const (
	PhasePending  PhaseStatus = "pending"
	PhaseRunning  PhaseStatus = "running"
	PhaseComplete PhaseStatus = "complete"
	PhaseFailed   PhaseStatus = "failed"
)

// Phase indices. Phase 0 means the run has not started any phase yet.
const (
	PhaseNone      = 0
	PhaseAnalysis  = 1
	PhasePlanning  = 2
	PhaseExecution = 3
)

// PhaseName returns the human-readable name of a phase index.
func PhaseName(phase int) string {
	switch phase {
	case PhaseAnalysis:
		return "Schema Analysis"
	case PhasePlanning:
		return "Migration Planning"
	case PhaseExecution:
		return "Migration Execution"
	default:
		return "Not Started"
	}
}

// LogKind categorizes a log entry by its phase of origin or severity.
type LogKind string

const (
	LogInfo    LogKind = "info"
	LogPhase1  LogKind = "phase1"
	LogPhase2  LogKind = "phase2"
	LogPhase3  LogKind = "phase3"
	LogSuccess LogKind = "success"
	LogWarning LogKind = "warning"
	LogError   LogKind = "error"
)

// LogEntry is one entry in a run's append-only log sequence.
// Seq is 1-based and strictly increasing within a run.
type LogEntry struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Kind    LogKind   `json:"type"`
	Message string    `json:"message"`
}

// Column describes one column of a source table.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableSchema is the full description of one source table in the catalog.
type TableSchema struct {
	Name       string   `json:"table_name"`
	RowCount   int64    `json:"row_count"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primary_key,omitempty"`
}

// Relationship is a foreign-key edge between two catalog tables.
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// Catalog is the Phase 1 output: the discovered source schema.
type Catalog struct {
	Schema        string         `json:"schema"`
	Tables        []TableSchema  `json:"tables"`
	Relationships []Relationship `json:"relationships"`
}

// TableInfos projects the catalog into the compact per-table listing
// surfaced in Phase 1 status.
func (c *Catalog) TableInfos() []TableInfo {
	infos := make([]TableInfo, len(c.Tables))
	for i, t := range c.Tables {
		infos[i] = TableInfo{Name: t.Name, Rows: t.RowCount, Columns: len(t.Columns)}
	}
	return infos
}

// TableInfo is the compact table listing shown in Phase 1 status.
type TableInfo struct {
	Name    string `json:"name"`
	Rows    int64  `json:"rows"`
	Columns int    `json:"columns"`
}

// TableResult is the terminal per-table outcome of a Phase 3 task.
type TableResult struct {
	Table      string `json:"table"`
	SourceRows int64  `json:"source_rows"`
	TargetRows int64  `json:"target_rows"`
	Match      bool   `json:"match"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
}

// Phase1State tracks schema analysis progress.
type Phase1State struct {
	Status        PhaseStatus `json:"status"`
	Iterations    int         `json:"iterations,omitempty"`
	Tables        int         `json:"tables,omitempty"`
	Relationships int         `json:"relationships,omitempty"`
	TableList     []TableInfo `json:"tables_list,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Phase2State tracks the planning debate.
type Phase2State struct {
	Status  PhaseStatus `json:"status"`
	Round   int         `json:"round,omitempty"`
	Agent   string      `json:"agent,omitempty"`
	Rounds  int         `json:"rounds,omitempty"`
	Summary string      `json:"summary,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Phase3State tracks task execution under the self-correction loop.
type Phase3State struct {
	Status      PhaseStatus   `json:"status"`
	Total       int           `json:"total,omitempty"`
	Completed   int           `json:"completed"`
	CurrentTask string        `json:"task,omitempty"`
	Attempt     int           `json:"attempt,omitempty"`
	Results     []TableResult `json:"results,omitempty"`
	Duration    float64       `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// RunSnapshot is an immutable, point-in-time view of one run. A new
// snapshot is published after every state mutation; observers only ever
// hold snapshots, never the live run.
type RunSnapshot struct {
	MigrationID string      `json:"id"`
	RunID       string      `json:"run_id"`
	RunFolder   string      `json:"run_folder"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Phase       int         `json:"phase"`
	Complete    bool        `json:"complete"`
	Success     bool        `json:"success"`
	Error       string      `json:"error,omitempty"`
	Progress    int         `json:"progress"`
	Phase1      Phase1State `json:"phase1"`
	Phase2      Phase2State `json:"phase2"`
	Phase3      Phase3State `json:"phase3"`

	// Diagram state. The mermaid text itself is served by the diagram
	// endpoint, not embedded in every status response.
	DiagramReady bool   `json:"diagram_ready"`
	Diagram      string `json:"-"`
	DiagramError string `json:"-"`

	// Append-only log. Logs[i].Seq == i+1 for every i; the status
	// projection slices this by the caller's cursor.
	Logs []LogEntry `json:"-"`
}

// LogsAfter returns the log entries with Seq > cursor, in append order.
func (s *RunSnapshot) LogsAfter(cursor uint64) []LogEntry {
	if cursor >= uint64(len(s.Logs)) {
		return nil
	}
	return s.Logs[cursor:]
}

// RunSummary is the compact listing entry for the migrations index.
type RunSummary struct {
	MigrationID string    `json:"id"`
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	Complete    bool      `json:"complete"`
	Success     bool      `json:"success"`
}
