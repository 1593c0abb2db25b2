package model

import (
	"strings"
	"time"
)

// Default planner and worker models, matching the deployments the
// pipeline was tuned against. Callers may override per request.
const (
	DefaultAlphaModel   = "enmapper-gpt-5.1-codex"
	DefaultBetaModel    = "enmapper-gpt-5.1"
	DefaultWorkerModel  = "enmapper-gpt-5.1-codex"
	DefaultWorkerEffort = "medium"
	DefaultDebateRounds = 2
)

// MaxInstructionsLen bounds each instruction block. Instructions flow
// verbatim into agent prompts; an unbounded block is a cost amplifier.
const MaxInstructionsLen = 64 * 1024

// PlannerConfig selects the models and round count for the Phase 2 debate.
type PlannerConfig struct {
	AlphaModel   string `json:"alpha_model"`
	BetaModel    string `json:"beta_model"`
	DebateRounds int    `json:"debate_rounds"`
}

// WorkerConfig selects the model and reasoning effort for Phase 3 tasks.
type WorkerConfig struct {
	Model  string `json:"model"`
	Effort string `json:"effort"`
}

// StartRequest is the body of POST /api/migration/start.
type StartRequest struct {
	RunID              string        `json:"run_id"`
	Phase1Instructions string        `json:"phase1_instructions"`
	Phase2Instructions string        `json:"phase2_instructions"`
	Phase3Instructions string        `json:"phase3_instructions"`
	Planner            PlannerConfig `json:"planner"`
	Worker             WorkerConfig  `json:"worker"`
}

// Normalize fills zero-valued optional fields with defaults.
func (r *StartRequest) Normalize() {
	if r.Planner.AlphaModel == "" {
		r.Planner.AlphaModel = DefaultAlphaModel
	}
	if r.Planner.BetaModel == "" {
		r.Planner.BetaModel = DefaultBetaModel
	}
	if r.Planner.DebateRounds <= 0 {
		r.Planner.DebateRounds = DefaultDebateRounds
	}
	if r.Worker.Model == "" {
		r.Worker.Model = DefaultWorkerModel
	}
	if r.Worker.Effort == "" {
		r.Worker.Effort = DefaultWorkerEffort
	}
}

// Validate checks the required start fields. It returns a *ValidationError
// so callers can map it to a 400 without string matching.
func (r *StartRequest) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return &ValidationError{Field: "run_id", Reason: "must not be empty"}
	}
	// The run id names a directory under the output root; anything that
	// could navigate out of it is rejected outright.
	if strings.ContainsAny(r.RunID, `/\`) || strings.Contains(r.RunID, "..") {
		return &ValidationError{Field: "run_id", Reason: "must not contain path separators or '..'"}
	}
	if strings.TrimSpace(r.Phase1Instructions) == "" {
		return &ValidationError{Field: "phase1_instructions", Reason: "must not be empty"}
	}
	for field, v := range map[string]string{
		"phase1_instructions": r.Phase1Instructions,
		"phase2_instructions": r.Phase2Instructions,
		"phase3_instructions": r.Phase3Instructions,
	} {
		if len(v) > MaxInstructionsLen {
			return &ValidationError{Field: field, Reason: "exceeds maximum length"}
		}
	}
	return nil
}

// StartResponse is the body returned by a successful start.
type StartResponse struct {
	MigrationID string `json:"migration_id"`
	RunFolder   string `json:"run_folder"`
	Status      string `json:"status"`
}

// StatusResponse is the poll response: the current snapshot plus any log
// entries appended since the caller's cursor. Cursor is the sequence
// number of the last entry included; pass it back to avoid duplicates.
type StatusResponse struct {
	RunSnapshot
	Logs   []LogEntry `json:"logs"`
	Cursor uint64     `json:"cursor"`
}

// DiagramResponse carries the rendered schema diagram.
type DiagramResponse struct {
	MermaidCode string `json:"mermaid_code"`
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail is the code/message pair inside an APIError.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta carries per-response metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
