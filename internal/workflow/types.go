// Package workflow runs multi-step analysis generation: phased batches of
// generation units with per-unit degradation, and a step dispatcher that
// combines cached context, completions, and structured extraction.
package workflow

import (
	"context"
	"time"
)

// UnitState is the lifecycle of one generation unit within a phase.
type UnitState string

const (
	UnitPending    UnitState = "pending"
	UnitInProgress UnitState = "inProgress"
	UnitCompleted  UnitState = "completed"
	UnitError      UnitState = "error"
)

// Unit is one independently-generated piece of a phase. Generate produces the
// unit's structured output; a failing unit is recorded as degraded and does
// not stop the phase.
type Unit struct {
	ID       string
	Title    string
	Generate func(ctx context.Context) (map[string]any, error)
}

// UnitResult is the terminal outcome of one unit.
type UnitResult struct {
	UnitID   string         `json:"unit_id"`
	Title    string         `json:"title,omitempty"`
	State    UnitState      `json:"state"`
	Output   map[string]any `json:"output,omitempty"`
	Degraded bool           `json:"degraded"`
	Error    string         `json:"error,omitempty"`
}

// PhaseProgress is the evolving view of a phase. The phase runner invokes the
// progress callback with a snapshot after every state transition; the final
// snapshot is also the return value. CurrentPhase is the 1-based index of the
// unit being worked on, 0 before the first unit starts.
type PhaseProgress struct {
	CurrentPhase int          `json:"current_phase"`
	Total        int          `json:"total"`
	SuccessCount int          `json:"success_count"`
	ErrorCount   int          `json:"error_count"`
	Units        []UnitResult `json:"units"`
}

// Completed reports whether every unit reached a terminal state.
func (p *PhaseProgress) Completed() bool {
	return p.SuccessCount+p.ErrorCount == p.Total
}

// Step names one analysis workflow step.
type Step string

const (
	StepSetup     Step = "setup"
	StepAnalysis  Step = "analysis"
	StepQuestions Step = "questions"
	StepReport    Step = "report"
)

// ParseStep validates a step name from an external caller.
func ParseStep(s string) (Step, bool) {
	switch Step(s) {
	case StepSetup, StepAnalysis, StepQuestions, StepReport:
		return Step(s), true
	}
	return "", false
}

// Session identifies one analysis session and carries the knobs the context
// builder needs.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
}

// AnalysisRecord is the persisted aggregate artifact of one step run.
type AnalysisRecord struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	Step         Step           `json:"step"`
	Payload      map[string]any `json:"payload"`
	Degraded     bool           `json:"degraded"`
	SuccessCount int            `json:"success_count"`
	ErrorCount   int            `json:"error_count"`
	Provider     string         `json:"provider,omitempty"`
	Model        string         `json:"model,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RecordFilter selects persisted records. Zero fields match everything.
type RecordFilter struct {
	SessionID string
	Step      Step
	Limit     int
}

// RecordStore persists step artifacts. Save writes the whole aggregate in one
// call so a step's output is never observable half-written.
type RecordStore interface {
	Save(ctx context.Context, rec *AnalysisRecord) error
	Query(ctx context.Context, filter RecordFilter) ([]*AnalysisRecord, error)
}
