package livefeed

import (
	"time"

	"github.com/triage-ai/lookout/internal/risk"
)

// RunStatus is the run lifecycle state. Completed is terminal.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

// ToolCallRecord is one tool invocation observed during a run.
type ToolCallRecord struct {
	Name  string
	Input map[string]any
	At    time.Time
}

// Run tracks one agent task from its first observed event to completion.
type Run struct {
	ID          string
	SessionKey  string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64
	TextLength  int
	ToolCalls   []ToolCallRecord
	Risks       []risk.Finding
}

// clone returns a deep-enough copy for handing to readers: slices are
// copied, tool input maps are shared but never mutated after normalization.
func (r *Run) clone() Run {
	c := *r
	c.ToolCalls = append([]ToolCallRecord(nil), r.ToolCalls...)
	c.Risks = append([]risk.Finding(nil), r.Risks...)
	return c
}
