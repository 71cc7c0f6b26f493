package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/procflow/pkg/schema"
)

// Event is an immutable audit entry for a run or process run. SubjectID is
// the run or process run ID; Sequence increases per subject.
type Event struct {
	ID        int64           `json:"id"`
	SubjectID string          `json:"subject_id"`
	StepID    string          `json:"step_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ProcedureFilter selects procedures. Nil pointers match everything.
type ProcedureFilter struct {
	OrgID       string
	TriggerType schema.TriggerType
	Published   *bool
	Active      *bool
	Limit       int
}

// RunFilter selects runs.
type RunFilter struct {
	OrgID        string
	ProcedureID  string
	ProcessRunID string
	Status       *schema.RunStatus
	Limit        int
}

// TaskFilter selects user tasks.
type TaskFilter struct {
	OrgID      string
	AssigneeID string
	RunID      string
	Status     *schema.TaskStatus
	Limit      int
}

// ProcessRunFilter selects process runs. DueBefore restricts to runs whose
// resume_at is at or before the given time.
type ProcessRunFilter struct {
	OrgID     string
	ProcessID string
	Status    *schema.ProcessRunStatus
	DueBefore *time.Time
	Limit     int
}

// BoolPtr returns a pointer to b, for filter fields.
func BoolPtr(b bool) *bool { return &b }
