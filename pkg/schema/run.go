package schema

import (
	"fmt"
	"time"
)

// OrgContext scopes every engine entry point to one organization.
type OrgContext struct {
	OrgID   string `json:"org_id"`
	ActorID string `json:"actor_id,omitempty"`
}

// Outcome is the result recorded for an executed step.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeFlagged Outcome = "FLAGGED"
	// OutcomePending marks the provisional log entry of a waiting HUMAN step.
	OutcomePending Outcome = "PENDING"
)

// Valid reports whether o may be supplied by a resume caller.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomeFlagged
}

// Run is one execution of a Procedure snapshot.
type Run struct {
	ID                   string         `json:"id"`
	OrgID                string         `json:"org_id"`
	ProcedureID          string         `json:"procedure_id"`
	ProcedureVersion     int            `json:"procedure_version"`
	ProcedureName        string         `json:"procedure_name,omitempty"`
	StartedBy            string         `json:"started_by"`
	Status               RunStatus      `json:"status"`
	CurrentStepIndex     int            `json:"current_step_index"`
	CurrentAssigneeID    string         `json:"current_assignee_id,omitempty"`
	AssigneeType         AssigneeType   `json:"assignee_type,omitempty"`
	CurrentAssigneeEmail string         `json:"current_assignee_email,omitempty"`
	Steps                []Step         `json:"steps"`
	Logs                 []RunLog       `json:"logs"`
	TriggerContext       map[string]any `json:"trigger_context,omitempty"`
	InitialInput         map[string]any `json:"initial_input,omitempty"`
	ProcessRunID         string         `json:"process_run_id,omitempty"`
	FlagReason           string         `json:"flag_reason,omitempty"`
	Version              int64          `json:"version"`
	StartedAt            time.Time      `json:"started_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

// CurrentStep returns the step at CurrentStepIndex, or nil when the index is
// past the snapshot.
func (r *Run) CurrentStep() *Step {
	if r.CurrentStepIndex < 0 || r.CurrentStepIndex >= len(r.Steps) {
		return nil
	}
	return &r.Steps[r.CurrentStepIndex]
}

// PendingLog returns the provisional log entry for the step at index, if any.
func (r *Run) PendingLog(index int) *RunLog {
	for i := len(r.Logs) - 1; i >= 0; i-- {
		if r.Logs[i].StepIndex == index && r.Logs[i].Outcome == OutcomePending {
			return &r.Logs[i]
		}
	}
	return nil
}

// FinalOutput returns the output of the last finalized log entry.
func (r *Run) FinalOutput() *StepOutput {
	for i := len(r.Logs) - 1; i >= 0; i-- {
		if r.Logs[i].Outcome != OutcomePending {
			return r.Logs[i].Output
		}
	}
	return nil
}

// StepOutputKey is the context key under which step n's output is bound.
// n is 1-based.
func StepOutputKey(n int) string {
	return fmt.Sprintf("step_%d_output", n)
}

// RunLog records one executed step.
type RunLog struct {
	StepID        string        `json:"step_id"`
	StepIndex     int           `json:"step_index"`
	Action        Action        `json:"action"`
	Output        *StepOutput   `json:"output,omitempty"`
	Outcome       Outcome       `json:"outcome"`
	ExecutedBy    string        `json:"executed_by,omitempty"`
	ExecutionType ExecutionType `json:"execution_type"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// UserTask directs a person or team to act on a paused Run.
type UserTask struct {
	ID            string       `json:"id"`
	RunID         string       `json:"run_id"`
	OrgID         string       `json:"org_id"`
	StepID        string       `json:"step_id"`
	StepTitle     string       `json:"step_title,omitempty"`
	AssigneeID    string       `json:"assignee_id"`
	AssigneeType  AssigneeType `json:"assignee_type"`
	AssigneeEmail string       `json:"assignee_email,omitempty"`
	Status        TaskStatus   `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// User is a directory entry used for contact lookup.
type User struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}
