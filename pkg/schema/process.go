package schema

import (
	"fmt"
	"time"
)

// ProcessStepType enumerates the kinds of process steps.
type ProcessStepType string

const (
	ProcessStepProcedure ProcessStepType = "PROCEDURE"
	ProcessStepDelay     ProcessStepType = "DELAY"
)

// DelaySpec configures a DELAY process step. Duration uses Go duration syntax.
type DelaySpec struct {
	Duration string `json:"duration"`
}

// Parse returns the delay as a time.Duration.
func (d *DelaySpec) Parse() (time.Duration, error) {
	if d == nil || d.Duration == "" {
		return 0, fmt.Errorf("delay duration is required")
	}
	dur, err := time.ParseDuration(d.Duration)
	if err != nil {
		return 0, fmt.Errorf("invalid delay duration %q: %w", d.Duration, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("delay duration %q is negative", d.Duration)
	}
	return dur, nil
}

// ProcessStep is one element of a Process chain.
type ProcessStep struct {
	InstanceID    string            `json:"instance_id"`
	Type          ProcessStepType   `json:"type"`
	ProcedureID   string            `json:"procedure_id,omitempty"`
	InputMappings map[string]string `json:"input_mappings,omitempty"`
	Delay         *DelaySpec        `json:"delay,omitempty"`
}

// Process is an ordered chain of Procedure references and delays.
type Process struct {
	ID    string        `json:"id"`
	OrgID string        `json:"org_id"`
	Name  string        `json:"name"`
	Steps []ProcessStep `json:"steps"`
}

// StepHistoryEntry records the progress of one process step.
type StepHistoryEntry struct {
	InstanceID  string          `json:"instance_id"`
	Index       int             `json:"index"`
	Type        ProcessStepType `json:"type"`
	RunID       string          `json:"run_id,omitempty"`
	Status      HistoryStatus   `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ProcessRun is one execution of a Process.
type ProcessRun struct {
	ID                    string             `json:"id"`
	ProcessID             string             `json:"process_id"`
	OrgID                 string             `json:"org_id"`
	StartedBy             string             `json:"started_by"`
	Status                ProcessRunStatus   `json:"status"`
	CurrentStepIndex      int                `json:"current_step_index"`
	CurrentStepInstanceID string             `json:"current_step_instance_id,omitempty"`
	ContextData           map[string]any     `json:"context_data"`
	StepHistory           []StepHistoryEntry `json:"step_history"`
	ResumeAt              *time.Time         `json:"resume_at,omitempty"`
	FlagReason            string             `json:"flag_reason,omitempty"`
	Version               int64              `json:"version"`
	StartedAt             time.Time          `json:"started_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
	CompletedAt           *time.Time         `json:"completed_at,omitempty"`
}

// CurrentHistory returns the history entry of the current step, or nil.
func (p *ProcessRun) CurrentHistory() *StepHistoryEntry {
	for i := len(p.StepHistory) - 1; i >= 0; i-- {
		if p.StepHistory[i].Index == p.CurrentStepIndex {
			return &p.StepHistory[i]
		}
	}
	return nil
}
