package schema

import (
	"encoding/json"
	"fmt"
)

// Action is an atomic step action. The set is closed.
type Action string

const (
	ActionApproval   Action = "APPROVAL"
	ActionFormInput  Action = "FORM_INPUT"
	ActionFileUpload Action = "FILE_UPLOAD"
	ActionSignature  Action = "SIGNATURE"
	ActionReview     Action = "REVIEW"
	ActionManualTask Action = "MANUAL_TASK"

	ActionSendNotification Action = "SEND_NOTIFICATION"
	ActionHTTPRequest      Action = "HTTP_REQUEST"
	ActionTransformData    Action = "TRANSFORM_DATA"
	ActionEvaluateRule     Action = "EVALUATE_RULE"
	ActionComputeValue     Action = "COMPUTE_VALUE"
)

// ExecutionType says who executes a step.
type ExecutionType string

const (
	ExecutionAuto  ExecutionType = "AUTO"
	ExecutionHuman ExecutionType = "HUMAN"
)

var actionExecution = map[Action]ExecutionType{
	ActionApproval:         ExecutionHuman,
	ActionFormInput:        ExecutionHuman,
	ActionFileUpload:       ExecutionHuman,
	ActionSignature:        ExecutionHuman,
	ActionReview:           ExecutionHuman,
	ActionManualTask:       ExecutionHuman,
	ActionSendNotification: ExecutionAuto,
	ActionHTTPRequest:      ExecutionAuto,
	ActionTransformData:    ExecutionAuto,
	ActionEvaluateRule:     ExecutionAuto,
	ActionComputeValue:     ExecutionAuto,
}

// Classify maps an action to its execution type. Unknown actions are HUMAN:
// anything the system cannot execute is left to a person.
func Classify(action Action) ExecutionType {
	if et, ok := actionExecution[action]; ok {
		return et
	}
	return ExecutionHuman
}

// Known reports whether the action belongs to the closed action set.
func (a Action) Known() bool {
	_, ok := actionExecution[a]
	return ok
}

// Actions returns every known action.
func Actions() []Action {
	return []Action{
		ActionApproval, ActionFormInput, ActionFileUpload, ActionSignature,
		ActionReview, ActionManualTask, ActionSendNotification, ActionHTTPRequest,
		ActionTransformData, ActionEvaluateRule, ActionComputeValue,
	}
}

// AssignmentType enumerates step assignment policies.
type AssignmentType string

const (
	AssignStarter      AssignmentType = "STARTER"
	AssignSpecificUser AssignmentType = "SPECIFIC_USER"
	AssignTeamQueue    AssignmentType = "TEAM_QUEUE"
)

// AssigneeType describes what kind of actor holds a step.
type AssigneeType string

const (
	AssigneeUser   AssigneeType = "USER"
	AssigneeTeam   AssigneeType = "TEAM"
	AssigneeSystem AssigneeType = "SYSTEM"
)

// SystemActor is the executedBy value recorded for AUTO steps.
const SystemActor = "system"

// Assignment is a step's assignment policy.
type Assignment struct {
	Type       AssignmentType `json:"type"`
	AssigneeID string         `json:"assignee_id,omitempty"`
}

// TriggerType is the event class that creates Runs of a Procedure.
type TriggerType string

const (
	TriggerManual        TriggerType = "MANUAL"
	TriggerOnFileCreated TriggerType = "ON_FILE_CREATED"
	TriggerWebhook       TriggerType = "WEBHOOK"
)

// Trigger holds a Procedure's trigger type and provider-specific config.
type Trigger struct {
	Type             TriggerType `json:"type"`
	FolderPath       string      `json:"folder_path,omitempty"`
	Provider         string      `json:"provider,omitempty"`
	ProviderFolderID string      `json:"provider_folder_id,omitempty"`
	Secret           string      `json:"secret,omitempty"`
}

// Procedure is a versioned template of ordered steps owned by an organization.
type Procedure struct {
	ID          string   `json:"id"`
	OrgID       string   `json:"org_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Version     int      `json:"version"`
	OwnerID     string   `json:"owner_id"`
	Published   bool     `json:"published"`
	Active      bool     `json:"active"`
	Steps       []Step   `json:"steps"`
	Trigger     *Trigger `json:"trigger,omitempty"`
}

// TriggerType returns the procedure's trigger type, MANUAL when unset.
func (p *Procedure) TriggerType() TriggerType {
	if p.Trigger == nil || p.Trigger.Type == "" {
		return TriggerManual
	}
	return p.Trigger.Type
}

// Step is one atomic unit of work inside a Procedure.
type Step struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Action     Action      `json:"action"`
	Assignment *Assignment `json:"assignment,omitempty"`
	Config     StepConfig  `json:"-"`
}

// ExecutionType classifies the step from its action.
func (s Step) ExecutionType() ExecutionType {
	return Classify(s.Action)
}

type stepJSON struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Action     Action          `json:"action"`
	Assignment *Assignment     `json:"assignment,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON writes the config variant under "config".
func (s Step) MarshalJSON() ([]byte, error) {
	out := stepJSON{ID: s.ID, Title: s.Title, Action: s.Action, Assignment: s.Assignment}
	if s.Config != nil {
		raw, err := json.Marshal(s.Config)
		if err != nil {
			return nil, err
		}
		out.Config = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes "config" into the variant selected by "action".
func (s *Step) UnmarshalJSON(data []byte) error {
	var in stepJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	cfg, err := DecodeStepConfig(in.Action, in.Config)
	if err != nil {
		return fmt.Errorf("step %s: %w", in.ID, err)
	}
	*s = Step{ID: in.ID, Title: in.Title, Action: in.Action, Assignment: in.Assignment, Config: cfg}
	return nil
}
