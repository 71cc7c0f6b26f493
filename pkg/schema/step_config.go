package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StepConfig is the action-specific configuration of a step. Each action has
// exactly one variant; Action reports which.
type StepConfig interface {
	Action() Action
}

// ApprovalConfig configures an APPROVAL step.
type ApprovalConfig struct {
	Instructions string   `json:"instructions,omitempty"`
	Options      []string `json:"options,omitempty"`
}

// FormField is one field of a FORM_INPUT step.
type FormField struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type,omitempty"` // string | number | boolean | date
	Required bool   `json:"required,omitempty"`
}

// FormInputConfig configures a FORM_INPUT step.
type FormInputConfig struct {
	Instructions string      `json:"instructions,omitempty"`
	Fields       []FormField `json:"fields,omitempty"`
}

// FileUploadConfig configures a FILE_UPLOAD step.
type FileUploadConfig struct {
	Instructions string   `json:"instructions,omitempty"`
	Accept       []string `json:"accept,omitempty"`
}

// SignatureConfig configures a SIGNATURE step.
type SignatureConfig struct {
	Instructions string `json:"instructions,omitempty"`
	DocumentURL  string `json:"document_url,omitempty"`
}

// ReviewConfig configures a REVIEW step.
type ReviewConfig struct {
	Instructions string `json:"instructions,omitempty"`
	DocumentURL  string `json:"document_url,omitempty"`
}

// ManualTaskConfig configures a MANUAL_TASK step.
type ManualTaskConfig struct {
	Instructions string   `json:"instructions,omitempty"`
	Checklist    []string `json:"checklist,omitempty"`
}

// NotificationConfig configures a SEND_NOTIFICATION step. All fields accept
// {{...}} templates.
type NotificationConfig struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message"`
}

// HTTPRequestConfig configures an HTTP_REQUEST step.
type HTTPRequestConfig struct {
	Method         string            `json:"method,omitempty"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// TransformConfig configures a TRANSFORM_DATA step. Input is resolved as a
// template and Query is a jq program applied to it.
type TransformConfig struct {
	Input string `json:"input"`
	Query string `json:"query"`
}

// RuleConfig configures an EVALUATE_RULE step. Expression is CEL and must
// evaluate to a bool; false fails the step with Message.
type RuleConfig struct {
	Expression string `json:"expression"`
	Message    string `json:"message,omitempty"`
}

// ComputeConfig configures a COMPUTE_VALUE step.
type ComputeConfig struct {
	Expression string `json:"expression"`
	Target     string `json:"target,omitempty"`
}

func (ApprovalConfig) Action() Action     { return ActionApproval }
func (FormInputConfig) Action() Action    { return ActionFormInput }
func (FileUploadConfig) Action() Action   { return ActionFileUpload }
func (SignatureConfig) Action() Action    { return ActionSignature }
func (ReviewConfig) Action() Action       { return ActionReview }
func (ManualTaskConfig) Action() Action   { return ActionManualTask }
func (NotificationConfig) Action() Action { return ActionSendNotification }
func (HTTPRequestConfig) Action() Action  { return ActionHTTPRequest }
func (TransformConfig) Action() Action    { return ActionTransformData }
func (RuleConfig) Action() Action         { return ActionEvaluateRule }
func (ComputeConfig) Action() Action      { return ActionComputeValue }

// DecodeStepConfig decodes raw into the config variant for action. An empty
// payload yields the variant's zero value.
func DecodeStepConfig(action Action, raw json.RawMessage) (StepConfig, error) {
	var target StepConfig
	switch action {
	case ActionApproval:
		target = &ApprovalConfig{}
	case ActionFormInput:
		target = &FormInputConfig{}
	case ActionFileUpload:
		target = &FileUploadConfig{}
	case ActionSignature:
		target = &SignatureConfig{}
	case ActionReview:
		target = &ReviewConfig{}
	case ActionManualTask:
		target = &ManualTaskConfig{}
	case ActionSendNotification:
		target = &NotificationConfig{}
	case ActionHTTPRequest:
		target = &HTTPRequestConfig{}
	case ActionTransformData:
		target = &TransformConfig{}
	case ActionEvaluateRule:
		target = &RuleConfig{}
	case ActionComputeValue:
		target = &ComputeConfig{}
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", action, err)
		}
	}
	return deref(target), nil
}

func deref(c StepConfig) StepConfig {
	switch v := c.(type) {
	case *ApprovalConfig:
		return *v
	case *FormInputConfig:
		return *v
	case *FileUploadConfig:
		return *v
	case *SignatureConfig:
		return *v
	case *ReviewConfig:
		return *v
	case *ManualTaskConfig:
		return *v
	case *NotificationConfig:
		return *v
	case *HTTPRequestConfig:
		return *v
	case *TransformConfig:
		return *v
	case *RuleConfig:
		return *v
	case *ComputeConfig:
		return *v
	}
	return c
}
