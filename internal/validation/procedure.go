package validation

import "github.com/rendis/procflow/pkg/schema"

// ProcedureValidator runs the two-stage pipeline used before definitions are
// stored: structural (JSON Schema) then semantic. Structural errors
// short-circuit the semantic stage.
type ProcedureValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
}

// NewProcedureValidator creates a ProcedureValidator. lookup may be nil to
// skip executor config checks.
func NewProcedureValidator(lookup ActionLookup) (*ProcedureValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &ProcedureValidator{jsonSchema: jsv, actions: lookup}, nil
}

// Validate returns every issue found in p.
func (v *ProcedureValidator) Validate(p *schema.Procedure) *schema.ValidationResult {
	if p == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.IssueSchema, "procedure is nil")
		return r
	}

	result := structural(v.jsonSchema.ValidateProcedure(p))
	if !result.Valid() {
		return result
	}
	result.Merge(validateProcedureSemantic(p, v.actions))
	return result
}

// ValidateProcedure satisfies Validator.
func (v *ProcedureValidator) ValidateProcedure(p *schema.Procedure) error {
	return v.Validate(p).ToError()
}

// ValidateProcessResult returns every issue found in p.
func (v *ProcedureValidator) ValidateProcessResult(p *schema.Process) *schema.ValidationResult {
	if p == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.IssueSchema, "process is nil")
		return r
	}

	result := structural(v.jsonSchema.ValidateProcess(p))
	if !result.Valid() {
		return result
	}
	result.Merge(validateProcessSemantic(p))
	return result
}

// ValidateProcess satisfies Validator.
func (v *ProcedureValidator) ValidateProcess(p *schema.Process) error {
	return v.ValidateProcessResult(p).ToError()
}

// ValidateOutput checks the output of a HUMAN step before a resume is
// applied. Only SUCCESS outcomes of FORM_INPUT steps with declared fields are
// constrained; they must carry a RECORD holding every required field.
func (v *ProcedureValidator) ValidateOutput(step *schema.Step, outcome schema.Outcome, out *schema.StepOutput) error {
	if step == nil || outcome != schema.OutcomeSuccess {
		return nil
	}
	cfg, ok := step.Config.(schema.FormInputConfig)
	if !ok || len(cfg.Fields) == 0 {
		return nil
	}

	if out == nil || out.Kind != schema.OutputRecord {
		if !hasRequired(cfg) {
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeValidation,
			"%s step %q requires a record output", step.Action, step.ID).WithStep(step.ID)
	}
	return v.jsonSchema.ValidateFormOutput(step.ID, cfg, out.Record)
}

func hasRequired(cfg schema.FormInputConfig) bool {
	for _, f := range cfg.Fields {
		if f.Required {
			return true
		}
	}
	return false
}

// structural converts a JSON Schema error into a ValidationResult.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	ee, ok := err.(*schema.EngineError)
	if !ok {
		result.AddError("/", schema.IssueSchema, err.Error())
		return result
	}
	if violations, ok := ee.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.IssueSchema, msg)
		}
		return result
	}
	result.AddError("/", schema.IssueSchema, ee.Message)
	return result
}

var _ Validator = (*ProcedureValidator)(nil)
