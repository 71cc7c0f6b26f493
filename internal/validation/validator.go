package validation

import "github.com/rendis/procflow/pkg/schema"

// Validator checks procedure and process definitions before they are stored,
// and HUMAN step outputs before a resume is applied.
type Validator interface {
	ValidateProcedure(p *schema.Procedure) error
	ValidateProcess(p *schema.Process) error
	ValidateOutput(step *schema.Step, outcome schema.Outcome, out *schema.StepOutput) error
}
