package validation

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/procflow/internal/actions"
	"github.com/rendis/procflow/internal/expressions"
	"github.com/rendis/procflow/pkg/schema"
)

// ActionLookup resolves AUTO executors so their configs can be checked.
// *actions.Registry satisfies it.
type ActionLookup interface {
	Has(name schema.Action) bool
	Get(name schema.Action) (actions.Action, error)
}

// validateProcedureSemantic checks what the JSON Schema cannot: the closed
// action set, unique step ids, assignment completeness, trigger config,
// executor configs and forward step references.
func validateProcedureSemantic(p *schema.Procedure, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]int, len(p.Steps))
	for i := range p.Steps {
		step := &p.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if prev, dup := seen[step.ID]; dup {
			result.AddError(path+".id", schema.IssueDuplicateStepID,
				fmt.Sprintf("step id %q already used by steps[%d]", step.ID, prev))
		} else {
			seen[step.ID] = i
		}

		if !step.Action.Known() {
			result.AddError(path+".action", schema.IssueUnknownAction,
				fmt.Sprintf("unknown action %q", step.Action))
			continue
		}

		validateAssignment(step, path, result)

		if step.ExecutionType() == schema.ExecutionAuto {
			validateExecutor(step, path, lookup, result)
		}
		if cfg, ok := step.Config.(schema.FormInputConfig); ok {
			validateFormFields(cfg, path, result)
		}
		validateStepReferences(step, i, path, result)
	}

	validateTrigger(p.Trigger, result)
	return result
}

func validateAssignment(step *schema.Step, path string, result *schema.ValidationResult) {
	a := step.Assignment
	if a == nil {
		if step.ExecutionType() == schema.ExecutionHuman {
			result.AddError(path+".assignment", schema.IssueAssignment,
				"HUMAN step requires an assignment")
		}
		return
	}

	switch a.Type {
	case schema.AssignStarter:
		if a.AssigneeID != "" {
			result.AddWarning(path+".assignment.assignee_id", schema.IssueAssignment,
				"assignee_id is ignored for STARTER assignment")
		}
	case schema.AssignSpecificUser, schema.AssignTeamQueue:
		if a.AssigneeID == "" {
			result.AddError(path+".assignment.assignee_id", schema.IssueAssignment,
				fmt.Sprintf("%s assignment requires assignee_id", a.Type))
		}
	default:
		result.AddError(path+".assignment.type", schema.IssueAssignment,
			fmt.Sprintf("unknown assignment type %q", a.Type))
	}
}

func validateExecutor(step *schema.Step, path string, lookup ActionLookup, result *schema.ValidationResult) {
	if lookup == nil {
		return
	}
	if !lookup.Has(step.Action) {
		result.AddError(path+".action", schema.IssueUnknownAction,
			fmt.Sprintf("no executor registered for %s", step.Action))
		return
	}
	exec, err := lookup.Get(step.Action)
	if err != nil {
		result.AddError(path+".action", schema.IssueUnknownAction, err.Error())
		return
	}
	if err := exec.Validate(step.Config); err != nil {
		code := schema.IssueConfig
		switch step.Action {
		case schema.ActionEvaluateRule, schema.ActionComputeValue, schema.ActionTransformData:
			code = schema.IssueExpression
		}
		result.AddError(path+".config", code, errMessage(err))
	}
}

func validateFormFields(cfg schema.FormInputConfig, path string, result *schema.ValidationResult) {
	names := make(map[string]bool, len(cfg.Fields))
	for j, f := range cfg.Fields {
		fieldPath := fmt.Sprintf("%s.config.fields[%d]", path, j)
		if f.Name == "" {
			result.AddError(fieldPath+".name", schema.IssueMissingField, "form field requires a name")
			continue
		}
		if names[f.Name] {
			result.AddError(fieldPath+".name", schema.IssueConfig,
				fmt.Sprintf("duplicate form field %q", f.Name))
		}
		names[f.Name] = true
		if f.Type != "" {
			if _, ok := formFieldTypes[f.Type]; !ok {
				result.AddError(fieldPath+".type", schema.IssueConfig,
					fmt.Sprintf("unknown field type %q", f.Type))
			}
		}
	}
}

// validateStepReferences warns when a config template reads the output of
// the step itself or of a later step; such paths stay unresolved at run time.
func validateStepReferences(step *schema.Step, index int, path string, result *schema.ValidationResult) {
	if step.Config == nil {
		return
	}
	raw, err := json.Marshal(step.Config)
	if err != nil {
		return
	}
	for _, n := range expressions.StepReferences(string(raw)) {
		if n < 1 || n > index {
			result.AddWarning(path+".config", schema.IssueExpression,
				fmt.Sprintf("references step_%d output, which is not available at step %d", n, index+1))
		}
	}
}

func validateTrigger(t *schema.Trigger, result *schema.ValidationResult) {
	if t == nil {
		return
	}
	switch t.Type {
	case schema.TriggerOnFileCreated:
		if t.FolderPath == "" && t.ProviderFolderID == "" {
			result.AddError("trigger", schema.IssueTrigger,
				"ON_FILE_CREATED trigger requires folder_path or provider_folder_id")
		}
	case schema.TriggerWebhook:
		if t.Secret == "" {
			result.AddWarning("trigger.secret", schema.IssueTrigger,
				"webhook trigger has no secret; any caller can start runs")
		}
	case schema.TriggerManual, "":
	default:
		result.AddError("trigger.type", schema.IssueTrigger,
			fmt.Sprintf("unknown trigger type %q", t.Type))
	}
}

// validateProcessSemantic checks unique instance ids, step kinds and input
// mapping references.
func validateProcessSemantic(p *schema.Process) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]bool, len(p.Steps))
	for i, step := range p.Steps {
		path := fmt.Sprintf("steps[%d]", i)

		if seen[step.InstanceID] {
			result.AddError(path+".instance_id", schema.IssueDuplicateStepID,
				fmt.Sprintf("instance id %q already used", step.InstanceID))
		}
		seen[step.InstanceID] = true

		switch step.Type {
		case schema.ProcessStepProcedure:
			if step.ProcedureID == "" {
				result.AddError(path+".procedure_id", schema.IssueMissingField,
					"PROCEDURE step requires procedure_id")
			}
			if step.Delay != nil {
				result.AddWarning(path+".delay", schema.IssueDelay, "delay is ignored on PROCEDURE steps")
			}
			for key, tmpl := range step.InputMappings {
				for _, n := range expressions.StepReferences(tmpl) {
					if n < 1 || n > i {
						result.AddWarning(fmt.Sprintf("%s.input_mappings.%s", path, key), schema.IssueExpression,
							fmt.Sprintf("references step_%d output, which is not available at step %d", n, i+1))
					}
				}
			}
		case schema.ProcessStepDelay:
			if _, err := step.Delay.Parse(); err != nil {
				result.AddError(path+".delay", schema.IssueDelay, err.Error())
			}
		default:
			result.AddError(path+".type", schema.IssueSchema,
				fmt.Sprintf("unknown process step type %q", step.Type))
		}
	}
	return result
}

func errMessage(err error) string {
	if ee, ok := err.(*schema.EngineError); ok {
		return ee.Message
	}
	return err.Error()
}
