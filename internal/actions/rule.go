package actions

import (
	"context"

	"github.com/rendis/procflow/internal/expressions"
	"github.com/rendis/procflow/pkg/schema"
)

// EvaluateRuleAction implements EVALUATE_RULE. A rule that evaluates to
// false fails the step with the configured message.
type EvaluateRuleAction struct {
	cel *expressions.CELEngine
}

func NewEvaluateRuleAction(cel *expressions.CELEngine) *EvaluateRuleAction {
	return &EvaluateRuleAction{cel: cel}
}

func (a *EvaluateRuleAction) Name() schema.Action { return schema.ActionEvaluateRule }

func (a *EvaluateRuleAction) Describe() string {
	return "Check a CEL condition; false flags the run."
}

func (a *EvaluateRuleAction) Validate(cfg schema.StepConfig) error {
	c, err := configAs[schema.RuleConfig](a.Name(), cfg)
	if err != nil {
		return err
	}
	if c.Expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "EVALUATE_RULE: expression is required")
	}
	return a.cel.Compile(c.Expression)
}

func (a *EvaluateRuleAction) Execute(ctx context.Context, input ActionInput) (*schema.StepOutput, error) {
	c, err := configAs[schema.RuleConfig](a.Name(), input.Step.Config)
	if err != nil {
		return nil, err
	}

	ok, err := a.cel.EvaluateBool(ctx, c.Expression, input.Scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		msg := resolver.Resolve(c.Message, input.Scope)
		if msg == "" {
			msg = "rule not satisfied: " + c.Expression
		}
		return nil, schema.NewError(schema.ErrCodeExecutionFailure, msg).
			WithDetails(map[string]any{"expression": c.Expression})
	}
	return schema.ScalarOutput(true), nil
}
