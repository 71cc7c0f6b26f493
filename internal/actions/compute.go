package actions

import (
	"context"

	"github.com/rendis/procflow/internal/expressions"
	"github.com/rendis/procflow/pkg/schema"
)

// ComputeValueAction implements COMPUTE_VALUE with expr-lang. With a target
// the output is a record {target: value}, otherwise the bare value.
type ComputeValueAction struct {
	expr *expressions.ExprEngine
}

func NewComputeValueAction(expr *expressions.ExprEngine) *ComputeValueAction {
	return &ComputeValueAction{expr: expr}
}

func (a *ComputeValueAction) Name() schema.Action { return schema.ActionComputeValue }

func (a *ComputeValueAction) Describe() string {
	return "Compute a value with an expr-lang expression."
}

func (a *ComputeValueAction) Validate(cfg schema.StepConfig) error {
	c, err := configAs[schema.ComputeConfig](a.Name(), cfg)
	if err != nil {
		return err
	}
	if c.Expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "COMPUTE_VALUE: expression is required")
	}
	return a.expr.Compile(c.Expression)
}

func (a *ComputeValueAction) Execute(ctx context.Context, input ActionInput) (*schema.StepOutput, error) {
	c, err := configAs[schema.ComputeConfig](a.Name(), input.Step.Config)
	if err != nil {
		return nil, err
	}

	v, err := a.expr.Evaluate(ctx, c.Expression, input.Scope)
	if err != nil {
		return nil, err
	}
	if c.Target != "" {
		return schema.RecordOutput(map[string]any{c.Target: v}), nil
	}
	return schema.OutputFromValue(v), nil
}
