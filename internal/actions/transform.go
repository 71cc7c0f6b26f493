package actions

import (
	"context"
	"strings"

	"github.com/rendis/procflow/internal/expressions"
	"github.com/rendis/procflow/pkg/schema"
)

// TransformDataAction implements TRANSFORM_DATA: a jq query over a resolved
// input value. An empty input runs the query over the whole run scope.
type TransformDataAction struct {
	jq *expressions.GoJQEngine
}

func NewTransformDataAction(jq *expressions.GoJQEngine) *TransformDataAction {
	return &TransformDataAction{jq: jq}
}

func (a *TransformDataAction) Name() schema.Action { return schema.ActionTransformData }

func (a *TransformDataAction) Describe() string {
	return "Reshape data with a jq query."
}

func (a *TransformDataAction) Validate(cfg schema.StepConfig) error {
	c, err := configAs[schema.TransformConfig](a.Name(), cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Query) == "" {
		return schema.NewError(schema.ErrCodeValidation, "TRANSFORM_DATA: query is required")
	}
	return a.jq.Compile(c.Query)
}

func (a *TransformDataAction) Execute(ctx context.Context, input ActionInput) (*schema.StepOutput, error) {
	c, err := configAs[schema.TransformConfig](a.Name(), input.Step.Config)
	if err != nil {
		return nil, err
	}

	var data any = input.Scope
	if strings.TrimSpace(c.Input) != "" {
		data = resolver.ResolveValue(c.Input, input.Scope)
	}

	out, err := a.jq.Transform(ctx, c.Query, data)
	if err != nil {
		return nil, err
	}
	return schema.OutputFromValue(out), nil
}
