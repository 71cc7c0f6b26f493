package actions

import (
	"context"

	"github.com/rendis/procflow/pkg/schema"
)

// Action executes the AUTO steps of one action kind.
type Action interface {
	Name() schema.Action
	Describe() string
	// Validate performs the static checks that can run when a Procedure is
	// saved (expressions compile, required fields present).
	Validate(cfg schema.StepConfig) error
	Execute(ctx context.Context, input ActionInput) (*schema.StepOutput, error)
}

// ActionRegistry manages the lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name schema.Action) (Action, error)
	List() []ActionInfo
}

// ActionInput is what an action sees at execution time. Scope is the run's
// variable scope; actions must treat it as read-only.
type ActionInput struct {
	OrgID string
	RunID string
	Step  *schema.Step
	Scope map[string]any
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        schema.Action `json:"name"`
	Description string        `json:"description,omitempty"`
}

// configAs extracts the typed config of step, reporting a mismatch as a
// validation error.
func configAs[T schema.StepConfig](name schema.Action, cfg schema.StepConfig) (T, error) {
	c, ok := cfg.(T)
	if !ok {
		var zero T
		return zero, schema.NewErrorf(schema.ErrCodeValidation, "%s: unexpected config type %T", name, cfg)
	}
	return c, nil
}
