package actions

import (
	"log/slog"

	"github.com/rendis/procflow/internal/expressions"
	"github.com/rendis/procflow/internal/notify"
)

// BuiltinDeps are the collaborators of the built-in actions.
type BuiltinDeps struct {
	Sink   notify.Sink
	HTTP   HTTPConfig
	Logger *slog.Logger
}

// RegisterBuiltins registers one action per AUTO step kind.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}

	builtins := []Action{
		NewSendNotificationAction(deps.Sink, deps.Logger),
		NewHTTPRequestAction(deps.HTTP),
		NewTransformDataAction(expressions.NewGoJQEngine()),
		NewEvaluateRuleAction(celEngine),
		NewComputeValueAction(expressions.NewExprEngine()),
	}
	for _, a := range builtins {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
