package expressions

import "context"

// Engine evaluates an expression against a variable scope. AUTO steps use
// three implementations: CEL for rules, GoJQ for data transforms and Expr for
// computed values.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
