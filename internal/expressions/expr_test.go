package expressions

import (
	"context"
	"testing"

	"github.com/rendis/procflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpr_ComputeFromScope(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())

	scope := map[string]any{
		"input":         map[string]any{"rate": 0.2},
		"step_1_output": map[string]any{"subtotal": 100.0},
	}

	out, err := e.Evaluate(context.Background(), `step_1_output.subtotal * (1 + input.rate)`, scope)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, out, 1e-9)
}

func TestExpr_SameProgramDifferentScopes(t *testing.T) {
	e := NewExprEngine()
	expression := `input.name ?? "anonymous"`

	out, err := e.Evaluate(context.Background(), expression, map[string]any{"input": map[string]any{"name": "Ada"}})
	require.NoError(t, err)
	assert.Equal(t, "Ada", out)

	out, err = e.Evaluate(context.Background(), expression, map[string]any{"input": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "anonymous", out)
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()

	err := e.Compile(`1 +`)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
