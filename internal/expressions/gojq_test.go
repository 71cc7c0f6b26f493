package expressions

import (
	"context"
	"testing"

	"github.com/rendis/procflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoJQ_TransformRecord(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())

	input := map[string]any{
		"lines": []any{
			map[string]any{"sku": "a", "qty": 2},
			map[string]any{"sku": "b", "qty": 3},
		},
	}

	out, err := e.Transform(context.Background(), `{total: ([.lines[].qty] | add), skus: [.lines[].sku]}`, input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": float64(5), "skus": []any{"a", "b"}}, out)
}

func TestGoJQ_MultipleAndNoResults(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Transform(context.Background(), `.[]`, []any{1.0, 2.0})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, out)

	out, err = e.Transform(context.Background(), `empty`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_EvaluateUsesScope(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.step_1_output.email`, map[string]any{
		"step_1_output": map[string]any{"email": "a@b.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	err := e.Compile(`.[`)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Transform(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Transform(context.Background(), `.a + 1`, map[string]any{"a": "text"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecutionFailure))
}

func TestGoJQ_EnvIsHidden(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Transform(context.Background(), `$ENV | length`, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}
