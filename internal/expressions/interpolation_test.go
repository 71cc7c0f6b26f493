package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_StepOutputRoundTrip(t *testing.T) {
	r := NewVariableResolver()
	data := map[string]any{
		"step_1_output": map[string]any{"email": "a@b.com"},
	}

	assert.Equal(t, "a@b.com", r.Resolve("{{step_1.output.email}}", data))
}

func TestResolve_UnboundPathStaysLiteral(t *testing.T) {
	r := NewVariableResolver()

	assert.Equal(t, "{{x.y}}", r.Resolve("{{x.y}}", map[string]any{}))
	assert.Equal(t, "hi {{x.y}}!", r.Resolve("hi {{x.y}}!", nil))
	assert.Equal(t, "{{step_2.output.email}}",
		r.Resolve("{{step_2.output.email}}", map[string]any{"step_1_output": map[string]any{}}))
}

func TestResolve_TopLevelAndNested(t *testing.T) {
	r := NewVariableResolver()
	data := map[string]any{
		"customer": "Acme",
		"trigger": map[string]any{
			"body":    map[string]any{"invoice": map[string]any{"total": 120.5}},
			"headers": map[string]any{"X-Source": "billing"},
		},
	}

	got := r.Resolve("{{customer}} owes {{ trigger.body.invoice.total }} via {{trigger.headers.X-Source}}", data)
	assert.Equal(t, "Acme owes 120.5 via billing", got)
}

func TestResolve_NonStringValuesAreJSON(t *testing.T) {
	r := NewVariableResolver()
	data := map[string]any{
		"flags": map[string]any{"ok": true},
		"items": []any{"a", "b"},
		"count": 3,
	}

	assert.Equal(t, `{"ok":true}`, r.Resolve("{{flags}}", data))
	assert.Equal(t, "true", r.Resolve("{{flags.ok}}", data))
	assert.Equal(t, `["a","b"]`, r.Resolve("{{items}}", data))
	assert.Equal(t, "b", r.Resolve("{{items.1}}", data))
	assert.Equal(t, "{{items.7}}", r.Resolve("{{items.7}}", data))
	assert.Equal(t, "3", r.Resolve("{{count}}", data))
}

func TestResolve_DottedLiteralKey(t *testing.T) {
	r := NewVariableResolver()
	assert.Equal(t, "v", r.Resolve("{{a.b}}", map[string]any{"a.b": "v"}))
}

func TestResolve_UnclosedAndNoTemplate(t *testing.T) {
	r := NewVariableResolver()
	data := map[string]any{"a": "x"}

	assert.Equal(t, "plain text", r.Resolve("plain text", data))
	assert.Equal(t, "x and {{a", r.Resolve("{{a}} and {{a", data))
	assert.Equal(t, "{{}}", r.Resolve("{{}}", data))
}

func TestResolveValue_PreservesType(t *testing.T) {
	r := NewVariableResolver()
	data := map[string]any{
		"step_1_output": map[string]any{"amount": 42.0, "tags": []any{"x"}},
	}

	assert.Equal(t, 42.0, r.ResolveValue("{{step_1.output.amount}}", data))
	assert.Equal(t, []any{"x"}, r.ResolveValue(" {{ step_1.output.tags }} ", data))
	assert.Equal(t, "total 42", r.ResolveValue("total {{step_1.output.amount}}", data))
	assert.Equal(t, "{{missing}}", r.ResolveValue("{{missing}}", data))
}

func TestResolveMap_Recursive(t *testing.T) {
	r := NewVariableResolver()
	data := map[string]any{"input": map[string]any{"name": "Ada", "age": 36.0}}

	got := r.ResolveMap(map[string]any{
		"greeting": "Hello {{input.name}}",
		"age":      "{{input.age}}",
		"nested":   map[string]any{"list": []any{"{{input.name}}", 1}},
	}, data)

	assert.Equal(t, "Hello Ada", got["greeting"])
	assert.Equal(t, 36.0, got["age"])
	assert.Equal(t, []any{"Ada", 1}, got["nested"].(map[string]any)["list"])
	assert.Nil(t, r.ResolveMap(nil, data))
}

func TestHasTemplate(t *testing.T) {
	assert.True(t, HasTemplate("a {{b}}"))
	assert.False(t, HasTemplate("a {{b"))
	assert.False(t, HasTemplate("a }} {{"))
	assert.False(t, HasTemplate(""))
}

func TestStepReferences(t *testing.T) {
	refs := StepReferences("{{step_2.output.a}} {{step_1.output}} {{step_2.output.b}} {{input.x}}")
	assert.Equal(t, []int{2, 1}, refs)
	assert.Empty(t, StepReferences("none"))
}
