package actions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/procflow/pkg/schema"
)

// stubAction is a minimal Action for registry tests.
type stubAction struct {
	name schema.Action
	desc string
}

func (s *stubAction) Name() schema.Action                  { return s.name }
func (s *stubAction) Describe() string                     { return s.desc }
func (s *stubAction) Validate(_ schema.StepConfig) error   { return nil }
func (s *stubAction) Execute(_ context.Context, _ ActionInput) (*schema.StepOutput, error) {
	return schema.ScalarOutput("ok"), nil
}

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: schema.ActionComputeValue, desc: "compute"}))
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has(schema.ActionComputeValue))
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: schema.ActionComputeValue}))

	err := reg.Register(&stubAction{name: schema.ActionComputeValue})
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)
}

func TestRegistry_Register_Invalid(t *testing.T) {
	reg := NewRegistry()
	for _, a := range []Action{nil, &stubAction{}, &stubAction{name: schema.ActionApproval}} {
		err := reg.Register(a)
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	}
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_Get_NotRegistered(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(schema.ActionHTTPRequest)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecutionFailure))
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: schema.ActionTransformData}))
	require.NoError(t, reg.Register(&stubAction{name: schema.ActionComputeValue}))
	require.NoError(t, reg.Register(&stubAction{name: schema.ActionHTTPRequest}))

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, schema.ActionComputeValue, list[0].Name)
	assert.Equal(t, schema.ActionHTTPRequest, list[1].Name)
	assert.Equal(t, schema.ActionTransformData, list[2].Name)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{name: schema.ActionComputeValue}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Get(schema.ActionComputeValue)
			assert.NoError(t, err)
			_ = reg.List()
		}()
	}
	wg.Wait()
}

func TestRegisterBuiltins_CoversEveryAutoAction(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinDeps{}))

	for _, a := range schema.Actions() {
		if schema.Classify(a) == schema.ExecutionAuto {
			assert.True(t, reg.Has(a), "missing builtin for %s", a)
		}
	}
}
