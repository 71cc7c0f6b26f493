package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/procflow/pkg/schema"
)

func newJSV(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func minimalProcedure() *schema.Procedure {
	return &schema.Procedure{
		ID:    "proc-1",
		OrgID: "org-1",
		Name:  "Onboarding",
		Steps: []schema.Step{
			{
				ID:         "approve",
				Action:     schema.ActionApproval,
				Assignment: &schema.Assignment{Type: schema.AssignStarter},
				Config:     schema.ApprovalConfig{},
			},
		},
	}
}

func TestJSONSchema_ProcedureValid(t *testing.T) {
	v := newJSV(t)
	assert.NoError(t, v.ValidateProcedure(minimalProcedure()))
}

func TestJSONSchema_ProcedureNil(t *testing.T) {
	v := newJSV(t)
	err := v.ValidateProcedure(nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestJSONSchema_ProcedureMissingName(t *testing.T) {
	v := newJSV(t)
	p := minimalProcedure()
	p.Name = ""

	err := v.ValidateProcedure(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/name")
}

func TestJSONSchema_ProcedureNoSteps(t *testing.T) {
	v := newJSV(t)
	p := minimalProcedure()
	p.Steps = nil

	assert.Error(t, v.ValidateProcedure(p))
}

func TestJSONSchema_ProcedureBadTriggerType(t *testing.T) {
	v := newJSV(t)
	p := minimalProcedure()
	p.Trigger = &schema.Trigger{Type: "CRON"}

	err := v.ValidateProcedure(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/trigger/type")
}

func TestJSONSchema_ProcessDelayPattern(t *testing.T) {
	v := newJSV(t)
	p := &schema.Process{
		ID: "p1", OrgID: "org-1", Name: "chain",
		Steps: []schema.ProcessStep{
			{InstanceID: "a", Type: schema.ProcessStepProcedure, ProcedureID: "proc-1"},
			{InstanceID: "b", Type: schema.ProcessStepDelay, Delay: &schema.DelaySpec{Duration: "1h30m"}},
		},
	}
	require.NoError(t, v.ValidateProcess(p))

	p.Steps[1].Delay.Duration = "tomorrow"
	assert.Error(t, v.ValidateProcess(p))
}

func TestJSONSchema_FormOutput(t *testing.T) {
	v := newJSV(t)
	cfg := schema.FormInputConfig{Fields: []schema.FormField{
		{Name: "email", Type: "string", Required: true},
		{Name: "age", Type: "number"},
		{Name: "start", Type: "date"},
	}}

	assert.NoError(t, v.ValidateFormOutput("s1", cfg, map[string]any{"email": "a@b.com", "age": 31}))

	err := v.ValidateFormOutput("s1", cfg, map[string]any{"age": 31})
	require.Error(t, err)
	var ee *schema.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "s1", ee.StepID)
	assert.Contains(t, ee.Message, "email")

	assert.Error(t, v.ValidateFormOutput("s1", cfg, map[string]any{"email": "a@b.com", "age": "old"}))
	assert.Error(t, v.ValidateFormOutput("s1", cfg, map[string]any{"email": "a@b.com", "start": "next week"}))
}

func TestJSONSchema_FormSchemaCached(t *testing.T) {
	v := newJSV(t)
	cfg := schema.FormInputConfig{Fields: []schema.FormField{{Name: "x", Required: true}}}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateFormOutput("s1", cfg, map[string]any{"x": 1}))
		}()
	}
	wg.Wait()

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}
