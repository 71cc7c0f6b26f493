package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
}

func TestValidationResult_WarningsOnlyIsValid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("trigger", IssueTrigger, "webhook without secret")

	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("steps[0].action", IssueUnknownAction, "unknown action")

	r2 := &ValidationResult{}
	r2.AddError("steps[1].id", IssueDuplicateStepID, "duplicate")
	r2.AddWarning("trigger", IssueTrigger, "no secret")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 1)
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[0].action", IssueUnknownAction, "unknown action \"FAX\"")

	err := r.ToError()
	require.Error(t, err)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeValidation, ee.Code)
	assert.Contains(t, ee.Message, "steps[0].action")
	assert.Equal(t, 1, ee.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[0]", IssueAssignment, "err1")
	r.AddError("steps[1]", IssueAssignment, "err2")
	r.AddWarning("/", IssueTrigger, "warn1")

	err := r.ToError()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidation))

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Message, "2 errors")
	assert.Equal(t, 1, ee.Details["warning_count"])
}
