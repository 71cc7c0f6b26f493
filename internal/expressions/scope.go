package expressions

import (
	"encoding/json"

	"github.com/rendis/procflow/pkg/schema"
)

// RunScope builds the variable scope an AUTO step of run sees:
//
//	trigger          trigger context (body, headers, file_path, ...)
//	input            the run's initial input
//	run              id, org_id, procedure_id, started_by
//	step_<n>_output  output of the n-th step (1-based), once finalized
//
// Every value is deep-copied so actions cannot mutate the run document.
func RunScope(run *schema.Run) map[string]any {
	scope := map[string]any{
		"trigger": deepCopyMapOrEmpty(run.TriggerContext),
		"input":   deepCopyMapOrEmpty(run.InitialInput),
		"run": map[string]any{
			"id":           run.ID,
			"org_id":       run.OrgID,
			"procedure_id": run.ProcedureID,
			"started_by":   run.StartedBy,
		},
	}
	for _, entry := range run.Logs {
		if entry.Outcome == schema.OutcomePending || entry.Output == nil {
			continue
		}
		scope[schema.StepOutputKey(entry.StepIndex+1)] = deepCopyAny(entry.Output.Value())
	}
	return scope
}

// CopyContext returns a deep copy of a process context map.
func CopyContext(m map[string]any) map[string]any {
	return deepCopyMapOrEmpty(m)
}

func deepCopyMapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return deepCopyMap(m)
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively copies maps and slices; scalars are returned as-is.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case map[string]string:
		cp := make(map[string]any, len(val))
		for k, s := range val {
			cp[k] = s
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
