package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/procflow/internal/engine"
	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/internal/trigger"
	"github.com/rendis/procflow/pkg/schema"
)

// --- Mock RunService ---

type resumeCall struct {
	org     schema.OrgContext
	runID   string
	stepID  string
	outcome schema.Outcome
	output  *schema.StepOutput
}

type mockRuns struct {
	started    []engine.StartRequest
	startOrg   schema.OrgContext
	startErr   error
	resumed    []resumeCall
	resumeErr  error
	runs       map[string]*schema.Run
	tasks      []*schema.UserTask
	taskFilter store.TaskFilter
}

func (m *mockRuns) StartRun(_ context.Context, org schema.OrgContext, req engine.StartRequest) (*engine.StartResult, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.startOrg = org
	m.started = append(m.started, req)
	return &engine.StartResult{RunID: "run-1", Status: schema.RunStatusWaitingForUser, CurrentStepID: "review"}, nil
}

func (m *mockRuns) Resume(_ context.Context, org schema.OrgContext, runID, stepID string, outcome schema.Outcome, output *schema.StepOutput) (*engine.ResumeResult, error) {
	if m.resumeErr != nil {
		return nil, m.resumeErr
	}
	m.resumed = append(m.resumed, resumeCall{org: org, runID: runID, stepID: stepID, outcome: outcome, output: output})
	return &engine.ResumeResult{Status: schema.RunStatusCompleted}, nil
}

func (m *mockRuns) Status(_ context.Context, org schema.OrgContext, runID string) (*schema.Run, error) {
	if r, ok := m.runs[runID]; ok && r.OrgID == org.OrgID {
		return r, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", runID)
}

func (m *mockRuns) Tasks(_ context.Context, _ schema.OrgContext, filter store.TaskFilter) ([]*schema.UserTask, error) {
	m.taskFilter = filter
	return m.tasks, nil
}

// --- Mock FileDispatcher ---

type mockFiles struct {
	events []trigger.FileEvent
}

func (m *mockFiles) DispatchFileEvent(_ context.Context, _ schema.OrgContext, ev trigger.FileEvent) (*trigger.FileDispatchResult, error) {
	m.events = append(m.events, ev)
	return &trigger.FileDispatchResult{RunsCreated: 1, Runs: []trigger.FileRun{{ProcedureID: "p-1", RunID: "run-9", MatchedBy: trigger.MatchExact}}}, nil
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	if args["org_id"] == nil {
		args["org_id"] = "org-1"
	}
	if args["actor_id"] == nil {
		args["actor_id"] = "alice"
	}
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func decodeResult[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &v))
	return v
}

// --- Tests ---

func TestStartTool(t *testing.T) {
	runs := &mockRuns{}
	s := NewServer(ServerDeps{Runs: runs})

	res, err := s.handleStart(context.Background(), buildRequest("procflow.start", map[string]any{
		"procedure_id": "p-1",
		"input":        map[string]any{"doc": "a.pdf"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	require.Len(t, runs.started, 1)
	assert.Equal(t, "p-1", runs.started[0].ProcedureID)
	assert.Equal(t, map[string]any{"doc": "a.pdf"}, runs.started[0].InitialInput)
	assert.Equal(t, schema.OrgContext{OrgID: "org-1", ActorID: "alice"}, runs.startOrg)

	out := decodeResult[engine.StartResult](t, res)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, schema.RunStatusWaitingForUser, out.Status)
}

func TestStartTool_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		runs    *mockRuns
		message string
	}{
		{"missing procedure", map[string]any{}, &mockRuns{}, "procedure_id is required"},
		{"missing org", map[string]any{"org_id": "", "procedure_id": "p-1"}, &mockRuns{}, "org_id is required"},
		{
			"engine error",
			map[string]any{"procedure_id": "p-1"},
			&mockRuns{startErr: schema.NewError(schema.ErrCodeInvalidState, "procedure p-1 is not published")},
			"start failed: [INVALID_STATE] procedure p-1 is not published",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(ServerDeps{Runs: tc.runs})
			res, err := s.handleStart(context.Background(), buildRequest("procflow.start", tc.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Equal(t, tc.message, resultText(t, res))
		})
	}
}

func TestResumeTool_Outputs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind schema.OutputKind
	}{
		{"record", `{"comment": "ok"}`, schema.OutputRecord},
		{"boolean", `true`, schema.OutputScalar},
		{"plain text", `looks fine`, schema.OutputScalar},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runs := &mockRuns{}
			s := NewServer(ServerDeps{Runs: runs})
			res, err := s.handleResume(context.Background(), buildRequest("procflow.resume", map[string]any{
				"run_id":  "run-1",
				"step_id": "review",
				"outcome": "SUCCESS",
				"output":  tc.raw,
			}))
			require.NoError(t, err)
			require.False(t, res.IsError, resultText(t, res))

			require.Len(t, runs.resumed, 1)
			call := runs.resumed[0]
			assert.Equal(t, "review", call.stepID)
			assert.Equal(t, schema.OutcomeSuccess, call.outcome)
			require.NotNil(t, call.output)
			assert.Equal(t, tc.kind, call.output.Kind)
		})
	}
}

func TestResumeTool_NoOutput(t *testing.T) {
	runs := &mockRuns{}
	s := NewServer(ServerDeps{Runs: runs})
	res, err := s.handleResume(context.Background(), buildRequest("procflow.resume", map[string]any{
		"run_id": "run-1", "step_id": "review", "outcome": "FAILURE",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, runs.resumed, 1)
	assert.Nil(t, runs.resumed[0].output)
}

func TestResumeTool_EngineError(t *testing.T) {
	runs := &mockRuns{resumeErr: schema.NewError(schema.ErrCodeInvalidState, "run is not waiting")}
	s := NewServer(ServerDeps{Runs: runs})
	res, err := s.handleResume(context.Background(), buildRequest("procflow.resume", map[string]any{
		"run_id": "run-1", "step_id": "review", "outcome": "SUCCESS",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "INVALID_STATE")
}

func TestStatusTool(t *testing.T) {
	runs := &mockRuns{runs: map[string]*schema.Run{
		"run-1": {ID: "run-1", OrgID: "org-1", Status: schema.RunStatusCompleted},
	}}
	s := NewServer(ServerDeps{Runs: runs})

	res, err := s.handleStatus(context.Background(), buildRequest("procflow.status", map[string]any{"run_id": "run-1"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, schema.RunStatusCompleted, decodeResult[schema.Run](t, res).Status)

	res, err = s.handleStatus(context.Background(), buildRequest("procflow.status", map[string]any{"run_id": "run-1", "org_id": "org-2"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "NOT_FOUND")
}

func TestDispatchFileTool(t *testing.T) {
	files := &mockFiles{}
	s := NewServer(ServerDeps{Runs: &mockRuns{}, Files: files})

	res, err := s.handleDispatchFile(context.Background(), buildRequest("procflow.dispatch_file", map[string]any{
		"file_path": "invoices/q1.pdf",
		"file_id":   "f-1",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, files.events, 1)
	assert.Equal(t, trigger.FileEvent{Path: "invoices/q1.pdf", FileID: "f-1"}, files.events[0])
	assert.Equal(t, 1, decodeResult[trigger.FileDispatchResult](t, res).RunsCreated)

	unconfigured := NewServer(ServerDeps{Runs: &mockRuns{}})
	res, err = unconfigured.handleDispatchFile(context.Background(), buildRequest("procflow.dispatch_file", map[string]any{"file_path": "a.pdf"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTasksTool(t *testing.T) {
	runs := &mockRuns{tasks: []*schema.UserTask{{ID: "t-1", RunID: "run-1", AssigneeID: "alice"}}}
	s := NewServer(ServerDeps{Runs: runs})

	res, err := s.handleTasks(context.Background(), buildRequest("procflow.tasks", map[string]any{
		"assignee_id": "alice",
		"status":      "PENDING",
		"limit":       float64(5),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, "alice", runs.taskFilter.AssigneeID)
	require.NotNil(t, runs.taskFilter.Status)
	assert.Equal(t, schema.TaskStatusPending, *runs.taskFilter.Status)
	assert.Equal(t, 5, runs.taskFilter.Limit)

	out := decodeResult[map[string][]*schema.UserTask](t, res)
	require.Len(t, out["tasks"], 1)
	assert.Equal(t, "t-1", out["tasks"][0].ID)
}

func TestTasksTool_DefaultLimit(t *testing.T) {
	runs := &mockRuns{}
	s := NewServer(ServerDeps{Runs: runs})

	res, err := s.handleTasks(context.Background(), buildRequest("procflow.tasks", map[string]any{}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, defaultTaskLimit, runs.taskFilter.Limit)
	assert.Nil(t, runs.taskFilter.Status)
	assert.Contains(t, resultText(t, res), `"tasks":[]`)
}
