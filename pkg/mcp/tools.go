package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/procflow/internal/engine"
	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/internal/trigger"
	"github.com/rendis/procflow/pkg/schema"
)

const defaultTaskLimit = 50

// handleStart starts a run of a procedure.
func (s *Server) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, ctx, bad := s.orgFrom(ctx, req)
	if bad != nil {
		return bad, nil
	}
	procedureID, err := req.RequireString("procedure_id")
	if err != nil || procedureID == "" {
		return mcp.NewToolResultError("procedure_id is required"), nil
	}

	res, err := s.runs.StartRun(ctx, org, engine.StartRequest{
		ProcedureID:  procedureID,
		StarterID:    req.GetString("starter_id", ""),
		InitialInput: mcp.ParseStringMap(req, "input", nil),
	})
	if err != nil {
		return toolError("start failed", err), nil
	}
	return marshalResult(res)
}

// handleResume completes the step a run waits on.
func (s *Server) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, ctx, bad := s.orgFrom(ctx, req)
	if bad != nil {
		return bad, nil
	}
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	stepID, err := req.RequireString("step_id")
	if err != nil {
		return mcp.NewToolResultError("step_id is required"), nil
	}
	outcome, err := req.RequireString("outcome")
	if err != nil {
		return mcp.NewToolResultError("outcome is required"), nil
	}

	output, err := parseOutput(req.GetString("output", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid output: %v", err)), nil
	}

	res, err := s.runs.Resume(ctx, org, runID, stepID, schema.Outcome(outcome), output)
	if err != nil {
		return toolError("resume failed", err), nil
	}
	return marshalResult(res)
}

// handleStatus returns the full Run document.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, ctx, bad := s.orgFrom(ctx, req)
	if bad != nil {
		return bad, nil
	}
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, err := s.runs.Status(ctx, org, runID)
	if err != nil {
		return toolError("status query failed", err), nil
	}
	return marshalResult(run)
}

// handleDispatchFile reports a new file to the trigger dispatcher.
func (s *Server) handleDispatchFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, ctx, bad := s.orgFrom(ctx, req)
	if bad != nil {
		return bad, nil
	}
	if s.files == nil {
		return mcp.NewToolResultError("file dispatch is not configured"), nil
	}
	path, err := req.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError("file_path is required"), nil
	}

	res, err := s.files.DispatchFileEvent(ctx, org, trigger.FileEvent{
		Path:   path,
		URL:    req.GetString("file_url", ""),
		FileID: req.GetString("file_id", ""),
	})
	if err != nil {
		return toolError("dispatch failed", err), nil
	}
	return marshalResult(res)
}

// handleTasks lists user tasks of the org.
func (s *Server) handleTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, ctx, bad := s.orgFrom(ctx, req)
	if bad != nil {
		return bad, nil
	}

	filter := store.TaskFilter{
		AssigneeID: req.GetString("assignee_id", ""),
		RunID:      req.GetString("run_id", ""),
		Limit:      extractInt(req.GetArguments(), "limit", defaultTaskLimit),
	}
	if st := req.GetString("status", ""); st != "" {
		status := schema.TaskStatus(st)
		filter.Status = &status
	}

	tasks, err := s.runs.Tasks(ctx, org, filter)
	if err != nil {
		return toolError("task query failed", err), nil
	}
	if tasks == nil {
		tasks = []*schema.UserTask{}
	}
	return marshalResult(map[string]any{"tasks": tasks})
}

// --- Internal helpers ---

// orgFrom reads the org and actor of a call, maps the actor to the caller's
// session and tags ctx for logging. A non-nil result is the error to return.
func (s *Server) orgFrom(ctx context.Context, req mcp.CallToolRequest) (schema.OrgContext, context.Context, *mcp.CallToolResult) {
	orgID, err := req.RequireString("org_id")
	if err != nil || orgID == "" {
		return schema.OrgContext{}, ctx, mcp.NewToolResultError("org_id is required")
	}
	actorID, err := req.RequireString("actor_id")
	if err != nil || actorID == "" {
		return schema.OrgContext{}, ctx, mcp.NewToolResultError("actor_id is required")
	}
	s.captureSession(ctx, actorID)
	return schema.OrgContext{OrgID: orgID, ActorID: actorID}, logging.WithOrgID(ctx, orgID), nil
}

// captureSession maps the actor to its current MCP session for notifications.
func (s *Server) captureSession(ctx context.Context, actorID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(actorID, session.SessionID())
	}
}

// parseOutput accepts a JSON document or, failing that, plain text which
// becomes a scalar string.
func parseOutput(raw string) (*schema.StepOutput, error) {
	if raw == "" {
		return nil, nil
	}
	if json.Valid([]byte(raw)) {
		return schema.ParseOutput(json.RawMessage(raw))
	}
	quoted, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return schema.ParseOutput(quoted)
}

// toolError renders err with its engine code so agents can branch on it.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var ee *schema.EngineError
	if errors.As(err, &ee) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: [%s] %s", prefix, ee.Code, ee.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// extractInt safely extracts an integer from an argument map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
