package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/procflow/internal/engine"
	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/internal/trigger"
	"github.com/rendis/procflow/pkg/schema"
)

// RunService is the engine surface the tools drive.
type RunService interface {
	StartRun(ctx context.Context, org schema.OrgContext, req engine.StartRequest) (*engine.StartResult, error)
	Resume(ctx context.Context, org schema.OrgContext, runID, stepID string, outcome schema.Outcome, output *schema.StepOutput) (*engine.ResumeResult, error)
	Status(ctx context.Context, org schema.OrgContext, runID string) (*schema.Run, error)
	Tasks(ctx context.Context, org schema.OrgContext, filter store.TaskFilter) ([]*schema.UserTask, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runs     RunService
	Files    trigger.FileDispatcher
	Sessions *SessionRegistry
	Logger   *slog.Logger
	Version  string
}

// Server wraps an MCP server with procflow tool handlers.
type Server struct {
	runs      RunService
	files     trigger.FileDispatcher
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all 5 tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		runs:     deps.Runs,
		files:    deps.Files,
		sessions: sessions,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"procflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Procflow runs document procedures for an organization. Use procflow.start to start a run, procflow.tasks to find steps waiting for a person, procflow.resume to complete them, procflow.status to inspect a run and procflow.dispatch_file to report a new file."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: dispatchFileTool(), Handler: s.handleDispatchFile},
		{Tool: tasksTool(), Handler: s.handleTasks},
	}
}

// --- Tool definitions ---

func orgParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("org_id", mcp.Required(), mcp.Description("Organization the call acts in")),
		mcp.WithString("actor_id", mcp.Required(), mcp.Description("User on whose behalf the call is made")),
	}
}

func newTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{mcp.WithDescription(description)}, orgParams()...)
	return mcp.NewTool(name, append(all, opts...)...)
}

func startTool() mcp.Tool {
	return newTool("procflow.start", "Start a run of a published procedure",
		mcp.WithString("procedure_id", mcp.Required(), mcp.Description("ID of the procedure to run")),
		mcp.WithString("starter_id", mcp.Description("Starter of the run (default: actor_id)")),
		mcp.WithObject("input", mcp.Description("Initial input data")),
	)
}

func resumeTool() mcp.Tool {
	return newTool("procflow.resume", "Complete the step a run is waiting on",
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the waiting run")),
		mcp.WithString("step_id", mcp.Required(), mcp.Description("ID of the step being completed")),
		mcp.WithString("outcome", mcp.Required(),
			mcp.Enum(string(schema.OutcomeSuccess), string(schema.OutcomeFailure), string(schema.OutcomeFlagged)),
			mcp.Description("Outcome of the step"),
		),
		mcp.WithString("output", mcp.Description("JSON encoded step output; plain text is kept as a string")),
	)
}

func statusTool() mcp.Tool {
	return newTool("procflow.status", "Get the current state of a run",
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func dispatchFileTool() mcp.Tool {
	return newTool("procflow.dispatch_file", "Report a newly created file and start every procedure watching its folder",
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path of the file, including folders")),
		mcp.WithString("file_url", mcp.Description("URL the file can be fetched from")),
		mcp.WithString("file_id", mcp.Description("Provider id of the file")),
	)
}

func tasksTool() mcp.Tool {
	return newTool("procflow.tasks", "List user tasks",
		mcp.WithString("assignee_id", mcp.Description("Only tasks of this assignee")),
		mcp.WithString("run_id", mcp.Description("Only tasks of this run")),
		mcp.WithString("status", mcp.Enum(string(schema.TaskStatusPending), string(schema.TaskStatusCompleted)),
			mcp.Description("Only tasks with this status")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks (default: 50)")),
	)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal result: " + err.Error()), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
