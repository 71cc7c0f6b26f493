package store

import (
	"context"
	"time"

	"github.com/rendis/procflow/pkg/schema"
)

// Store is the document store the engine runs on. Runs and process runs are
// updated with an optimistic version check; every other document is written
// whole. Implementations must be safe for concurrent use.
type Store interface {
	// Procedures
	SaveProcedure(ctx context.Context, p *schema.Procedure) error
	GetProcedure(ctx context.Context, id string) (*schema.Procedure, error)
	ListProcedures(ctx context.Context, filter ProcedureFilter) ([]*schema.Procedure, error)

	// Runs
	CreateRun(ctx context.Context, run *schema.Run) error
	GetRun(ctx context.Context, id string) (*schema.Run, error)
	// UpdateRun writes run if the stored version equals run.Version and
	// increments run.Version on success. A stale version yields CONFLICT.
	UpdateRun(ctx context.Context, run *schema.Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error)

	// User tasks
	CreateTask(ctx context.Context, task *schema.UserTask) error
	GetTask(ctx context.Context, runID, stepID string) (*schema.UserTask, error)
	CompleteTask(ctx context.Context, runID, stepID string, at time.Time) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]*schema.UserTask, error)

	// Processes
	SaveProcess(ctx context.Context, p *schema.Process) error
	GetProcess(ctx context.Context, id string) (*schema.Process, error)

	// Process runs
	CreateProcessRun(ctx context.Context, pr *schema.ProcessRun) error
	GetProcessRun(ctx context.Context, id string) (*schema.ProcessRun, error)
	// UpdateProcessRun follows the same version contract as UpdateRun.
	UpdateProcessRun(ctx context.Context, pr *schema.ProcessRun) error
	ListProcessRuns(ctx context.Context, filter ProcessRunFilter) ([]*schema.ProcessRun, error)

	// Users
	UpsertUser(ctx context.Context, u *schema.User) error
	GetUser(ctx context.Context, id string) (*schema.User, error)

	// Audit events (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, subjectID string, since int64) ([]*Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
