// Package engine drives Runs of a Procedure through their steps: AUTO steps
// execute in-process, HUMAN steps park the Run until a resume arrives.
package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/procflow/internal/actions"
	"github.com/rendis/procflow/internal/assignee"
	"github.com/rendis/procflow/internal/identity"
	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/internal/notify"
	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/internal/telemetry"
	"github.com/rendis/procflow/internal/validation"
	"github.com/rendis/procflow/pkg/schema"
)

// AssigneeResolver maps a step's assignment policy onto an actor.
type AssigneeResolver interface {
	Resolve(ctx context.Context, orgID string, step *schema.Step, starterID string) (*assignee.Result, error)
}

// OutputValidator checks the output a person submits for a HUMAN step.
type OutputValidator interface {
	ValidateOutput(step *schema.Step, outcome schema.Outcome, out *schema.StepOutput) error
}

// CompletionListener is told when a Run that belongs to a process run reaches
// a terminal status. It is called after the Run's lock has been released.
type CompletionListener interface {
	OnRunCompleted(ctx context.Context, run *schema.Run) error
	OnRunFlagged(ctx context.Context, run *schema.Run) error
}

// Config holds the Engine's collaborators. Store and Actions are required.
type Config struct {
	Store     store.Store
	Actions   actions.ActionRegistry
	Assignees AssigneeResolver
	Outputs   OutputValidator
	Sink      notify.Sink
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// StartRequest describes a new Run. Only ProcedureID is required.
type StartRequest struct {
	ProcedureID string
	// StarterID defaults to the org context actor, then the procedure owner.
	StarterID string
	// RunID is pre-generated by callers that must reference the Run before
	// it exists (the process coordinator).
	RunID          string
	Trigger        schema.TriggerType
	TriggerContext map[string]any
	InitialInput   map[string]any
	ProcessRunID   string
}

// StartResult is returned by Start and StartRun.
type StartResult struct {
	RunID         string           `json:"run_id"`
	Status        schema.RunStatus `json:"status"`
	CurrentStepID string           `json:"current_step_id,omitempty"`
}

// ResumeResult is returned by Resume.
type ResumeResult struct {
	Status     schema.RunStatus `json:"status"`
	NextStepID string           `json:"next_step_id,omitempty"`
}

// Engine is the run state machine. Mutations of one Run are serialized by a
// keyed lock; across instances the store's version check rejects stale writes.
type Engine struct {
	store     store.Store
	events    *store.EventLog
	fsm       *FSM[schema.RunStatus]
	actions   actions.ActionRegistry
	assignees AssigneeResolver
	outputs   OutputValidator
	sink      notify.Sink
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	locks     *KeyedLocker
	now       func() time.Time

	mu       sync.RWMutex
	listener CompletionListener
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Actions == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a store and an action registry")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:     cfg.Store,
		events:    store.NewEventLog(cfg.Store),
		fsm:       NewRunFSM(cfg.Store),
		actions:   cfg.Actions,
		assignees: cfg.Assignees,
		outputs:   cfg.Outputs,
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		logger:    logger,
		locks:     NewKeyedLocker(),
		now:       cfg.Now,
	}
	if e.assignees == nil {
		e.assignees = assignee.NewResolver(identity.NewStoreDirectory(cfg.Store), logger)
	}
	if e.outputs == nil {
		v, err := validation.NewProcedureValidator(nil)
		if err != nil {
			return nil, err
		}
		e.outputs = v
	}
	if e.sink == nil {
		e.sink = notify.NewLogSink(logger)
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}

	for from, targets := range ValidRunTransitions {
		for _, to := range targets {
			if to.IsTerminal() {
				e.fsm.OnAfter(from, to, e.countFinished)
			}
		}
	}
	return e, nil
}

// SetCompletionListener registers the listener for process-owned Runs.
func (e *Engine) SetCompletionListener(l CompletionListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// FSM exposes the run state machine so callers can register hooks.
func (e *Engine) FSM() *FSM[schema.RunStatus] {
	return e.fsm
}

// Start creates a Run of procedureID started by starterID.
func (e *Engine) Start(ctx context.Context, org schema.OrgContext, procedureID, starterID string) (*StartResult, error) {
	return e.StartRun(ctx, org, StartRequest{ProcedureID: procedureID, StarterID: starterID})
}

// StartRun snapshots the Procedure's steps into a new Run, persists it and
// runs the AUTO chain until the Run waits for a person or terminates. The
// first HUMAN assignee is resolved before anything is written.
func (e *Engine) StartRun(ctx context.Context, org schema.OrgContext, req StartRequest) (*StartResult, error) {
	proc, err := e.loadProcedure(ctx, org, req.ProcedureID)
	if err != nil {
		return nil, err
	}

	starter := req.StarterID
	if starter == "" {
		starter = org.ActorID
	}
	if starter == "" {
		starter = proc.OwnerID
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = schema.TriggerManual
	}

	ctx = logging.WithRun(ctx, org.OrgID, runID)
	if req.ProcessRunID != "" {
		ctx = logging.WithProcessRunID(ctx, req.ProcessRunID)
	}

	now := e.now()
	run := &schema.Run{
		ID:               runID,
		OrgID:            org.OrgID,
		ProcedureID:      proc.ID,
		ProcedureVersion: proc.Version,
		ProcedureName:    proc.Name,
		StartedBy:        starter,
		Steps:            slices.Clone(proc.Steps),
		Logs:             []schema.RunLog{},
		TriggerContext:   req.TriggerContext,
		InitialInput:     req.InitialInput,
		ProcessRunID:     req.ProcessRunID,
		StartedAt:        now,
		UpdatedAt:        now,
	}

	pre, err := e.preResolve(ctx, run, 0)
	if err != nil {
		return nil, err
	}

	unlock, ok := e.locks.TryLock(runID)
	if !ok {
		return nil, busy(runID)
	}
	tx := &runTx{e: e, run: run}
	err = e.drive(ctx, tx, pre)
	unlock()
	if !tx.created {
		return nil, err
	}

	e.metrics.RunStarted(ctx, proc.ID, string(trigger))
	logging.LogWith(ctx, e.logger).Info("run started",
		slog.String("procedure_id", proc.ID),
		slog.String("trigger", string(trigger)),
		slog.String("status", string(run.Status)))

	if err != nil {
		return nil, err
	}
	e.notifyListener(ctx, run)
	return &StartResult{RunID: run.ID, Status: run.Status, CurrentStepID: waitingStepID(run)}, nil
}

// Resume applies a person's outcome to the waiting step stepID of runID,
// then continues the AUTO chain. SUCCESS and FAILURE advance; FLAGGED stops
// the Run.
func (e *Engine) Resume(ctx context.Context, org schema.OrgContext, runID, stepID string, outcome schema.Outcome, output *schema.StepOutput) (*ResumeResult, error) {
	if !outcome.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"outcome must be SUCCESS, FAILURE or FLAGGED, got %q", outcome)
	}
	ctx = logging.WithRun(ctx, org.OrgID, runID)

	unlock, ok := e.locks.TryLock(runID)
	if !ok {
		return nil, busy(runID)
	}
	run, err := e.resumeLocked(ctx, org, runID, stepID, outcome, output)
	unlock()
	if err != nil {
		return nil, err
	}

	e.notifyListener(ctx, run)
	return &ResumeResult{Status: run.Status, NextStepID: waitingStepID(run)}, nil
}

func (e *Engine) resumeLocked(ctx context.Context, org schema.OrgContext, runID, stepID string, outcome schema.Outcome, output *schema.StepOutput) (*schema.Run, error) {
	run, err := e.loadRun(ctx, org, runID)
	if err != nil {
		return nil, err
	}
	if run.ProcessRunID != "" {
		ctx = logging.WithProcessRunID(ctx, run.ProcessRunID)
	}

	if run.Status != schema.RunStatusWaitingForUser {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"run %s is %s, not waiting for user", run.ID, run.Status).
			WithDetails(map[string]any{"reason": "not_waiting", "status": string(run.Status)})
	}
	step := run.CurrentStep()
	if step == nil || step.ID != stepID {
		expected := ""
		if step != nil {
			expected = step.ID
		}
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"run %s is waiting on step %q, not %q", run.ID, expected, stepID).
			WithDetails(map[string]any{"reason": "step_mismatch", "expected_step_id": expected})
	}
	ctx = logging.WithStepID(ctx, step.ID)

	if err := e.outputs.ValidateOutput(step, outcome, output); err != nil {
		return nil, err
	}

	var pre *preResolved
	if outcome != schema.OutcomeFlagged {
		if pre, err = e.preResolve(ctx, run, run.CurrentStepIndex+1); err != nil {
			return nil, err
		}
	}

	actor := org.ActorID
	if actor == "" {
		actor = run.CurrentAssigneeID
	}
	now := e.now()

	entry := run.PendingLog(run.CurrentStepIndex)
	if entry == nil {
		run.Logs = append(run.Logs, schema.RunLog{
			StepID:        step.ID,
			StepIndex:     run.CurrentStepIndex,
			Action:        step.Action,
			ExecutionType: schema.ExecutionHuman,
			StartedAt:     now,
		})
		entry = &run.Logs[len(run.Logs)-1]
	}
	entry.Output = output
	entry.Outcome = outcome
	entry.ExecutedBy = actor
	entry.CompletedAt = &now

	tx := &runTx{e: e, run: run, created: true}
	tx.stepEvent(step.ID, schema.EventStepExecuted, store.StepPayload{Outcome: outcome, Actor: actor})
	e.metrics.StepExecuted(ctx, string(step.Action), string(schema.ExecutionHuman), string(outcome))

	if outcome == schema.OutcomeFlagged {
		err = tx.flag(ctx, flagReason(step, actor, output))
	} else {
		run.CurrentStepIndex++
		clearAssignee(run)
		if err = tx.setStatus(schema.RunStatusInProgress, ""); err == nil {
			err = tx.save(ctx)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := e.store.CompleteTask(ctx, run.ID, step.ID, now); err != nil {
		logging.LogWith(ctx, e.logger).Error("complete task", slog.String("error", err.Error()))
	} else {
		e.record(ctx, run.ID, step.ID, schema.EventTaskCompleted, store.StepPayload{Outcome: outcome, Actor: actor})
	}

	if run.Status == schema.RunStatusInProgress {
		if err := e.drive(ctx, tx, pre); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// Status returns the Run document.
func (e *Engine) Status(ctx context.Context, org schema.OrgContext, runID string) (*schema.Run, error) {
	return e.loadRun(ctx, org, runID)
}

// Runs lists the org's Runs.
func (e *Engine) Runs(ctx context.Context, org schema.OrgContext, filter store.RunFilter) ([]*schema.Run, error) {
	filter.OrgID = org.OrgID
	return e.store.ListRuns(ctx, filter)
}

// Tasks lists the org's user tasks, the inbox of HUMAN steps.
func (e *Engine) Tasks(ctx context.Context, org schema.OrgContext, filter store.TaskFilter) ([]*schema.UserTask, error) {
	filter.OrgID = org.OrgID
	return e.store.ListTasks(ctx, filter)
}

// Trace reconstructs the per-step history of a Run from its audit events.
func (e *Engine) Trace(ctx context.Context, org schema.OrgContext, runID string) (map[string]*store.StepTrace, error) {
	if _, err := e.loadRun(ctx, org, runID); err != nil {
		return nil, err
	}
	return e.events.ReplaySteps(ctx, runID)
}

func (e *Engine) loadProcedure(ctx context.Context, org schema.OrgContext, id string) (*schema.Procedure, error) {
	p, err := e.store.GetProcedure(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OrgID != org.OrgID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "procedure %s not found", id)
	}
	return p, nil
}

func (e *Engine) loadRun(ctx context.Context, org schema.OrgContext, id string) (*schema.Run, error) {
	run, err := e.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.OrgID != org.OrgID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", id)
	}
	return run, nil
}

func (e *Engine) notifyListener(ctx context.Context, run *schema.Run) {
	if run.ProcessRunID == "" || !run.Status.IsTerminal() {
		return
	}
	e.mu.RLock()
	l := e.listener
	e.mu.RUnlock()
	if l == nil {
		return
	}

	var err error
	if run.Status == schema.RunStatusCompleted {
		err = l.OnRunCompleted(ctx, run)
	} else {
		err = l.OnRunFlagged(ctx, run)
	}
	if err != nil {
		logging.LogWith(ctx, e.logger).Error("completion listener failed",
			slog.String("process_run_id", run.ProcessRunID),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) countFinished(ctx context.Context, _ string, _, to schema.RunStatus) error {
	e.metrics.RunFinished(ctx, string(to))
	return nil
}

func busy(runID string) error {
	return schema.NewErrorf(schema.ErrCodeConflict, "run %s is already being processed", runID)
}

func waitingStepID(run *schema.Run) string {
	if run.Status != schema.RunStatusWaitingForUser {
		return ""
	}
	if step := run.CurrentStep(); step != nil {
		return step.ID
	}
	return ""
}

func clearAssignee(run *schema.Run) {
	run.CurrentAssigneeID = ""
	run.AssigneeType = ""
	run.CurrentAssigneeEmail = ""
}

// flagReason prefers a "reason" field of a RECORD output.
func flagReason(step *schema.Step, actor string, out *schema.StepOutput) string {
	if out != nil && out.Kind == schema.OutputRecord {
		if r, ok := out.Record["reason"].(string); ok && r != "" {
			return r
		}
	}
	if actor == "" {
		return "flagged at step " + step.ID
	}
	return "flagged by " + actor + " at step " + step.ID
}
