// Package process sequences Procedure Runs and timed delays into a single
// ProcessRun, carrying each Run's output forward into the next Run's input.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/procflow/internal/engine"
	"github.com/rendis/procflow/internal/expressions"
	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/internal/telemetry"
	"github.com/rendis/procflow/pkg/schema"
)

// RunStarter creates child Runs. *engine.Engine satisfies it.
type RunStarter interface {
	StartRun(ctx context.Context, org schema.OrgContext, req engine.StartRequest) (*engine.StartResult, error)
}

// DelayQueue is told when a ProcessRun becomes due.
type DelayQueue interface {
	Schedule(ctx context.Context, processRunID string, at time.Time) error
}

// Config wires a Coordinator.
type Config struct {
	Store   store.Store
	Runs    RunStarter
	Delays  DelayQueue // optional
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Coordinator drives ProcessRuns. It listens for child Run completion via
// engine.CompletionListener.
type Coordinator struct {
	store    store.Store
	runs     RunStarter
	delays   DelayQueue
	fsm      *engine.FSM[schema.ProcessRunStatus]
	locks    *engine.KeyedLocker
	resolver *expressions.VariableResolver
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

var _ engine.CompletionListener = (*Coordinator)(nil)

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("process: store is required")
	}
	if cfg.Runs == nil {
		return nil, fmt.Errorf("process: run starter is required")
	}
	c := &Coordinator{
		store:    cfg.Store,
		runs:     cfg.Runs,
		delays:   cfg.Delays,
		fsm:      engine.NewProcessFSM(cfg.Store),
		locks:    engine.NewKeyedLocker(),
		resolver: expressions.NewVariableResolver(),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c, nil
}

// childStart is a child Run to start once the ProcessRun lock is released.
type childStart struct {
	org    schema.OrgContext
	req    engine.StartRequest
	procID string
}

// StartProcess creates a ProcessRun of processID with context_data.input set
// to input and starts its first step. The returned ProcessRun reflects any
// progress made synchronously by the first child Run.
func (c *Coordinator) StartProcess(ctx context.Context, org schema.OrgContext, processID, starterID string, input map[string]any) (*schema.ProcessRun, error) {
	p, err := c.loadProcess(ctx, org, processID)
	if err != nil {
		return nil, err
	}
	if len(p.Steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "process %s has no steps", p.ID)
	}
	if starterID == "" {
		starterID = org.ActorID
	}

	now := c.now()
	pr := &schema.ProcessRun{
		ID:          uuid.NewString(),
		ProcessID:   p.ID,
		OrgID:       p.OrgID,
		StartedBy:   starterID,
		ContextData: map[string]any{"input": expressions.CopyContext(input)},
		StepHistory: []schema.StepHistoryEntry{},
		StartedAt:   now,
		UpdatedAt:   now,
	}
	ctx = logging.WithProcessRunID(logging.WithOrgID(ctx, org.OrgID), pr.ID)

	unlock := c.locks.Lock(pr.ID)
	tx := &processTx{c: c, pr: pr}
	next, err := c.advance(ctx, tx, p)
	unlock()
	if err != nil {
		return nil, err
	}
	logging.LogWith(ctx, c.logger).Info("process started",
		slog.String("process_id", p.ID),
		slog.Int("steps", len(p.Steps)))

	c.startChild(ctx, pr.ID, next)
	return c.store.GetProcessRun(ctx, pr.ID)
}

// OnRunCompleted binds the child Run's final output into the ProcessRun
// context under step_<n>_output and moves to the next process step. Runs that
// are not the current child of their ProcessRun are ignored.
func (c *Coordinator) OnRunCompleted(ctx context.Context, run *schema.Run) error {
	if run.ProcessRunID == "" {
		return nil
	}
	ctx = logging.WithProcessRunID(ctx, run.ProcessRunID)

	unlock := c.locks.Lock(run.ProcessRunID)
	next, err := c.completeChild(ctx, run)
	unlock()
	if err != nil {
		return err
	}
	c.startChild(ctx, run.ProcessRunID, next)
	return nil
}

func (c *Coordinator) completeChild(ctx context.Context, run *schema.Run) (*childStart, error) {
	pr, entry, err := c.currentChild(ctx, run)
	if err != nil || entry == nil {
		return nil, err
	}
	p, err := c.store.GetProcess(ctx, pr.ProcessID)
	if err != nil {
		return nil, err
	}

	var value any
	if out := run.FinalOutput(); out != nil {
		value = out.Value()
	}
	if pr.ContextData == nil {
		pr.ContextData = map[string]any{}
	}
	pr.ContextData[schema.StepOutputKey(pr.CurrentStepIndex+1)] = value

	now := c.now()
	entry.Status = schema.HistoryStatusCompleted
	entry.CompletedAt = &now
	pr.CurrentStepIndex++

	tx := &processTx{c: c, pr: pr, created: true}
	return c.advance(ctx, tx, p)
}

// OnRunFlagged flags the ProcessRun that owns run.
func (c *Coordinator) OnRunFlagged(ctx context.Context, run *schema.Run) error {
	if run.ProcessRunID == "" {
		return nil
	}
	ctx = logging.WithProcessRunID(ctx, run.ProcessRunID)

	unlock := c.locks.Lock(run.ProcessRunID)
	defer unlock()

	pr, entry, err := c.currentChild(ctx, run)
	if err != nil || entry == nil {
		return err
	}
	now := c.now()
	entry.Status = schema.HistoryStatusFlagged
	entry.CompletedAt = &now

	reason := fmt.Sprintf("run %s flagged", run.ID)
	if run.FlagReason != "" {
		reason += ": " + run.FlagReason
	}
	tx := &processTx{c: c, pr: pr, created: true}
	return tx.flag(ctx, reason)
}

// currentChild loads the ProcessRun of run and returns its history entry when
// run is the child currently awaited. A nil entry means run is stale.
func (c *Coordinator) currentChild(ctx context.Context, run *schema.Run) (*schema.ProcessRun, *schema.StepHistoryEntry, error) {
	pr, err := c.store.GetProcessRun(ctx, run.ProcessRunID)
	if err != nil {
		return nil, nil, err
	}
	entry := pr.CurrentHistory()
	if pr.Status != schema.ProcessRunStatusRunning || entry == nil ||
		entry.RunID != run.ID || entry.Status != schema.HistoryStatusRunning {
		logging.LogWith(ctx, c.logger).Warn("ignoring run outside process position",
			slog.String("run_id", run.ID),
			slog.String("process_status", string(pr.Status)))
		return pr, nil, nil
	}
	return pr, entry, nil
}

// ResumeDelay continues a ProcessRun whose delay has elapsed. The ProcessRun
// must be WAITING_DELAY with resume_at not after now.
func (c *Coordinator) ResumeDelay(ctx context.Context, processRunID string) (*schema.ProcessRun, error) {
	ctx = logging.WithProcessRunID(ctx, processRunID)

	unlock, ok := c.locks.TryLock(processRunID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "process run %s is already being processed", processRunID)
	}
	next, err := c.resumeLocked(ctx, processRunID)
	unlock()
	if err != nil {
		return nil, err
	}
	c.startChild(ctx, processRunID, next)
	return c.store.GetProcessRun(ctx, processRunID)
}

func (c *Coordinator) resumeLocked(ctx context.Context, processRunID string) (*childStart, error) {
	pr, err := c.store.GetProcessRun(ctx, processRunID)
	if err != nil {
		return nil, err
	}
	if pr.Status != schema.ProcessRunStatusWaitingDelay {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"process run %s is %s, not waiting on a delay", pr.ID, pr.Status).
			WithDetails(map[string]any{"reason": "not_waiting", "status": string(pr.Status)})
	}
	now := c.now()
	if pr.ResumeAt != nil && pr.ResumeAt.After(now) {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"process run %s resumes at %s", pr.ID, pr.ResumeAt.Format(time.RFC3339)).
			WithDetails(map[string]any{"reason": "too_early", "resume_at": pr.ResumeAt.Format(time.RFC3339)})
	}

	p, err := c.store.GetProcess(ctx, pr.ProcessID)
	if err != nil {
		return nil, err
	}
	if entry := pr.CurrentHistory(); entry != nil {
		entry.Status = schema.HistoryStatusCompleted
		entry.CompletedAt = &now
	}
	pr.ResumeAt = nil
	pr.CurrentStepIndex++

	tx := &processTx{c: c, pr: pr, created: true}
	return c.advance(ctx, tx, p)
}

// advance starts the step at the ProcessRun's current index. A PROCEDURE
// step is persisted as RUNNING and its child Run is returned for the caller
// to start after unlocking; a DELAY step parks the ProcessRun; past the last
// step the ProcessRun completes.
func (c *Coordinator) advance(ctx context.Context, tx *processTx, p *schema.Process) (*childStart, error) {
	pr := tx.pr
	if pr.CurrentStepIndex >= len(p.Steps) {
		if err := tx.ensureRunning(); err != nil {
			return nil, err
		}
		return nil, tx.complete(ctx)
	}

	step := p.Steps[pr.CurrentStepIndex]
	pr.CurrentStepInstanceID = step.InstanceID
	now := c.now()

	switch step.Type {
	case schema.ProcessStepProcedure:
		if err := tx.setStatus(schema.ProcessRunStatusRunning, "start "+step.InstanceID); err != nil {
			return nil, err
		}
		runID := uuid.NewString()
		input := c.resolveInputs(step.InputMappings, pr.ContextData)
		pr.StepHistory = append(pr.StepHistory, schema.StepHistoryEntry{
			InstanceID: step.InstanceID,
			Index:      pr.CurrentStepIndex,
			Type:       step.Type,
			RunID:      runID,
			Status:     schema.HistoryStatusRunning,
			StartedAt:  now,
		})
		if err := tx.save(ctx); err != nil {
			return nil, err
		}
		c.metrics.ProcessAdvanced(ctx, string(step.Type))
		return &childStart{
			org:    schema.OrgContext{OrgID: pr.OrgID, ActorID: pr.StartedBy},
			procID: step.ProcedureID,
			req: engine.StartRequest{
				ProcedureID: step.ProcedureID,
				StarterID:   pr.StartedBy,
				RunID:       runID,
				Trigger:     schema.TriggerManual,
				TriggerContext: map[string]any{
					"process_id":       pr.ProcessID,
					"process_run_id":   pr.ID,
					"step_instance_id": step.InstanceID,
				},
				InitialInput: input,
				ProcessRunID: pr.ID,
			},
		}, nil

	case schema.ProcessStepDelay:
		if err := tx.ensureRunning(); err != nil {
			return nil, err
		}
		dur, err := step.Delay.Parse()
		if err != nil {
			return nil, tx.flag(ctx, fmt.Sprintf("step %s: %s", step.InstanceID, err.Error()))
		}
		resumeAt := now.Add(dur)
		if err := tx.setStatus(schema.ProcessRunStatusWaitingDelay, "delay "+step.Delay.Duration); err != nil {
			return nil, err
		}
		pr.ResumeAt = &resumeAt
		pr.StepHistory = append(pr.StepHistory, schema.StepHistoryEntry{
			InstanceID: step.InstanceID,
			Index:      pr.CurrentStepIndex,
			Type:       step.Type,
			Status:     schema.HistoryStatusWaiting,
			StartedAt:  now,
		})
		if err := tx.save(ctx); err != nil {
			return nil, err
		}
		c.metrics.ProcessAdvanced(ctx, string(step.Type))
		if c.delays != nil {
			if err := c.delays.Schedule(ctx, pr.ID, resumeAt); err != nil {
				logging.LogWith(ctx, c.logger).Warn("schedule delay", slog.String("error", err.Error()))
			}
		}
		logging.LogWith(ctx, c.logger).Info("process delayed",
			slog.String("step", step.InstanceID),
			slog.Time("resume_at", resumeAt))
		return nil, nil

	default:
		if err := tx.ensureRunning(); err != nil {
			return nil, err
		}
		return nil, tx.flag(ctx, fmt.Sprintf("step %s: unknown type %q", step.InstanceID, step.Type))
	}
}

// startChild starts a child Run outside the ProcessRun lock. A child that
// cannot start flags the ProcessRun.
func (c *Coordinator) startChild(ctx context.Context, processRunID string, next *childStart) {
	if next == nil {
		return
	}
	_, startErr := c.runs.StartRun(ctx, next.org, next.req)
	if startErr == nil {
		return
	}
	log := logging.LogWith(ctx, c.logger)
	log.Warn("child run failed to start",
		slog.String("procedure_id", next.procID),
		slog.String("error", startErr.Error()))

	unlock := c.locks.Lock(processRunID)
	defer unlock()

	pr, err := c.store.GetProcessRun(ctx, processRunID)
	if err != nil {
		log.Error("reload process run", slog.String("error", err.Error()))
		return
	}
	entry := pr.CurrentHistory()
	if pr.Status != schema.ProcessRunStatusRunning || entry == nil || entry.RunID != next.req.RunID {
		return
	}
	now := c.now()
	entry.Status = schema.HistoryStatusFlagged
	entry.CompletedAt = &now
	tx := &processTx{c: c, pr: pr, created: true}
	reason := fmt.Sprintf("start procedure %s: %s", next.procID, startErr.Error())
	if err := tx.flag(ctx, reason); err != nil {
		log.Error("flag process run", slog.String("error", err.Error()))
	}
}

// resolveInputs evaluates input_mappings against the process context.
func (c *Coordinator) resolveInputs(mappings map[string]string, data map[string]any) map[string]any {
	out := make(map[string]any, len(mappings))
	for key, tmpl := range mappings {
		out[key] = c.resolver.ResolveValue(tmpl, data)
	}
	return out
}

// GetProcessRun returns a ProcessRun of the org.
func (c *Coordinator) GetProcessRun(ctx context.Context, org schema.OrgContext, id string) (*schema.ProcessRun, error) {
	pr, err := c.store.GetProcessRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if pr.OrgID != org.OrgID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "process run %s not found", id)
	}
	return pr, nil
}

// DueDelays lists WAITING_DELAY ProcessRuns whose resume_at is not after now.
func (c *Coordinator) DueDelays(ctx context.Context, now time.Time, limit int) ([]*schema.ProcessRun, error) {
	status := schema.ProcessRunStatusWaitingDelay
	return c.store.ListProcessRuns(ctx, store.ProcessRunFilter{Status: &status, DueBefore: &now, Limit: limit})
}

func (c *Coordinator) loadProcess(ctx context.Context, org schema.OrgContext, id string) (*schema.Process, error) {
	p, err := c.store.GetProcess(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OrgID != org.OrgID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "process %s not found", id)
	}
	return p, nil
}
