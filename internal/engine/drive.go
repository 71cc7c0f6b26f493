package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/procflow/internal/actions"
	"github.com/rendis/procflow/internal/assignee"
	"github.com/rendis/procflow/internal/expressions"
	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/internal/notify"
	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/pkg/schema"
)

// reasonAssignmentUnresolved is the flag reason of a Run whose AUTO chain
// reached a HUMAN step nobody can be assigned to.
const reasonAssignmentUnresolved = "assignment unresolved"

// preResolved is an assignee resolved ahead of any write.
type preResolved struct {
	index  int
	result *assignee.Result
}

func (p *preResolved) forIndex(i int) *assignee.Result {
	if p == nil || p.index != i {
		return nil
	}
	return p.result
}

// preResolve resolves the assignee of the step at index from, so an
// unresolvable assignment fails the call before anything is written. AUTO
// steps are resolved too and still execute as the system actor. HUMAN steps
// reached later through the AUTO chain are resolved in drive.
func (e *Engine) preResolve(ctx context.Context, run *schema.Run, from int) (*preResolved, error) {
	if from < 0 || from >= len(run.Steps) {
		return nil, nil
	}
	step := &run.Steps[from]
	res, err := e.assignees.Resolve(ctx, run.OrgID, step, run.StartedBy)
	if err != nil {
		return nil, err
	}
	if step.ExecutionType() == schema.ExecutionAuto {
		return nil, nil
	}
	return &preResolved{index: from, result: res}, nil
}

// drive executes steps from the Run's current index until it waits for a
// person or reaches a terminal status. The loop advances by index, so it
// ends after at most len(steps) iterations.
func (e *Engine) drive(ctx context.Context, tx *runTx, pre *preResolved) error {
	run := tx.run
	for {
		step := run.CurrentStep()
		if step == nil {
			return tx.complete(ctx)
		}
		stepCtx := logging.WithStepID(ctx, step.ID)

		if step.ExecutionType() == schema.ExecutionHuman {
			res := pre.forIndex(run.CurrentStepIndex)
			if res == nil {
				r, err := e.assignees.Resolve(stepCtx, run.OrgID, step, run.StartedBy)
				if err != nil {
					logging.LogWith(stepCtx, e.logger).Warn("assignment unresolved", slog.String("error", err.Error()))
					return tx.flag(stepCtx, reasonAssignmentUnresolved)
				}
				res = r
			}
			return e.waitForUser(stepCtx, tx, step, res)
		}

		if err := e.runAuto(stepCtx, tx, step); err != nil {
			return err
		}
		if run.Status.IsTerminal() {
			return nil
		}
	}
}

// runAuto executes one AUTO step. An action error is recorded in the Run
// (FAILURE log, FLAGGED status); only store errors are returned.
func (e *Engine) runAuto(ctx context.Context, tx *runTx, step *schema.Step) error {
	run := tx.run
	if err := tx.setStatus(schema.RunStatusInProgress, ""); err != nil {
		return err
	}
	run.CurrentAssigneeID = schema.SystemActor
	run.AssigneeType = schema.AssigneeSystem
	run.CurrentAssigneeEmail = ""

	if !tx.created {
		if err := tx.save(ctx); err != nil {
			return err
		}
	}

	started := e.now()
	out, execErr := e.execute(ctx, run, step)
	done := e.now()

	entry := schema.RunLog{
		StepID:        step.ID,
		StepIndex:     run.CurrentStepIndex,
		Action:        step.Action,
		Output:        out,
		Outcome:       schema.OutcomeSuccess,
		ExecutedBy:    schema.SystemActor,
		ExecutionType: schema.ExecutionAuto,
		StartedAt:     started,
		CompletedAt:   &done,
	}

	if execErr != nil {
		msg := errorText(execErr)
		entry.Output = nil
		entry.Outcome = schema.OutcomeFailure
		entry.Error = msg
		run.Logs = append(run.Logs, entry)

		tx.stepEvent(step.ID, schema.EventStepFailed, store.StepPayload{
			Outcome: schema.OutcomeFailure, Actor: schema.SystemActor, Error: msg,
		})
		e.metrics.StepExecuted(ctx, string(step.Action), string(schema.ExecutionAuto), string(schema.OutcomeFailure))
		logging.LogWith(ctx, e.logger).Warn("auto step failed",
			slog.String("action", string(step.Action)),
			slog.String("error", msg))
		return tx.flag(ctx, fmt.Sprintf("step %s failed: %s", step.ID, msg))
	}

	run.Logs = append(run.Logs, entry)
	run.CurrentStepIndex++
	tx.stepEvent(step.ID, schema.EventStepExecuted, store.StepPayload{
		Outcome: schema.OutcomeSuccess, Actor: schema.SystemActor,
	})
	e.metrics.StepExecuted(ctx, string(step.Action), string(schema.ExecutionAuto), string(schema.OutcomeSuccess))
	logging.LogWith(ctx, e.logger).Debug("auto step executed",
		slog.String("action", string(step.Action)),
		slog.Duration("duration", done.Sub(started)))
	return tx.save(ctx)
}

// execute runs the step's action against the Run's variable scope. A panic
// inside the action is reported as an EXECUTION_FAILURE.
func (e *Engine) execute(ctx context.Context, run *schema.Run, step *schema.Step) (out *schema.StepOutput, err error) {
	action, err := e.actions.Get(step.Action)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = schema.NewErrorf(schema.ErrCodeExecutionFailure, "action %s panicked: %v", step.Action, r).WithStep(step.ID)
		}
	}()

	return action.Execute(ctx, actions.ActionInput{
		OrgID: run.OrgID,
		RunID: run.ID,
		Step:  step,
		Scope: expressions.RunScope(run),
	})
}

// waitForUser parks the Run on a HUMAN step: provisional log entry, Run
// persisted as WAITING_FOR_USER, then the user task and a task-ready
// notification.
func (e *Engine) waitForUser(ctx context.Context, tx *runTx, step *schema.Step, res *assignee.Result) error {
	run := tx.run
	if err := tx.setStatus(schema.RunStatusWaitingForUser, ""); err != nil {
		return err
	}
	run.CurrentAssigneeID = res.AssigneeID
	run.AssigneeType = res.AssigneeType
	run.CurrentAssigneeEmail = res.Email

	now := e.now()
	run.Logs = append(run.Logs, schema.RunLog{
		StepID:        step.ID,
		StepIndex:     run.CurrentStepIndex,
		Action:        step.Action,
		Outcome:       schema.OutcomePending,
		ExecutedBy:    res.AssigneeID,
		ExecutionType: schema.ExecutionHuman,
		StartedAt:     now,
	})
	if err := tx.save(ctx); err != nil {
		return err
	}

	task := &schema.UserTask{
		ID:            uuid.NewString(),
		RunID:         run.ID,
		OrgID:         run.OrgID,
		StepID:        step.ID,
		StepTitle:     step.Title,
		AssigneeID:    res.AssigneeID,
		AssigneeType:  res.AssigneeType,
		AssigneeEmail: res.Email,
		Status:        schema.TaskStatusPending,
		CreatedAt:     now,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create task: %s", errorText(err)).WithCause(err).WithStep(step.ID)
	}
	e.record(ctx, run.ID, step.ID, schema.EventTaskCreated, store.StepPayload{Actor: res.AssigneeID})

	logging.LogWith(ctx, e.logger).Info("run waiting for user",
		slog.String("assignee_id", res.AssigneeID),
		slog.String("assignee_type", string(res.AssigneeType)))

	title := step.Title
	if title == "" {
		title = step.ID
	}
	n := notify.Notification{
		Kind:      notify.KindTaskReady,
		OrgID:     run.OrgID,
		RunID:     run.ID,
		StepID:    step.ID,
		Recipient: res.AssigneeID,
		Email:     res.Email,
		Subject:   "Action required: " + title,
		Message:   fmt.Sprintf("Step %q of %q is waiting for you.", title, run.ProcedureName),
	}
	if err := e.sink.Notify(ctx, n); err != nil {
		logging.LogWith(ctx, e.logger).Warn("task notification failed", slog.String("error", err.Error()))
	}
	return nil
}

// record appends an audit event; failures are logged, never returned.
func (e *Engine) record(ctx context.Context, runID, stepID, eventType string, payload any) {
	if _, err := e.events.Record(ctx, runID, stepID, eventType, payload); err != nil {
		logging.LogWith(ctx, e.logger).Warn("record event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}

func errorText(err error) string {
	if ee, ok := err.(*schema.EngineError); ok {
		return ee.Message
	}
	return err.Error()
}
