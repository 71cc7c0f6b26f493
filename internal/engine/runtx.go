package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/pkg/schema"
)

// runTx accumulates the changes of one logical transaction on a Run. Events
// are buffered and recorded only after the document write succeeds, so the
// audit trail never describes a state the store rejected.
type runTx struct {
	e       *Engine
	run     *schema.Run
	created bool
	pending []pendingEvent
}

type pendingEvent struct {
	transition bool
	from, to   schema.RunStatus
	reason     string

	stepID    string
	eventType string
	payload   any
}

// setStatus moves the in-memory Run to status to if the transition table
// allows it.
func (tx *runTx) setStatus(to schema.RunStatus, reason string) error {
	from := tx.run.Status
	if err := tx.e.fsm.Check(tx.run.ID, from, to); err != nil {
		return err
	}
	tx.run.Status = to
	tx.pending = append(tx.pending, pendingEvent{transition: true, from: from, to: to, reason: reason})
	return nil
}

func (tx *runTx) stepEvent(stepID, eventType string, payload any) {
	tx.pending = append(tx.pending, pendingEvent{stepID: stepID, eventType: eventType, payload: payload})
}

// save writes the Run (create on first save, versioned update afterwards)
// and then records the buffered events.
func (tx *runTx) save(ctx context.Context) error {
	tx.run.UpdatedAt = tx.e.now()

	var err error
	if tx.created {
		err = tx.e.store.UpdateRun(ctx, tx.run)
	} else {
		err = tx.e.store.CreateRun(ctx, tx.run)
	}
	if err != nil {
		return err
	}
	tx.created = true

	pending := tx.pending
	tx.pending = nil
	for _, p := range pending {
		if !p.transition {
			tx.e.record(ctx, tx.run.ID, p.stepID, p.eventType, p.payload)
			continue
		}
		if err := tx.e.fsm.Transition(ctx, tx.run.ID, p.from, p.to, p.reason); err != nil {
			logging.LogWith(ctx, tx.e.logger).Warn("record run transition",
				slog.String("from", string(p.from)),
				slog.String("to", string(p.to)),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// flag stops the Run with reason.
func (tx *runTx) flag(ctx context.Context, reason string) error {
	if err := tx.setStatus(schema.RunStatusFlagged, reason); err != nil {
		return err
	}
	tx.run.FlagReason = reason
	clearAssignee(tx.run)
	if err := tx.save(ctx); err != nil {
		return err
	}
	logging.LogWith(ctx, tx.e.logger).Warn("run flagged", slog.String("reason", reason))
	return nil
}

// complete finishes a Run that has moved past its last step.
func (tx *runTx) complete(ctx context.Context) error {
	if err := tx.setStatus(schema.RunStatusCompleted, ""); err != nil {
		return err
	}
	now := tx.e.now()
	tx.run.CompletedAt = &now
	clearAssignee(tx.run)
	if err := tx.save(ctx); err != nil {
		return err
	}
	logging.LogWith(ctx, tx.e.logger).Info("run completed", slog.Int("steps", len(tx.run.Steps)))
	return nil
}
