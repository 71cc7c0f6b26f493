package process

import (
	"context"
	"log/slog"

	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/pkg/schema"
)

// processTx buffers status transitions of a ProcessRun until its document
// write succeeds.
type processTx struct {
	c       *Coordinator
	pr      *schema.ProcessRun
	created bool
	pending []transition
}

type transition struct {
	from, to schema.ProcessRunStatus
	reason   string
}

func (tx *processTx) setStatus(to schema.ProcessRunStatus, reason string) error {
	from := tx.pr.Status
	if err := tx.c.fsm.Check(tx.pr.ID, from, to); err != nil {
		return err
	}
	tx.pr.Status = to
	tx.pending = append(tx.pending, transition{from: from, to: to, reason: reason})
	return nil
}

// ensureRunning moves a new or delayed ProcessRun to RUNNING.
func (tx *processTx) ensureRunning() error {
	switch tx.pr.Status {
	case "", schema.ProcessRunStatusWaitingDelay:
		return tx.setStatus(schema.ProcessRunStatusRunning, "")
	}
	return nil
}

func (tx *processTx) save(ctx context.Context) error {
	tx.pr.UpdatedAt = tx.c.now()

	var err error
	if tx.created {
		err = tx.c.store.UpdateProcessRun(ctx, tx.pr)
	} else {
		err = tx.c.store.CreateProcessRun(ctx, tx.pr)
	}
	if err != nil {
		return err
	}
	tx.created = true

	pending := tx.pending
	tx.pending = nil
	for _, t := range pending {
		if err := tx.c.fsm.Transition(ctx, tx.pr.ID, t.from, t.to, t.reason); err != nil {
			logging.LogWith(ctx, tx.c.logger).Warn("record process transition",
				slog.String("from", string(t.from)),
				slog.String("to", string(t.to)),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (tx *processTx) flag(ctx context.Context, reason string) error {
	if err := tx.setStatus(schema.ProcessRunStatusFlagged, reason); err != nil {
		return err
	}
	tx.pr.FlagReason = reason
	tx.pr.ResumeAt = nil
	if err := tx.save(ctx); err != nil {
		return err
	}
	logging.LogWith(ctx, tx.c.logger).Warn("process flagged", slog.String("reason", reason))
	return nil
}

func (tx *processTx) complete(ctx context.Context) error {
	if err := tx.setStatus(schema.ProcessRunStatusCompleted, ""); err != nil {
		return err
	}
	now := tx.c.now()
	tx.pr.CompletedAt = &now
	tx.pr.CurrentStepInstanceID = ""
	if err := tx.save(ctx); err != nil {
		return err
	}
	logging.LogWith(ctx, tx.c.logger).Info("process completed", slog.Int("steps", len(tx.pr.StepHistory)))
	return nil
}
