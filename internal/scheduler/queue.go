package scheduler

import (
	"context"
	"time"

	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/pkg/schema"
)

// DelayQueue tracks ProcessRuns waiting on a delay. Due does not remove ids;
// the scheduler calls Remove once a resume settled the entry.
type DelayQueue interface {
	Schedule(ctx context.Context, processRunID string, at time.Time) error
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
	Remove(ctx context.Context, processRunID string) error
}

// StoreDelayQueue reads due ProcessRuns straight from the store using their
// persisted resume_at. Schedule and Remove are no-ops.
type StoreDelayQueue struct {
	store store.Store
}

var _ DelayQueue = (*StoreDelayQueue)(nil)

// NewStoreDelayQueue creates a StoreDelayQueue.
func NewStoreDelayQueue(s store.Store) *StoreDelayQueue {
	return &StoreDelayQueue{store: s}
}

func (q *StoreDelayQueue) Schedule(context.Context, string, time.Time) error { return nil }

func (q *StoreDelayQueue) Remove(context.Context, string) error { return nil }

// Due lists WAITING_DELAY ProcessRuns with resume_at at or before now.
func (q *StoreDelayQueue) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	status := schema.ProcessRunStatusWaitingDelay
	runs, err := q.store.ListProcessRuns(ctx, store.ProcessRunFilter{
		Status:    &status,
		DueBefore: &now,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(runs))
	for _, pr := range runs {
		ids = append(ids, pr.ID)
	}
	return ids, nil
}
