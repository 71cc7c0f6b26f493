package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/procflow/pkg/schema"
)

// EventLog records and replays the audit trail of runs and process runs on
// top of any Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps s.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Record appends an event for subjectID. payload is JSON encoded; nil means
// no payload.
func (el *EventLog) Record(ctx context.Context, subjectID, stepID, eventType string, payload any) (*Event, error) {
	e := &Event{
		SubjectID: subjectID,
		StepID:    stepID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		e.Payload = raw
	}
	if err := el.store.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Timeline returns every event of subjectID in sequence order. A gap in the
// sequence is reported as a STORE_ERROR.
func (el *EventLog) Timeline(ctx context.Context, subjectID string) ([]*Event, error) {
	events, err := el.store.GetEvents(ctx, subjectID, 0)
	if err != nil {
		return nil, err
	}
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap for %s: expected %d, got %d", subjectID, expected, e.Sequence)
		}
	}
	return events, nil
}

// StepTrace is the per-step view reconstructed from a run's events.
type StepTrace struct {
	StepID      string         `json:"step_id"`
	Outcome     schema.Outcome `json:"outcome"`
	Actor       string         `json:"actor,omitempty"`
	Error       string         `json:"error,omitempty"`
	TaskOpen    bool           `json:"task_open"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StepPayload is the payload shape written with step and task events.
type StepPayload struct {
	Outcome schema.Outcome `json:"outcome,omitempty"`
	Actor   string         `json:"actor,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ReplaySteps folds the events of runID into a StepTrace per step.
func (el *EventLog) ReplaySteps(ctx context.Context, runID string) (map[string]*StepTrace, error) {
	events, err := el.Timeline(ctx, runID)
	if err != nil {
		return nil, err
	}

	traces := make(map[string]*StepTrace)
	for _, e := range events {
		if e.StepID == "" {
			continue
		}
		tr, ok := traces[e.StepID]
		if !ok {
			tr = &StepTrace{StepID: e.StepID, Outcome: schema.OutcomePending}
			traces[e.StepID] = tr
		}

		var p StepPayload
		if len(e.Payload) > 0 {
			_ = json.Unmarshal(e.Payload, &p)
		}
		ts := e.Timestamp

		switch e.Type {
		case schema.EventTaskCreated:
			tr.TaskOpen = true
			tr.StartedAt = &ts
			tr.Actor = p.Actor
		case schema.EventTaskCompleted:
			tr.TaskOpen = false
		case schema.EventStepExecuted:
			if tr.StartedAt == nil {
				tr.StartedAt = &ts
			}
			tr.CompletedAt = &ts
			tr.Outcome = schema.OutcomeSuccess
			if p.Outcome != "" {
				tr.Outcome = p.Outcome
			}
			if p.Actor != "" {
				tr.Actor = p.Actor
			}
		case schema.EventStepFailed:
			if tr.StartedAt == nil {
				tr.StartedAt = &ts
			}
			tr.CompletedAt = &ts
			tr.Outcome = schema.OutcomeFailure
			tr.Error = p.Error
		}
	}
	return traces, nil
}
