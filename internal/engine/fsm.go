package engine

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/pkg/schema"
)

// TransitionHook is called before or after a status transition of subjectID.
type TransitionHook[S ~string] func(ctx context.Context, subjectID string, from, to S) error

// EventAppender is satisfied by the Store; used by FSMs to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// FSM guards status changes of one document kind with a transition table and
// records each accepted transition as an audit event. The zero status "" is
// the state before the document exists.
type FSM[S ~string] struct {
	kind     string
	table    map[S][]S
	events   func(from, to S) []string
	appender EventAppender

	mu     sync.Mutex
	before map[[2]S][]TransitionHook[S]
	after  map[[2]S][]TransitionHook[S]
}

// TransitionPayload is the payload of every status event.
type TransitionPayload struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// NewRunFSM creates the FSM for Run statuses.
func NewRunFSM(appender EventAppender) *FSM[schema.RunStatus] {
	return newFSM("run", ValidRunTransitions, runEventTypes, appender)
}

// NewProcessFSM creates the FSM for ProcessRun statuses.
func NewProcessFSM(appender EventAppender) *FSM[schema.ProcessRunStatus] {
	return newFSM("process run", ValidProcessTransitions, processEventTypes, appender)
}

func newFSM[S ~string](kind string, table map[S][]S, events func(from, to S) []string, appender EventAppender) *FSM[S] {
	return &FSM[S]{
		kind:     kind,
		table:    table,
		events:   events,
		appender: appender,
		before:   make(map[[2]S][]TransitionHook[S]),
		after:    make(map[[2]S][]TransitionHook[S]),
	}
}

// OnBefore registers a hook called before a transition.
func (f *FSM[S]) OnBefore(from, to S, hook TransitionHook[S]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]S{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition's events are recorded.
func (f *FSM[S]) OnAfter(from, to S, hook TransitionHook[S]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]S{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Check reports whether from -> to is allowed, without side effects.
func (f *FSM[S]) Check(subjectID string, from, to S) error {
	allowed, ok := f.table[from]
	if !ok || !slices.Contains(allowed, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid %s transition: %q -> %q", f.kind, from, to).
			WithDetails(map[string]any{"subject_id": subjectID, "from": string(from), "to": string(to)})
	}
	return nil
}

// Transition validates from -> to, runs hooks and emits the corresponding
// events. The caller persists the new status first; Transition only records it.
func (f *FSM[S]) Transition(ctx context.Context, subjectID string, from, to S, reason string) error {
	if err := f.Check(subjectID, from, to); err != nil {
		return err
	}

	f.mu.Lock()
	key := [2]S{from, to}
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(ctx, subjectID, from, to); err != nil {
			return err
		}
	}

	payload, _ := json.Marshal(TransitionPayload{From: string(from), To: string(to), Reason: reason})
	for _, eventType := range f.events(from, to) {
		event := &store.Event{
			SubjectID: subjectID,
			Type:      eventType,
			Payload:   payload,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit %s event: %s", f.kind, err.Error()).WithCause(err)
		}
	}

	for _, hook := range after {
		if err := hook(ctx, subjectID, from, to); err != nil {
			return err
		}
	}
	return nil
}

func runEventTypes(from, to schema.RunStatus) []string {
	var out []string
	if from == "" {
		out = append(out, schema.EventRunStarted)
	}
	switch to {
	case schema.RunStatusInProgress:
		if from == schema.RunStatusWaitingForUser {
			out = append(out, schema.EventRunResumed)
		}
	case schema.RunStatusWaitingForUser:
		out = append(out, schema.EventRunWaiting)
	case schema.RunStatusCompleted:
		out = append(out, schema.EventRunCompleted)
	case schema.RunStatusFlagged:
		out = append(out, schema.EventRunFlagged)
	}
	return out
}

func processEventTypes(from, to schema.ProcessRunStatus) []string {
	switch to {
	case schema.ProcessRunStatusRunning:
		if from == "" {
			return []string{schema.EventProcessStarted}
		}
		return []string{schema.EventProcessAdvanced}
	case schema.ProcessRunStatusWaitingDelay:
		return []string{schema.EventProcessDelayed}
	case schema.ProcessRunStatusCompleted:
		return []string{schema.EventProcessCompleted}
	case schema.ProcessRunStatusFlagged:
		return []string{schema.EventProcessFlagged}
	}
	return nil
}

// --- Transition tables ---

// ValidRunTransitions defines the allowed Run status transitions. The empty
// status is the state before the Run is created.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	"": {schema.RunStatusInProgress, schema.RunStatusWaitingForUser, schema.RunStatusCompleted},
	schema.RunStatusInProgress: {
		schema.RunStatusInProgress, schema.RunStatusWaitingForUser,
		schema.RunStatusCompleted, schema.RunStatusFlagged,
	},
	schema.RunStatusWaitingForUser: {
		schema.RunStatusInProgress, schema.RunStatusWaitingForUser,
		schema.RunStatusCompleted, schema.RunStatusFlagged,
	},
	schema.RunStatusCompleted: {},
	schema.RunStatusFlagged:   {},
}

// ValidProcessTransitions defines the allowed ProcessRun status transitions.
var ValidProcessTransitions = map[schema.ProcessRunStatus][]schema.ProcessRunStatus{
	"": {schema.ProcessRunStatusRunning},
	schema.ProcessRunStatusRunning: {
		schema.ProcessRunStatusRunning, schema.ProcessRunStatusWaitingDelay,
		schema.ProcessRunStatusCompleted, schema.ProcessRunStatusFlagged,
	},
	schema.ProcessRunStatusWaitingDelay: {schema.ProcessRunStatusRunning, schema.ProcessRunStatusFlagged},
	schema.ProcessRunStatusCompleted:    {},
	schema.ProcessRunStatusFlagged:      {},
}
