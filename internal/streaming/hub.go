package streaming

import (
	"context"
	"time"
)

// Stream event types.
const (
	EventTaskReady    = "task.ready"
	EventNotification = "notification"
	EventRunStatus    = "run.status"
	EventProcessState = "process.status"
)

// StreamEvent is a real-time event about a run or process run.
type StreamEvent struct {
	SubjectID string    `json:"subject_id"`
	OrgID     string    `json:"org_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive. Empty
// fields match everything.
type EventFilter struct {
	SubjectID  string   `json:"subject_id,omitempty"`
	OrgID      string   `json:"org_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
