// Package notify delivers fire-and-forget notifications produced by runs.
package notify

import (
	"context"
	"log/slog"

	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/internal/streaming"
)

// Notification kinds.
const (
	KindTaskReady = "task_ready"
	KindMessage   = "message"
)

// Notification is one message for a user, team or address.
type Notification struct {
	Kind      string `json:"kind"`
	OrgID     string `json:"org_id"`
	RunID     string `json:"run_id"`
	StepID    string `json:"step_id,omitempty"`
	Recipient string `json:"recipient"`
	Email     string `json:"email,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Sink accepts notifications. Delivery itself is out of the engine's hands;
// callers log and ignore Sink errors.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// HubSink publishes notifications on an EventHub so that connected clients
// (the REST stream endpoint, MCP sessions) can pick them up.
type HubSink struct {
	hub streaming.EventHub
}

// NewHubSink wraps hub.
func NewHubSink(hub streaming.EventHub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Notify(ctx context.Context, n Notification) error {
	eventType := streaming.EventNotification
	if n.Kind == KindTaskReady {
		eventType = streaming.EventTaskReady
	}
	return s.hub.Publish(ctx, streaming.StreamEvent{
		SubjectID: n.RunID,
		OrgID:     n.OrgID,
		StepID:    n.StepID,
		EventType: eventType,
		Payload:   n,
	})
}

// LogSink writes notifications to a logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink; nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, n Notification) error {
	logging.LogWith(ctx, s.logger).Info("notification",
		slog.String("kind", n.Kind),
		slog.String("run_id", n.RunID),
		slog.String("step_id", n.StepID),
		slog.String("recipient", n.Recipient),
		slog.String("subject", n.Subject),
	)
	return nil
}

// Multi fans a notification out to several sinks and returns the first error.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var first error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
