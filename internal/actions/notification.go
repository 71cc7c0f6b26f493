package actions

import (
	"context"
	"log/slog"

	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/internal/notify"
	"github.com/rendis/procflow/pkg/schema"
)

// SendNotificationAction implements SEND_NOTIFICATION. Delivery is
// fire-and-forget: a sink error is logged and the step still succeeds.
type SendNotificationAction struct {
	sink   notify.Sink
	logger *slog.Logger
}

// NewSendNotificationAction creates the action. A nil sink logs notifications.
func NewSendNotificationAction(sink notify.Sink, logger *slog.Logger) *SendNotificationAction {
	if logger == nil {
		logger = logging.Discard()
	}
	if sink == nil {
		sink = notify.NewLogSink(logger)
	}
	return &SendNotificationAction{sink: sink, logger: logger}
}

func (a *SendNotificationAction) Name() schema.Action { return schema.ActionSendNotification }

func (a *SendNotificationAction) Describe() string {
	return "Send a templated message to a recipient."
}

func (a *SendNotificationAction) Validate(cfg schema.StepConfig) error {
	c, err := configAs[schema.NotificationConfig](a.Name(), cfg)
	if err != nil {
		return err
	}
	if c.Recipient == "" {
		return schema.NewError(schema.ErrCodeValidation, "SEND_NOTIFICATION: recipient is required")
	}
	if c.Message == "" {
		return schema.NewError(schema.ErrCodeValidation, "SEND_NOTIFICATION: message is required")
	}
	return nil
}

func (a *SendNotificationAction) Execute(ctx context.Context, input ActionInput) (*schema.StepOutput, error) {
	c, err := configAs[schema.NotificationConfig](a.Name(), input.Step.Config)
	if err != nil {
		return nil, err
	}

	n := notify.Notification{
		Kind:      notify.KindMessage,
		OrgID:     input.OrgID,
		RunID:     input.RunID,
		StepID:    input.Step.ID,
		Recipient: resolver.Resolve(c.Recipient, input.Scope),
		Subject:   resolver.Resolve(c.Subject, input.Scope),
		Message:   resolver.Resolve(c.Message, input.Scope),
	}

	delivered := true
	if err := a.sink.Notify(ctx, n); err != nil {
		delivered = false
		logging.LogWith(ctx, a.logger).Warn("notification delivery failed",
			slog.String("recipient", n.Recipient), slog.String("error", err.Error()))
	}

	return schema.RecordOutput(map[string]any{
		"recipient": n.Recipient,
		"subject":   n.Subject,
		"message":   n.Message,
		"delivered": delivered,
	}), nil
}
