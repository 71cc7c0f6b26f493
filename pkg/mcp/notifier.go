package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/procflow/internal/notify"
	"github.com/rendis/procflow/internal/streaming"
)

// SessionSink is a notify.Sink that pushes notifications to the recipient's
// MCP session.
type SessionSink struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewSessionSink creates a sink bound to srv's sessions.
func NewSessionSink(srv *Server) *SessionSink {
	return &SessionSink{mcpServer: srv.mcpServer, sessions: srv.sessions}
}

// Notify sends n to the recipient's session.
// Best-effort: returns nil if the recipient is not connected.
func (n *SessionSink) Notify(_ context.Context, msg notify.Notification) error {
	sessionID, ok := n.sessions.SessionFor(msg.Recipient)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", map[string]any{
		"level":  "info",
		"logger": "procflow",
		"data":   msg,
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Forward relays task-ready notifications published on hub to the
// recipients' sessions until ctx is done.
func (n *SessionSink) Forward(ctx context.Context, hub streaming.EventHub) error {
	events, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{streaming.EventTaskReady, streaming.EventNotification},
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			msg, isNotification := ev.Payload.(notify.Notification)
			if !isNotification {
				continue
			}
			_ = n.Notify(ctx, msg)
		}
	}
}

var _ notify.Sink = (*SessionSink)(nil)
