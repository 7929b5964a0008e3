package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/avandres/stepflow/internal/streaming"
)

const eventNotificationMethod = "notifications/stepflow/event"

// Notifier forwards live workflow events from the hub to a connected MCP
// client as server notifications, so agents can watch a run progress
// without polling stepflow.status.
type Notifier struct {
	srv *server.MCPServer
	hub streaming.EventHub
	log *slog.Logger
}

// NewNotifier creates a Notifier over the server's hub. Returns nil when no
// hub is configured; a nil Notifier's Forward is a no-op.
func (s *Server) NewNotifier() *Notifier {
	if s.deps.Hub == nil {
		return nil
	}
	return &Notifier{
		srv: s.mcpServer,
		hub: s.deps.Hub,
		log: s.logger,
	}
}

// Forward streams events matching the filter to the given MCP client
// session until ctx is cancelled or the client disconnects.
func (n *Notifier) Forward(ctx context.Context, clientSessionID string, filter streaming.EventFilter) error {
	if n == nil {
		return nil
	}

	events, unsubscribe, err := n.hub.Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			err := n.send(clientSessionID, event)
			if errors.Is(err, server.ErrSessionNotFound) {
				// Client went away; stop forwarding quietly.
				return nil
			}
			if err != nil {
				n.log.Warn("forward event notification", "error", err, "event_type", event.EventType)
			}
		}
	}
}

func (n *Notifier) send(clientSessionID string, event streaming.StreamEvent) error {
	return n.srv.SendNotificationToSpecificClient(clientSessionID, eventNotificationMethod, map[string]any{
		"session_id": event.SessionID,
		"step":       event.Step,
		"event_type": event.EventType,
		"payload":    event.Payload,
	})
}
