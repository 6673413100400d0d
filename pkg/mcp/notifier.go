package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mvaldr/cascade/internal/streaming"
)

// ForwardEvents subscribes to the engine's event hub and pushes every run
// event to the registered MCP sessions as notifications. Blocks until ctx
// is cancelled. A no-op when the engine has no hub.
func (s *CascadeServer) ForwardEvents(ctx context.Context) error {
	hub := s.engine.Hub()
	if hub == nil {
		return nil
	}

	events, unsubscribe, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			s.notifyAll(event)
		}
	}
}

// notifyAll sends an event to every registered session, best-effort.
func (s *CascadeServer) notifyAll(event streaming.RunEvent) {
	payload := map[string]any{
		"run_id":     event.RunID,
		"event_type": event.EventType,
	}
	if event.Node != "" {
		payload["node"] = event.Node
	}
	if event.Payload != nil {
		payload["payload"] = event.Payload
	}

	for _, sessionID := range s.sessions.All() {
		err := s.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			// Session disconnected between snapshot and send.
			s.sessions.Remove(sessionID)
		}
	}
}
