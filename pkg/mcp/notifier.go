package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/streaming"
)

// CompletionNotifier pushes execution completions to the MCP session that
// queued the execution.
type CompletionNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	hub       streaming.EventHub
	logger    *slog.Logger
}

// NewCompletionNotifier creates a notifier that pushes via MCP notifications.
func NewCompletionNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry, hub streaming.EventHub, logger *slog.Logger) *CompletionNotifier {
	return &CompletionNotifier{mcpServer: mcpServer, sessions: sessions, hub: hub, logger: logger}
}

// Start subscribes to completion events and forwards them until ctx is done.
func (n *CompletionNotifier) Start(ctx context.Context) error {
	ch, cancel, err := n.hub.Subscribe(ctx, streaming.EventFilter{EventTypes: streaming.CompletionEvents})
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := n.Notify(ev.Completion); err != nil {
					n.logger.Warn("completion notification failed", "execution_id", ev.ExecutionID, "error", err)
				}
			}
		}
	}()
	return nil
}

// Notify sends a completion to the owning session.
// Best-effort: returns nil if the session is unknown or gone.
func (n *CompletionNotifier) Notify(c *streaming.Completion) error {
	if c == nil {
		return nil
	}
	sessionID, ok := n.sessions.SessionFor(c.ExecutionID)
	if !ok {
		return nil
	}
	if c.Terminal() {
		n.sessions.Forget(c.ExecutionID)
	}

	payload := map[string]any{
		"level":  "info",
		"logger": "autoflow",
		"data":   c,
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
