package mcp

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/pkg/schema"
)

func TestCompletionNotifier_UnknownExecutionIsIgnored(t *testing.T) {
	s := NewAutoflowServer(AutoflowServerDeps{Hub: streaming.NewMemoryHub()})

	err := s.notifier.Notify(&streaming.Completion{ExecutionID: "exec-1", Status: schema.ExecutionStatusCompleted})
	assert.NoError(t, err)
	assert.NoError(t, s.notifier.Notify(nil))
}

func TestCompletionNotifier_DropsStaleSession(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := NewAutoflowServer(AutoflowServerDeps{Hub: hub, Logger: slog.New(slog.DiscardHandler)})
	s.sessions.Register("exec-1", "gone")
	s.sessions.Register("exec-2", "gone")

	// Paused is not terminal, but a missing session clears all of its mappings.
	err := s.notifier.Notify(&streaming.Completion{ExecutionID: "exec-1", Status: schema.ExecutionStatusPaused})
	require.NoError(t, err)
	assert.Zero(t, s.sessions.Len())
}

func TestCompletionNotifier_ForwardsHubEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := NewAutoflowServer(AutoflowServerDeps{Hub: hub, Logger: slog.New(slog.DiscardHandler)})
	s.sessions.Register("exec-1", "gone")
	s.sessions.Register("exec-2", "other")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.notifier.Start(ctx))

	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{
		ExecutionID: "exec-1",
		EventType:   schema.EventExecutionCompleted,
		Completion:  &streaming.Completion{ExecutionID: "exec-1", Status: schema.ExecutionStatusCompleted},
	}))

	require.Eventually(t, func() bool {
		_, ok := s.sessions.SessionFor("exec-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	_, ok := s.sessions.SessionFor("exec-2")
	assert.True(t, ok)
}

type testSession struct {
	id string
	ch chan mcp.JSONRPCNotification
}

func (s *testSession) SessionID() string                                   { return s.id }
func (s *testSession) NotificationChannel() chan<- mcp.JSONRPCNotification { return s.ch }
func (s *testSession) Initialize()                                         {}
func (s *testSession) Initialized() bool                                   { return true }

func TestCompletionNotifier_DeliversToOwningSession(t *testing.T) {
	s := NewAutoflowServer(AutoflowServerDeps{Hub: streaming.NewMemoryHub(), Logger: slog.New(slog.DiscardHandler)})
	sess := &testSession{id: "client-1", ch: make(chan mcp.JSONRPCNotification, 1)}
	ctx := context.Background()
	require.NoError(t, s.mcpServer.RegisterSession(ctx, sess))
	s.sessions.Register("exec-1", sess.id)

	require.NoError(t, s.notifier.Notify(&streaming.Completion{ExecutionID: "exec-1", Status: schema.ExecutionStatusCompleted}))

	select {
	case n := <-sess.ch:
		assert.Equal(t, "notifications/message", n.Method)
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}
	_, ok := s.sessions.SessionFor("exec-1")
	assert.False(t, ok, "terminal completion releases the execution")
}

func TestSessionUnregisterReleasesExecutions(t *testing.T) {
	s := NewAutoflowServer(AutoflowServerDeps{})
	sess := &testSession{id: "client-1", ch: make(chan mcp.JSONRPCNotification, 1)}
	ctx := context.Background()
	require.NoError(t, s.mcpServer.RegisterSession(ctx, sess))
	s.sessions.Register("exec-1", sess.id)
	s.sessions.Register("exec-2", "client-2")

	s.mcpServer.UnregisterSession(ctx, sess.id)

	_, ok := s.sessions.SessionFor("exec-1")
	assert.False(t, ok)
	assert.Equal(t, 1, s.sessions.Len())
}
