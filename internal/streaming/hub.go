package streaming

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// StreamEvent is a real-time event emitted by the engine and the scheduler.
type StreamEvent struct {
	ExecutionID string `json:"execution_id,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	StepID      string `json:"step_id,omitempty"`
	EventType   string `json:"event_type"`
	// Completion is set on execution lifecycle events that end a run loop
	// (completed, failed, stopped, paused).
	Completion *Completion `json:"completion,omitempty"`
	Payload    any         `json:"payload,omitempty"`
}

// Completion is the typed outcome of an execution run loop.
type Completion struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	ProfileID   string                 `json:"profile_id"`
	Status      schema.ExecutionStatus `json:"status"`
	Error       string                 `json:"error,omitempty"`
}

// Terminal reports whether the completion ends the execution for good.
func (c *Completion) Terminal() bool {
	return c != nil && c.Status.Terminal()
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	TaskID      string   `json:"task_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// CompletionEvents lists the event types that carry a Completion.
var CompletionEvents = []string{
	schema.EventExecutionCompleted,
	schema.EventExecutionFailed,
	schema.EventExecutionStopped,
	schema.EventExecutionPaused,
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
