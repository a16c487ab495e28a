package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// EventAppender is satisfied by the Store.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Lifecycle guards the status changes of one kind of record (executions or
// steps) against a fixed edge table and logs each accepted change as an event.
// Persisting the new status is left to the caller.
type Lifecycle[S ~string] struct {
	kind     string
	edges    map[S][]S
	event    func(from, to S) string
	appender EventAppender

	mu        sync.RWMutex
	observers map[S][]func(from, to S)
}

// NewExecutionLifecycle returns the lifecycle of executions. Executions are
// created running; completed, failed and stopped are terminal.
func NewExecutionLifecycle(appender EventAppender) *Lifecycle[schema.ExecutionStatus] {
	return newLifecycle("execution", executionEdges, executionEvent, appender)
}

// NewStepLifecycle returns the lifecycle of steps. Step status only moves
// forward.
func NewStepLifecycle(appender EventAppender) *Lifecycle[schema.StepStatus] {
	return newLifecycle("step", stepEdges, stepEvent, appender)
}

func newLifecycle[S ~string](kind string, edges map[S][]S, event func(from, to S) string, appender EventAppender) *Lifecycle[S] {
	return &Lifecycle[S]{
		kind:      kind,
		edges:     edges,
		event:     event,
		appender:  appender,
		observers: make(map[S][]func(from, to S)),
	}
}

// OnEnter registers fn to run after every accepted change into status to.
func (l *Lifecycle[S]) OnEnter(to S, fn func(from, to S)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers[to] = append(l.observers[to], fn)
}

// Allowed reports whether from -> to is an edge of the table.
func (l *Lifecycle[S]) Allowed(from, to S) bool {
	return slices.Contains(l.edges[from], to)
}

// Transition checks from -> to, appends its event and notifies observers.
// stepID is empty for execution changes.
func (l *Lifecycle[S]) Transition(ctx context.Context, executionID, stepID string, from, to S) error {
	if !l.Allowed(from, to) {
		err := schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid %s transition: %s -> %s", l.kind, from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
		if stepID != "" {
			err = err.WithStep(stepID)
		}
		return err
	}

	if eventType := l.event(from, to); eventType != "" {
		ev := &store.Event{ExecutionID: executionID, StepID: stepID, Type: eventType}
		if err := l.appender.AppendEvent(ctx, ev); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "record %s event %s: %v", l.kind, eventType, err).WithCause(err)
		}
	}

	l.mu.RLock()
	observers := l.observers[to]
	l.mu.RUnlock()
	for _, fn := range observers {
		fn(from, to)
	}
	return nil
}

var executionEdges = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusRunning: {schema.ExecutionStatusPaused, schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusStopped},
	schema.ExecutionStatusPaused:  {schema.ExecutionStatusRunning, schema.ExecutionStatusStopped},
}

var stepEdges = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending: {schema.StepStatusRunning},
	schema.StepStatusRunning: {schema.StepStatusCompleted, schema.StepStatusFailed},
}

func executionEvent(from, to schema.ExecutionStatus) string {
	if from == schema.ExecutionStatusPaused && to == schema.ExecutionStatusRunning {
		return schema.EventExecutionResumed
	}
	return schema.ExecutionEventType(to)
}

func stepEvent(_, to schema.StepStatus) string {
	switch to {
	case schema.StepStatusRunning:
		return schema.EventStepStarted
	case schema.StepStatusCompleted:
		return schema.EventStepCompleted
	case schema.StepStatusFailed:
		return schema.EventStepFailed
	}
	return ""
}
