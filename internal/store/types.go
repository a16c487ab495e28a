package store

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// Event is an immutable entry in an execution's event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// ExecutionFilter narrows ListExecutions. Zero values match everything.
type ExecutionFilter struct {
	WorkflowID string
	Status     *schema.ExecutionStatus
	Limit      int
}

func (f ExecutionFilter) match(e *schema.Execution) bool {
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if f.Status != nil && *f.Status != e.Status {
		return false
	}
	return true
}

// TaskFilter narrows ListTasks. An empty Statuses slice matches every status.
type TaskFilter struct {
	Statuses   []schema.TaskStatus
	WorkflowID string
}

func (f TaskFilter) match(t *schema.Task) bool {
	if f.WorkflowID != "" && f.WorkflowID != t.WorkflowID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	return true
}
