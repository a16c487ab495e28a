package schema

import "time"

// Execution is one run of a workflow graph against a profile.
type Execution struct {
	ID                string          `json:"id"`
	WorkflowID        string          `json:"workflow_id"`
	ProfileID         string          `json:"profile_id"`
	Status            ExecutionStatus `json:"status"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           *time.Time      `json:"end_time,omitempty"`
	QueuePosition     *int            `json:"queue_position,omitempty"`
	ParallelExecution bool            `json:"parallel_execution"`
	Steps             []ExecutionStep `json:"steps"`
	Data              map[string]any  `json:"data"`
	ErrorLogs         []string        `json:"error_logs,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ExecutionStep tracks the progress of a single node within an execution.
type ExecutionStep struct {
	NodeID    string     `json:"node_id"`
	NodeType  NodeType   `json:"node_type"`
	Status    StepStatus `json:"status"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
	// Dispatched is set once the step's actions were accepted by a successful
	// driver batch. Resumed runs skip dispatched steps.
	Dispatched bool `json:"dispatched,omitempty"`
}

// NewExecution creates a running execution with one pending step per node,
// in graph order, and its data seeded from the graph variables.
func NewExecution(id string, graph *WorkflowGraph, profileID string, parallel bool, now time.Time) *Execution {
	steps := make([]ExecutionStep, 0, len(graph.Nodes))
	for _, n := range graph.Nodes {
		steps = append(steps, ExecutionStep{
			NodeID:   n.ID,
			NodeType: n.Type,
			Status:   StepStatusPending,
		})
	}
	data := make(map[string]any, len(graph.Variables))
	for k, v := range graph.Variables {
		data[k] = CloneValue(v)
	}
	return &Execution{
		ID:                id,
		WorkflowID:        graph.ID,
		ProfileID:         profileID,
		Status:            ExecutionStatusRunning,
		StartTime:         now,
		ParallelExecution: parallel,
		Steps:             steps,
		Data:              data,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clone returns a deep copy of the execution.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	if e.QueuePosition != nil {
		p := *e.QueuePosition
		c.QueuePosition = &p
	}
	c.Steps = make([]ExecutionStep, len(e.Steps))
	for i, s := range e.Steps {
		if s.StartTime != nil {
			t := *s.StartTime
			s.StartTime = &t
		}
		if s.EndTime != nil {
			t := *s.EndTime
			s.EndTime = &t
		}
		c.Steps[i] = s
	}
	if e.Data != nil {
		c.Data, _ = CloneValue(e.Data).(map[string]any)
	}
	c.ErrorLogs = append([]string(nil), e.ErrorLogs...)
	return &c
}

// StepIndex returns the index of the step for nodeID, or -1.
func (e *Execution) StepIndex(nodeID string) int {
	for i := range e.Steps {
		if e.Steps[i].NodeID == nodeID {
			return i
		}
	}
	return -1
}

// CloneValue deep-copies JSON-like values (maps, slices, scalars).
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = CloneValue(item)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = CloneValue(item)
		}
		return s
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
