package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// MemoryStore is an in-process Store used by tests and ephemeral runs.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*schema.WorkflowGraph
	profiles   map[string]*schema.Profile
	executions map[string]*schema.Execution
	tasks      map[string]*schema.Task
	events     map[string][]*Event
	eventSeq   int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*schema.WorkflowGraph),
		profiles:   make(map[string]*schema.Profile),
		executions: make(map[string]*schema.Execution),
		tasks:      make(map[string]*schema.Task),
		events:     make(map[string][]*Event),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

// --- Workflows ---

func (s *MemoryStore) PutWorkflow(_ context.Context, wf *schema.WorkflowGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = cloneGraph(wf)
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*schema.WorkflowGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	return cloneGraph(wf), nil
}

func (s *MemoryStore) ListWorkflows(context.Context) ([]*schema.WorkflowGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.WorkflowGraph, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, cloneGraph(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return storeNotFound("workflow", id)
	}
	delete(s.workflows, id)
	return nil
}

// --- Profiles ---

func (s *MemoryStore) PutProfile(_ context.Context, p *schema.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.profiles[p.ID] = &c
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, id string) (*schema.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, storeNotFound("profile", id)
	}
	c := *p
	return &c, nil
}

// --- Executions ---

func (s *MemoryStore) CreateExecution(_ context.Context, exec *schema.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %s already exists", exec.ID)
	}
	s.executions[exec.ID] = exec.Clone()
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*schema.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, storeNotFound("execution", id)
	}
	return exec.Clone(), nil
}

func (s *MemoryStore) SaveExecution(_ context.Context, exec *schema.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return storeNotFound("execution", exec.ID)
	}
	exec.UpdatedAt = time.Now().UTC()
	s.executions[exec.ID] = exec.Clone()
	return nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Execution
	for _, e := range s.executions {
		if filter.match(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Tasks ---

func (s *MemoryStore) CreateTask(_ context.Context, task *schema.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*schema.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, storeNotFound("task", id)
	}
	return task.Clone(), nil
}

func (s *MemoryStore) SaveTask(_ context.Context, task *schema.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return storeNotFound("task", task.ID)
	}
	task.UpdatedAt = time.Now().UTC()
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]*schema.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Task
	for _, t := range s.tasks {
		if filter.match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return storeNotFound("task", id)
	}
	delete(s.tasks, id)
	return nil
}

// --- Events ---

func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSeq++
	event.ID = s.eventSeq
	event.Sequence = int64(len(s.events[event.ExecutionID]) + 1)
	event.Timestamp = timeOrNow(event.Timestamp)
	c := *event
	s.events[event.ExecutionID] = append(s.events[event.ExecutionID], &c)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, executionID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events[executionID] {
		if e.Sequence > since {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func cloneGraph(wf *schema.WorkflowGraph) *schema.WorkflowGraph {
	c := *wf
	c.Nodes = make([]schema.Node, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if n.Properties != nil {
			n.Properties, _ = schema.CloneValue(n.Properties).(map[string]any)
		}
		n.Connections = append([]string(nil), n.Connections...)
		c.Nodes[i] = n
	}
	if wf.Variables != nil {
		c.Variables, _ = schema.CloneValue(wf.Variables).(map[string]any)
	}
	return &c
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*LibSQLStore)(nil)
)
