package store

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use. Records are stored as
// whole documents with last-write-wins semantics; Get methods return copies.
type Store interface {
	// Workflows
	PutWorkflow(ctx context.Context, wf *schema.WorkflowGraph) error
	GetWorkflow(ctx context.Context, id string) (*schema.WorkflowGraph, error)
	ListWorkflows(ctx context.Context) ([]*schema.WorkflowGraph, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Profiles
	PutProfile(ctx context.Context, p *schema.Profile) error
	GetProfile(ctx context.Context, id string) (*schema.Profile, error)

	// Executions
	CreateExecution(ctx context.Context, exec *schema.Execution) error
	GetExecution(ctx context.Context, id string) (*schema.Execution, error)
	SaveExecution(ctx context.Context, exec *schema.Execution) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error)

	// Tasks
	CreateTask(ctx context.Context, task *schema.Task) error
	GetTask(ctx context.Context, id string) (*schema.Task, error)
	SaveTask(ctx context.Context, task *schema.Task) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]*schema.Task, error)
	DeleteTask(ctx context.Context, id string) error

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
