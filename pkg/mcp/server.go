package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/pkg/schema"
)

// Executions is the execution control surface. Satisfied by *engine.Queue.
type Executions interface {
	Enqueue(ctx context.Context, workflowID, profileID string, parallel bool) (*schema.Execution, error)
	Pause(ctx context.Context, executionID string) error
	Resume(ctx context.Context, executionID string) error
	Stop(ctx context.Context, executionID string) error
	Get(ctx context.Context, executionID string) (*schema.Execution, error)
}

// Tasks is the task scheduling surface. Satisfied by *scheduler.Scheduler.
type Tasks interface {
	Schedule(ctx context.Context, task *schema.Task) (*schema.Task, error)
	Reschedule(ctx context.Context, task *schema.Task) (*schema.Task, error)
	Remove(ctx context.Context, taskID string) error
	Status(ctx context.Context, taskID string) (*scheduler.ScheduleStatus, error)
}

// AutoflowServerDeps holds the dependencies for creating an AutoflowServer.
type AutoflowServerDeps struct {
	Executions Executions
	Tasks      Tasks
	Store      store.Store
	Hub        streaming.EventHub
	Logger     *slog.Logger
}

// AutoflowServer wraps an MCP server with autoflow-specific tool handlers.
type AutoflowServer struct {
	executions Executions
	tasks      Tasks
	store      store.Store
	hub        streaming.EventHub
	logger     *slog.Logger
	sessions   *SessionRegistry
	notifier   *CompletionNotifier
	mcpServer  *server.MCPServer
}

// NewAutoflowServer creates a new AutoflowServer with all 10 tools registered.
func NewAutoflowServer(deps AutoflowServerDeps) *AutoflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &AutoflowServer{
		executions: deps.Executions,
		tasks:      deps.Tasks,
		store:      deps.Store,
		hub:        deps.Hub,
		logger:     logger,
		sessions:   NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"autoflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Autoflow runs browser automation workflows. Use autoflow.queue_execution to run a workflow against a browser profile, autoflow.get_execution to follow it, and the pause/resume/stop tools to control it. Use autoflow.schedule_task to run a workflow on a recurring schedule and autoflow.task_status to inspect it. autoflow.diagram draws a workflow, optionally with the step states of an execution."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	if deps.Hub != nil {
		s.notifier = NewCompletionNotifier(mcpSrv, s.sessions, deps.Hub, logger)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
// Completion notifications are pushed to the session that queued each execution.
func (s *AutoflowServer) Serve(ctx context.Context) error {
	if s.notifier != nil {
		if err := s.notifier.Start(ctx); err != nil {
			return err
		}
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AutoflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 10 registered MCP tools as ServerTool entries.
func (s *AutoflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: queueExecutionTool(), Handler: s.handleQueueExecution},
		{Tool: pauseExecutionTool(), Handler: s.handlePauseExecution},
		{Tool: resumeExecutionTool(), Handler: s.handleResumeExecution},
		{Tool: stopExecutionTool(), Handler: s.handleStopExecution},
		{Tool: getExecutionTool(), Handler: s.handleGetExecution},
		{Tool: scheduleTaskTool(), Handler: s.handleScheduleTask},
		{Tool: rescheduleTaskTool(), Handler: s.handleRescheduleTask},
		{Tool: removeTaskTool(), Handler: s.handleRemoveTask},
		{Tool: taskStatusTool(), Handler: s.handleTaskStatus},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func queueExecutionTool() mcp.Tool {
	return mcp.NewTool("autoflow.queue_execution",
		mcp.WithDescription("Queue a workflow execution against a browser profile"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow graph to execute")),
		mcp.WithString("profile_id", mcp.Required(), mcp.Description("ID of the browser profile to run with")),
		mcp.WithBoolean("parallel", mcp.Description("Start immediately, bypassing the concurrency cap (default: false)")),
	)
}

func pauseExecutionTool() mcp.Tool {
	return mcp.NewTool("autoflow.pause_execution",
		mcp.WithDescription("Pause a running execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to pause")),
	)
}

func resumeExecutionTool() mcp.Tool {
	return mcp.NewTool("autoflow.resume_execution",
		mcp.WithDescription("Resume a paused execution from its first undispatched step"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to resume")),
	)
}

func stopExecutionTool() mcp.Tool {
	return mcp.NewTool("autoflow.stop_execution",
		mcp.WithDescription("Stop a running or paused execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to stop")),
	)
}

func getExecutionTool() mcp.Tool {
	return mcp.NewTool("autoflow.get_execution",
		mcp.WithDescription("Get an execution with its step states and data"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to fetch")),
		mcp.WithBoolean("include_events", mcp.Description("Include the execution event log (default: false)")),
		mcp.WithNumber("since", mcp.Description("Only return events with a sequence above this value")),
	)
}

func scheduleTaskTool() mcp.Tool {
	return mcp.NewTool("autoflow.schedule_task",
		mcp.WithDescription("Schedule a workflow to run on a recurrence"),
		mcp.WithObject("task", mcp.Required(), mcp.Description("Task with name, workflow_id, profile_id, max_retries and schedule {type: once|every|daily|weekly|monthly, start_date, end_date, interval_hours, time HH:MM, days_of_week, days_of_month}")),
	)
}

func rescheduleTaskTool() mcp.Tool {
	return mcp.NewTool("autoflow.reschedule_task",
		mcp.WithDescription("Replace the schedule of an existing task"),
		mcp.WithObject("task", mcp.Required(), mcp.Description("Full task including its id")),
	)
}

func removeTaskTool() mcp.Tool {
	return mcp.NewTool("autoflow.remove_task",
		mcp.WithDescription("Cancel a scheduled task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task to cancel")),
	)
}

func taskStatusTool() mcp.Tool {
	return mcp.NewTool("autoflow.task_status",
		mcp.WithDescription("Get the scheduling state of a task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task to inspect")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("autoflow.diagram",
		mcp.WithDescription("Generate a visual diagram of a workflow. Returns ASCII art, Mermaid flowchart syntax, or a PNG image"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow graph to draw")),
		mcp.WithString("execution_id", mcp.Description("Overlay the step states of this execution")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (PNG)"),
		),
	)
}
