package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/diagram"
	"github.com/rendis/autoflow/pkg/schema"
)

// handleQueueExecution creates an execution and hands it to the queue.
func (s *AutoflowServer) handleQueueExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	profileID, err := req.RequireString("profile_id")
	if err != nil {
		return mcp.NewToolResultError("profile_id is required"), nil
	}
	parallel := req.GetBool("parallel", false)

	exec, qErr := s.executions.Enqueue(ctx, workflowID, profileID, parallel)
	if qErr != nil {
		return errorResult("queue execution", qErr), nil
	}

	// Capture session mapping so the completion is pushed back to this client.
	s.captureSession(ctx, exec.ID)

	return marshalResult(exec)
}

// handlePauseExecution pauses a running execution.
func (s *AutoflowServer) handlePauseExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.control(ctx, req, "pause", s.executions.Pause)
}

// handleResumeExecution resumes a paused execution.
func (s *AutoflowServer) handleResumeExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.control(ctx, req, "resume", s.executions.Resume)
}

// handleStopExecution stops a running or paused execution.
func (s *AutoflowServer) handleStopExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.control(ctx, req, "stop", s.executions.Stop)
}

func (s *AutoflowServer) control(ctx context.Context, req mcp.CallToolRequest, verb string, fn func(context.Context, string) error) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	if ctlErr := fn(ctx, executionID); ctlErr != nil {
		return errorResult(verb, ctlErr), nil
	}

	exec, getErr := s.executions.Get(ctx, executionID)
	if getErr != nil {
		return errorResult("status lookup", getErr), nil
	}
	return marshalResult(map[string]any{
		"ok":           true,
		"execution_id": executionID,
		"status":       exec.Status,
	})
}

// handleGetExecution returns an execution and optionally its event log.
func (s *AutoflowServer) handleGetExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, getErr := s.executions.Get(ctx, executionID)
	if getErr != nil {
		return errorResult("get execution", getErr), nil
	}
	if !req.GetBool("include_events", false) || s.store == nil {
		return marshalResult(exec)
	}

	since := int64(extractInt(req.GetArguments(), "since", 0))
	events, evErr := s.store.GetEvents(ctx, executionID, since)
	if evErr != nil {
		return errorResult("event query", evErr), nil
	}
	return marshalResult(map[string]any{
		"execution": exec,
		"events":    events,
	})
}

// handleScheduleTask registers a new task with the scheduler.
func (s *AutoflowServer) handleScheduleTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := parseTask(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	scheduled, schedErr := s.tasks.Schedule(ctx, task)
	if schedErr != nil {
		return errorResult("schedule task", schedErr), nil
	}
	return marshalResult(scheduled)
}

// handleRescheduleTask replaces the schedule of an existing task.
func (s *AutoflowServer) handleRescheduleTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := parseTask(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if task.ID == "" {
		return mcp.NewToolResultError("task.id is required"), nil
	}

	scheduled, schedErr := s.tasks.Reschedule(ctx, task)
	if schedErr != nil {
		return errorResult("reschedule task", schedErr), nil
	}
	return marshalResult(scheduled)
}

// handleRemoveTask cancels a task and its pending runs.
func (s *AutoflowServer) handleRemoveTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	if rmErr := s.tasks.Remove(ctx, taskID); rmErr != nil {
		return errorResult("remove task", rmErr), nil
	}
	return marshalResult(map[string]any{
		"ok":      true,
		"task_id": taskID,
		"status":  schema.TaskStatusCancelled,
	})
}

// handleTaskStatus returns the scheduling state of a task.
func (s *AutoflowServer) handleTaskStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	status, stErr := s.tasks.Status(ctx, taskID)
	if stErr != nil {
		return errorResult("status query", stErr), nil
	}
	return marshalResult(status)
}

// handleDiagram renders a workflow, optionally overlaid with execution state.
func (s *AutoflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("diagram requires a store"), nil
	}

	wf, wfErr := s.store.GetWorkflow(ctx, workflowID)
	if wfErr != nil {
		return errorResult("workflow lookup", wfErr), nil
	}
	var exec *schema.Execution
	if executionID := req.GetString("execution_id", ""); executionID != "" {
		exec, err = s.executions.Get(ctx, executionID)
		if err != nil {
			return errorResult("execution lookup", err), nil
		}
	}

	model, buildErr := diagram.Build(wf, exec)
	if buildErr != nil {
		return mcp.NewToolResultError(buildErr.Error()), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "image":
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		encoded := base64.StdEncoding.EncodeToString(png)
		return mcp.NewToolResultImage(model.Title, encoded, "image/png"), nil
	default:
		return mcp.NewToolResultError("unsupported format"), nil
	}
}

// --- Helpers ---

// parseTask decodes the "task" argument through its JSON form so schedule
// fields such as "time": "09:30" use the schema decoders.
func parseTask(req mcp.CallToolRequest) (*schema.Task, error) {
	raw := mcp.ParseStringMap(req, "task", nil)
	if raw == nil {
		return nil, fmt.Errorf("task is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid task: %v", err)
	}
	var task schema.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("invalid task: %v", err)
	}
	return &task, nil
}

// extractInt reads an integer argument, tolerating JSON numbers and strings.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// errorResult renders an engine error as a tool error. AutoflowError text
// already carries its [CODE] prefix.
func errorResult(op string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

func (s *AutoflowServer) captureSession(ctx context.Context, executionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(executionID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
