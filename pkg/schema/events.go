package schema

// Event type constants for the execution event log and the completion bus.
const (
	EventExecutionQueued    = "execution_queued"
	EventExecutionStarted   = "execution_started"
	EventExecutionPaused    = "execution_paused"
	EventExecutionResumed   = "execution_resumed"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionStopped   = "execution_stopped"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"

	EventActionsDispatched = "actions_dispatched"

	EventTaskScheduled      = "task_scheduled"
	EventTaskDue            = "task_due"
	EventTaskCompleted      = "task_completed"
	EventTaskRetryScheduled = "task_retry_scheduled"
	EventTaskFailed         = "task_failed"
	EventTaskCancelled      = "task_cancelled"
)

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusStopped   ExecutionStatus = "stopped"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusStopped
}

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// TaskStatus represents the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// ExecutionEventType maps a terminal or paused execution status to its bus event.
func ExecutionEventType(s ExecutionStatus) string {
	switch s {
	case ExecutionStatusRunning:
		return EventExecutionStarted
	case ExecutionStatusPaused:
		return EventExecutionPaused
	case ExecutionStatusCompleted:
		return EventExecutionCompleted
	case ExecutionStatusFailed:
		return EventExecutionFailed
	case ExecutionStatusStopped:
		return EventExecutionStopped
	default:
		return ""
	}
}
