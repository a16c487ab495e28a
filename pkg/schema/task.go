package schema

import "time"

// Task binds a workflow and a profile to a recurrence schedule.
type Task struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	WorkflowID string       `json:"workflow_id"`
	ProfileID  string       `json:"profile_id"`
	Schedule   TaskSchedule `json:"schedule"`
	MaxRetries int          `json:"max_retries"`
	RetryCount int          `json:"retry_count"`
	Priority   int          `json:"priority,omitempty"` // advisory only
	Status     TaskStatus   `json:"status"`
	LastRun    *time.Time   `json:"last_run,omitempty"`
	NextRun    *time.Time   `json:"next_run,omitempty"`
	ErrorLogs  []string     `json:"error_logs,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.LastRun = cloneTime(t.LastRun)
	c.NextRun = cloneTime(t.NextRun)
	c.Schedule.StartDate = cloneTime(t.Schedule.StartDate)
	c.Schedule.EndDate = cloneTime(t.Schedule.EndDate)
	if t.Schedule.Time != nil {
		tod := *t.Schedule.Time
		c.Schedule.Time = &tod
	}
	c.Schedule.DaysOfWeek = append([]int(nil), t.Schedule.DaysOfWeek...)
	c.Schedule.DaysOfMonth = append([]int(nil), t.Schedule.DaysOfMonth...)
	c.ErrorLogs = append([]string(nil), t.ErrorLogs...)
	return &c
}

// Validate checks the task binding and its schedule.
func (t *Task) Validate() error {
	var result ValidationResult
	if t.WorkflowID == "" {
		result.Errorf("workflow_id", "task requires workflow_id")
	}
	if t.ProfileID == "" {
		result.Errorf("profile_id", "task requires profile_id")
	}
	if t.MaxRetries < 0 {
		result.Errorf("max_retries", "max_retries must be >= 0")
	}
	result.Nest("schedule", t.Schedule.check())
	return result.ToError()
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
