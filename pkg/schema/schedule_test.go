package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"09:00", TimeOfDay{9, 0}, false},
		{"23:59", TimeOfDay{23, 59}, false},
		{"7:30", TimeOfDay{7, 30}, false},
		{"24:00", TimeOfDay{}, true},
		{"12:60", TimeOfDay{}, true},
		{"12:5", TimeOfDay{}, true},
		{"noon", TimeOfDay{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsCode(err, ErrCodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	var s TaskSchedule
	require.NoError(t, json.Unmarshal([]byte(`{"type":"daily","time":"08:15"}`), &s))
	require.NotNil(t, s.Time)
	assert.Equal(t, "08:15", s.Time.String())

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"time":"08:15"`)

	assert.Error(t, json.Unmarshal([]byte(`{"type":"daily","time":"25:00"}`), &s))
}

func TestTimeOfDay_On(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 3, 4, 17, 42, 11, 0, loc)
	got := MustTimeOfDay("09:30").On(day, loc)
	assert.Equal(t, time.Date(2026, 3, 4, 9, 30, 0, 0, loc), got)
}

func TestTaskSchedule_Validate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)
	tod := MustTimeOfDay("10:00")

	tests := []struct {
		name    string
		sched   TaskSchedule
		wantErr bool
	}{
		{"once ok", TaskSchedule{Type: ScheduleOnce, StartDate: &start}, false},
		{"once missing start", TaskSchedule{Type: ScheduleOnce}, true},
		{"every ok", TaskSchedule{Type: ScheduleEvery, StartDate: &start, IntervalHours: 6}, false},
		{"every zero interval", TaskSchedule{Type: ScheduleEvery, StartDate: &start}, true},
		{"every end before start", TaskSchedule{Type: ScheduleEvery, StartDate: &start, IntervalHours: 1, EndDate: &before}, true},
		{"daily ok", TaskSchedule{Type: ScheduleDaily, Time: &tod}, false},
		{"daily missing time", TaskSchedule{Type: ScheduleDaily}, true},
		{"weekly ok", TaskSchedule{Type: ScheduleWeekly, Time: &tod, DaysOfWeek: []int{1, 3}}, false},
		{"weekly no days", TaskSchedule{Type: ScheduleWeekly, Time: &tod}, true},
		{"weekly bad day", TaskSchedule{Type: ScheduleWeekly, Time: &tod, DaysOfWeek: []int{7}}, true},
		{"monthly ok", TaskSchedule{Type: ScheduleMonthly, Time: &tod, DaysOfMonth: []int{1, 15}}, false},
		{"monthly bad day", TaskSchedule{Type: ScheduleMonthly, Time: &tod, DaysOfMonth: []int{0}}, true},
		{"unknown type", TaskSchedule{Type: "hourly"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sched.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ErrCodeValidation, ErrorCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewExecution(t *testing.T) {
	graph := &WorkflowGraph{
		ID: "wf-1",
		Nodes: []Node{
			{ID: "n1", Type: NodeTypeOpenURL},
			{ID: "n2", Type: NodeTypeClick},
		},
		Variables: map[string]any{"user": map[string]any{"name": "ada"}},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exec := NewExecution("ex-1", graph, "p-1", false, now)

	assert.Equal(t, ExecutionStatusRunning, exec.Status)
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, "n1", exec.Steps[0].NodeID)
	assert.Equal(t, StepStatusPending, exec.Steps[1].Status)
	assert.Nil(t, exec.EndTime)

	// data is a copy of graph variables
	exec.Data["user"].(map[string]any)["name"] = "bob"
	assert.Equal(t, "ada", graph.Variables["user"].(map[string]any)["name"])

	clone := exec.Clone()
	clone.Steps[0].Status = StepStatusCompleted
	assert.Equal(t, StepStatusPending, exec.Steps[0].Status)
}

func TestAutoflowError(t *testing.T) {
	cause := assert.AnError
	err := NewErrorf(ErrCodeStepCompile, "bad node %s", "n1").WithStep("n1").WithCause(cause)
	assert.Equal(t, "[STEP_COMPILE_FAILED] step n1: bad node n1", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.False(t, err.IsRetryable())
	assert.True(t, NewError(ErrCodeDriver, "boom").IsRetryable())
	assert.Equal(t, "", ErrorCode(assert.AnError))
}

func TestTaskValidate(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ok := &Task{WorkflowID: "wf", ProfileID: "p", Schedule: TaskSchedule{Type: ScheduleOnce, StartDate: &start}}
	assert.NoError(t, ok.Validate())

	bad := &Task{MaxRetries: -1, Schedule: TaskSchedule{Type: ScheduleWeekly, DaysOfWeek: []int{7}}}
	err := bad.Validate()
	require.Error(t, err)

	afErr, isAF := err.(*AutoflowError)
	require.True(t, isAF)
	issues, _ := afErr.Details["errors"].([]ValidationIssue)
	paths := make([]string, 0, len(issues))
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	assert.Equal(t, []string{
		"workflow_id",
		"profile_id",
		"max_retries",
		"schedule.time",
		"schedule.days_of_week[0]",
	}, paths)
	assert.Equal(t, "workflow_id: task requires workflow_id (and 4 more errors)", afErr.Message)
}
