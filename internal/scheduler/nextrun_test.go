package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/pkg/schema"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

func tod(s string) *schema.TimeOfDay {
	t := schema.MustTimeOfDay(s)
	return &t
}

func TestNextRun(t *testing.T) {
	// 2026-04-02 is a Thursday.
	thursday10 := at("2026-04-02T10:00:00Z")

	tests := []struct {
		name    string
		sched   schema.TaskSchedule
		lastRun *time.Time
		now     time.Time
		want    string
	}{
		{
			name:  "daily already passed today",
			sched: schema.TaskSchedule{Type: schema.ScheduleDaily, Time: tod("09:00")},
			now:   thursday10,
			want:  "2026-04-03T09:00:00Z",
		},
		{
			name:  "daily later today",
			sched: schema.TaskSchedule{Type: schema.ScheduleDaily, Time: tod("12:30")},
			now:   thursday10,
			want:  "2026-04-02T12:30:00Z",
		},
		{
			name:    "daily skips the occurrence that already ran",
			sched:   schema.TaskSchedule{Type: schema.ScheduleDaily, Time: tod("10:00")},
			lastRun: ptr(at("2026-04-02T10:00:00Z")),
			now:     at("2026-04-02T09:59:30Z"),
			want:    "2026-04-03T10:00:00Z",
		},
		{
			name:  "weekly wraps to next monday",
			sched: schema.TaskSchedule{Type: schema.ScheduleWeekly, Time: tod("09:00"), DaysOfWeek: []int{1, 3}},
			now:   thursday10,
			want:  "2026-04-06T09:00:00Z",
		},
		{
			name:  "weekly skips today even when time is ahead",
			sched: schema.TaskSchedule{Type: schema.ScheduleWeekly, Time: tod("10:00"), DaysOfWeek: []int{1, 3}},
			now:   at("2026-04-06T08:00:00Z"),
			want:  "2026-04-08T10:00:00Z",
		},
		{
			name:  "weekly single day wraps a full week",
			sched: schema.TaskSchedule{Type: schema.ScheduleWeekly, Time: tod("12:00"), DaysOfWeek: []int{4}},
			now:   thursday10,
			want:  "2026-04-09T12:00:00Z",
		},
		{
			name:  "weekly same weekday next week when time passed",
			sched: schema.TaskSchedule{Type: schema.ScheduleWeekly, Time: tod("08:00"), DaysOfWeek: []int{4}},
			now:   thursday10,
			want:  "2026-04-09T08:00:00Z",
		},
		{
			name:  "monthly skips months without the day",
			sched: schema.TaskSchedule{Type: schema.ScheduleMonthly, Time: tod("09:00"), DaysOfMonth: []int{31}},
			now:   thursday10,
			want:  "2026-05-31T09:00:00Z",
		},
		{
			name:  "monthly wraps to next month",
			sched: schema.TaskSchedule{Type: schema.ScheduleMonthly, Time: tod("09:00"), DaysOfMonth: []int{1, 2}},
			now:   thursday10,
			want:  "2026-05-01T09:00:00Z",
		},
		{
			name:  "once uses start date verbatim",
			sched: schema.TaskSchedule{Type: schema.ScheduleOnce, StartDate: ptr(at("2026-03-01T07:15:00Z"))},
			now:   thursday10,
			want:  "2026-03-01T07:15:00Z",
		},
		{
			name:  "every steps from start date",
			sched: schema.TaskSchedule{Type: schema.ScheduleEvery, StartDate: ptr(at("2026-04-01T00:00:00Z")), IntervalHours: 6},
			now:   thursday10,
			want:  "2026-04-02T12:00:00Z",
		},
		{
			name:  "every on an exact boundary moves past now",
			sched: schema.TaskSchedule{Type: schema.ScheduleEvery, StartDate: ptr(at("2026-04-01T00:00:00Z")), IntervalHours: 2},
			now:   thursday10,
			want:  "2026-04-02T12:00:00Z",
		},
		{
			name:  "every with future start",
			sched: schema.TaskSchedule{Type: schema.ScheduleEvery, StartDate: ptr(at("2026-05-01T00:00:00Z")), IntervalHours: 6},
			now:   thursday10,
			want:  "2026-05-01T00:00:00Z",
		},
		{
			name:    "every after last run",
			sched:   schema.TaskSchedule{Type: schema.ScheduleEvery, StartDate: ptr(at("2026-04-01T00:00:00Z")), IntervalHours: 6},
			lastRun: ptr(at("2026-04-02T11:00:00Z")),
			now:     thursday10,
			want:    "2026-04-02T17:00:00Z",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRun(tt.sched, tt.lastRun, tt.now, time.UTC)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, at(tt.want), got.UTC())
		})
	}
}

func TestNextRun_EveryPastEndDate(t *testing.T) {
	s := schema.TaskSchedule{
		Type:          schema.ScheduleEvery,
		StartDate:     ptr(at("2026-04-01T00:00:00Z")),
		EndDate:       ptr(at("2026-04-02T11:00:00Z")),
		IntervalHours: 6,
	}
	got, err := NextRun(s, nil, at("2026-04-02T10:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNextRun_Location(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	s := schema.TaskSchedule{Type: schema.ScheduleDaily, Time: tod("09:00")}

	// 13:00 UTC is 08:00 local, so the occurrence is still ahead today.
	got, err := NextRun(s, nil, at("2026-04-02T13:00:00Z"), loc)
	require.NoError(t, err)
	assert.Equal(t, at("2026-04-02T14:00:00Z"), got.UTC())
}

func TestNextRun_Invalid(t *testing.T) {
	_, err := NextRun(schema.TaskSchedule{Type: schema.ScheduleWeekly, Time: tod("09:00")}, nil, time.Now(), time.UTC)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), err)

	_, err = NextRun(schema.TaskSchedule{Type: "hourly"}, nil, time.Now(), time.UTC)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), err)
}

func TestCronSpec(t *testing.T) {
	tests := []struct {
		sched schema.TaskSchedule
		want  string
	}{
		{schema.TaskSchedule{Type: schema.ScheduleOnce}, ""},
		{schema.TaskSchedule{Type: schema.ScheduleEvery, IntervalHours: 4}, "@every 4h"},
		{schema.TaskSchedule{Type: schema.ScheduleDaily, Time: tod("09:05")}, "5 9 * * *"},
		{schema.TaskSchedule{Type: schema.ScheduleWeekly, Time: tod("18:30"), DaysOfWeek: []int{3, 1, 3}}, "30 18 * * 1,3"},
		{schema.TaskSchedule{Type: schema.ScheduleMonthly, Time: tod("00:00"), DaysOfMonth: []int{15, 1}}, "0 0 1,15 * *"},
	}
	for _, tt := range tests {
		t.Run(string(tt.sched.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, CronSpec(tt.sched))
		})
	}
}
