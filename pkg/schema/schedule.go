package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time with minute precision, serialized as "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, NewErrorf(ErrCodeValidation, "time of day %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, NewErrorf(ErrCodeValidation, "time of day %q: hour out of range", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return TimeOfDay{}, NewErrorf(ErrCodeValidation, "time of day %q: minute out of range", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// MustTimeOfDay is like ParseTimeOfDay but panics on error. Intended for tests and constants.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On places the time of day on the calendar day of date, in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, loc)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ScheduleType tags the TaskSchedule variant.
type ScheduleType string

const (
	ScheduleOnce    ScheduleType = "once"
	ScheduleEvery   ScheduleType = "every"
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
)

// TaskSchedule is a tagged union keyed on Type. Only the fields of the active
// variant are meaningful:
//
//	once:    StartDate
//	every:   StartDate, IntervalHours, EndDate (optional)
//	daily:   Time
//	weekly:  Time, DaysOfWeek (0=Sunday..6)
//	monthly: Time, DaysOfMonth (1..31)
type TaskSchedule struct {
	Type          ScheduleType `json:"type"`
	StartDate     *time.Time   `json:"start_date,omitempty"`
	EndDate       *time.Time   `json:"end_date,omitempty"`
	IntervalHours int          `json:"interval_hours,omitempty"`
	Time          *TimeOfDay   `json:"time,omitempty"`
	DaysOfWeek    []int        `json:"days_of_week,omitempty"`
	DaysOfMonth   []int        `json:"days_of_month,omitempty"`
}

// Recurring reports whether the schedule produces more than one occurrence.
func (s TaskSchedule) Recurring() bool {
	return s.Type != ScheduleOnce
}

// Validate checks that the fields required by the active variant are present and in range.
func (s TaskSchedule) Validate() error {
	var result ValidationResult
	result.Nest("schedule", s.check())
	return result.ToError()
}

// check reports schedule problems with paths relative to the schedule.
func (s TaskSchedule) check() *ValidationResult {
	result := &ValidationResult{}
	switch s.Type {
	case ScheduleOnce:
		if s.StartDate == nil {
			result.Errorf("start_date", "once schedule requires start_date")
		}
	case ScheduleEvery:
		if s.StartDate == nil {
			result.Errorf("start_date", "every schedule requires start_date")
		}
		if s.IntervalHours < 1 {
			result.Errorf("interval_hours", "interval_hours must be >= 1")
		}
		if s.StartDate != nil && s.EndDate != nil && !s.EndDate.After(*s.StartDate) {
			result.Errorf("end_date", "end_date must be after start_date")
		}
	case ScheduleDaily:
		if s.Time == nil {
			result.Errorf("time", "daily schedule requires time")
		}
	case ScheduleWeekly:
		if s.Time == nil {
			result.Errorf("time", "weekly schedule requires time")
		}
		if len(s.DaysOfWeek) == 0 {
			result.Errorf("days_of_week", "weekly schedule requires at least one day")
		}
		for i, d := range s.DaysOfWeek {
			if d < 0 || d > 6 {
				result.Errorf(fmt.Sprintf("days_of_week[%d]", i), "day of week %d out of range 0-6", d)
			}
		}
	case ScheduleMonthly:
		if s.Time == nil {
			result.Errorf("time", "monthly schedule requires time")
		}
		if len(s.DaysOfMonth) == 0 {
			result.Errorf("days_of_month", "monthly schedule requires at least one day")
		}
		for i, d := range s.DaysOfMonth {
			if d < 1 || d > 31 {
				result.Errorf(fmt.Sprintf("days_of_month[%d]", i), "day of month %d out of range 1-31", d)
			}
		}
	default:
		result.Errorf("type", "unknown schedule type %q", s.Type)
	}
	return result
}
