package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// monthlyHorizon bounds the day scan for monthly schedules. A year always
// contains every day of month 1..31.
const monthlyHorizon = 366

// NextRun computes the next occurrence of s after now, evaluated in loc.
// Calendar schedules also skip occurrences at or before lastRun. It returns
// nil when the schedule has no further occurrence.
func NextRun(s schema.TaskSchedule, lastRun *time.Time, now time.Time, loc *time.Location) (*time.Time, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	ref := now
	if lastRun != nil && lastRun.After(ref) {
		ref = *lastRun
	}

	var next time.Time
	switch s.Type {
	case schema.ScheduleOnce:
		next = *s.StartDate
	case schema.ScheduleEvery:
		next = nextEvery(s, lastRun, now)
		if s.EndDate != nil && next.After(*s.EndDate) {
			return nil, nil
		}
	case schema.ScheduleDaily:
		next = nextDaily(*s.Time, ref, loc)
	case schema.ScheduleWeekly:
		// Weekly never picks the reference weekday itself; it is reached again
		// only after wrapping a full week.
		next = nextMatching(*s.Time, ref, loc, 1, 8, func(d time.Time) bool {
			return slices.Contains(s.DaysOfWeek, int(d.Weekday()))
		})
	case schema.ScheduleMonthly:
		next = nextMatching(*s.Time, ref, loc, 0, monthlyHorizon, func(d time.Time) bool {
			return slices.Contains(s.DaysOfMonth, d.Day())
		})
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown schedule type %q", s.Type)
	}
	if next.IsZero() {
		return nil, nil
	}
	return &next, nil
}

func nextEvery(s schema.TaskSchedule, lastRun *time.Time, now time.Time) time.Time {
	interval := time.Duration(s.IntervalHours) * time.Hour
	if lastRun != nil {
		return lastRun.Add(interval)
	}
	start := *s.StartDate
	if start.After(now) {
		return start
	}
	steps := now.Sub(start)/interval + 1
	return start.Add(steps * interval)
}

// nextDaily returns the occurrence on ref's day, or the following day's when
// that one is not after ref.
func nextDaily(tod schema.TimeOfDay, ref time.Time, loc *time.Location) time.Time {
	next := tod.On(ref, loc)
	if !next.After(ref) {
		next = tod.On(ref.In(loc).AddDate(0, 0, 1), loc)
	}
	return next
}

// nextMatching scans calendar days from ref's day plus from up to (not
// including) horizon and returns the first occurrence at tod on a matching
// day that is strictly after ref.
func nextMatching(tod schema.TimeOfDay, ref time.Time, loc *time.Location, from, horizon int, match func(time.Time) bool) time.Time {
	today := ref.In(loc)
	for i := from; i < horizon; i++ {
		day := today.AddDate(0, 0, i)
		if !match(day) {
			continue
		}
		// Only real calendar days are visited, so a day of month missing
		// from a month is skipped.
		if cand := tod.On(day, loc); cand.After(ref) {
			return cand
		}
	}
	return time.Time{}
}

// CronSpec renders the repeating cron entry for a recurring schedule, or ""
// for one-shot schedules.
func CronSpec(s schema.TaskSchedule) string {
	switch s.Type {
	case schema.ScheduleEvery:
		return fmt.Sprintf("@every %dh", s.IntervalHours)
	case schema.ScheduleDaily:
		return fmt.Sprintf("%d %d * * *", s.Time.Minute, s.Time.Hour)
	case schema.ScheduleWeekly:
		return fmt.Sprintf("%d %d * * %s", s.Time.Minute, s.Time.Hour, joinInts(s.DaysOfWeek))
	case schema.ScheduleMonthly:
		return fmt.Sprintf("%d %d %s * *", s.Time.Minute, s.Time.Hour, joinInts(s.DaysOfMonth))
	default:
		return ""
	}
}

func joinInts(vals []int) string {
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
