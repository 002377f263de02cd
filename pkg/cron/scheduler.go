package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun computes when a schedule fires next, relative to now.
// One-shot "at" schedules in the past return an error.
func NextRun(schedule Schedule, now time.Time) (time.Time, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return nextAt(schedule, now)
	case ScheduleKindEvery:
		return nextEvery(schedule, now)
	case ScheduleKindCron:
		return nextCron(schedule, now)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %q", schedule.Kind)
	}
}

func nextAt(schedule Schedule, now time.Time) (time.Time, error) {
	if schedule.At == "" {
		return time.Time{}, fmt.Errorf("'at' schedule requires 'at' field")
	}
	t, err := time.Parse(time.RFC3339, schedule.At)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	if !t.After(now) {
		return time.Time{}, fmt.Errorf("'at' schedule is in the past: %s", schedule.At)
	}
	return t, nil
}

func nextEvery(schedule Schedule, now time.Time) (time.Time, error) {
	if schedule.EveryMs <= 0 {
		return time.Time{}, fmt.Errorf("'every' schedule requires positive 'every_ms'")
	}
	return now.Add(time.Duration(schedule.EveryMs) * time.Millisecond), nil
}

func nextCron(schedule Schedule, now time.Time) (time.Time, error) {
	if schedule.Expr == "" {
		return time.Time{}, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}

	return sched.Next(now), nil
}
