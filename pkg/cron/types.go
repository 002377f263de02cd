package cron

import (
	"context"
	"time"
)

// ScheduleKind represents the type of schedule.
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule is a time specification for job execution.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "at": a one-shot RFC 3339 timestamp.
	At string `json:"at,omitempty"`

	// For "every": a fixed interval.
	EveryMs int64 `json:"every_ms,omitempty"`

	// For "cron": a 5-field cron expression, optionally with a
	// timezone name.
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// JobState tracks the runtime state of a job.
type JobState struct {
	NextRunAt         *time.Time `json:"next_run_at,omitempty"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	LastStatus        string     `json:"last_status,omitempty"` // "ok" or "error"
	LastError         string     `json:"last_error,omitempty"`
	LastDurationMs    int64      `json:"last_duration_ms,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors,omitempty"`
}

// Job is a persisted scheduled prompt. Each job runs in its own
// session keyed cron:<name>.
type Job struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Schedule       Schedule  `json:"schedule"`
	Message        string    `json:"message"`
	Enabled        bool      `json:"enabled"`
	DeleteAfterRun bool      `json:"delete_after_run,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	State          JobState  `json:"state"`
}

// AddParams are the inputs for creating a job.
type AddParams struct {
	Name           string
	Schedule       Schedule
	Message        string
	Enabled        bool
	DeleteAfterRun bool
}

// RunFunc executes a job's prompt and returns the agent reply. The
// CLI wires this to Gateway.HandleCron.
type RunFunc func(ctx context.Context, jobName string, message string) (string, error)
