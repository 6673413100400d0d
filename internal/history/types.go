package history

import (
	"encoding/json"
	"time"
)

// RunKind distinguishes graph runs from pipeline runs.
type RunKind string

const (
	RunKindGraph    RunKind = "graph"
	RunKindPipeline RunKind = "pipeline"
)

// RunSummary is the indexed view of a recorded run. The full result lives in
// the run's JSON blob; summaries avoid unmarshalling it for listings.
type RunSummary struct {
	RunID           string    `json:"run_id"`
	Kind            RunKind   `json:"kind"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	TotalDurationMs int64     `json:"total_duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   RunKind    `json:"kind,omitempty"`
	Name   string     `json:"name,omitempty"`
	Status string     `json:"status,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// Memory is a keyed entry recorded by the memory capability.
type Memory struct {
	ID        int64           `json:"id"`
	Key       string          `json:"key"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// ScheduledJob is a cron-triggered graph or pipeline run.
type ScheduledJob struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Kind           RunKind         `json:"kind"`
	Spec           json.RawMessage `json:"spec"`
	Input          json.RawMessage `json:"input,omitempty"`
	CronExpression string          `json:"cron_expression"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool   `json:"enabled,omitempty"`
	Kind    RunKind `json:"kind,omitempty"`
	Limit   int     `json:"limit,omitempty"`
}
