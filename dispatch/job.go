// Package dispatch schedules monitor executions, either through a
// SQLite-backed job queue with a bounded worker pool or as a strictly
// sequential loop.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a queued monitor execution.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDead      JobStatus = "dead"
)

// IsValidStatus returns true if the status string is a known JobStatus.
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusDead:
		return true
	default:
		return false
	}
}

// DefaultMaxAttempts is how many times a job runs before dead-lettering.
const DefaultMaxAttempts = 3

// DefaultBackoffBase is the first retry delay; it doubles per attempt.
const DefaultBackoffBase = 30 * time.Second

// Job is one scheduled execution of a monitor.
type Job struct {
	ID             string     `json:"id"`
	IdempotencyKey string     `json:"idempotency_key"`
	MonitorID      string     `json:"monitor_id"`
	Status         JobStatus  `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	NextRunAt      time.Time  `json:"next_run_at"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IdempotencyKeyFor derives the dedupe key for a monitor's executions. At
// most one live (queued or running) job exists per key.
func IdempotencyKeyFor(monitorID string) string {
	return "monitor-" + monitorID
}

// NewJob creates a queued job for a monitor, due immediately.
func NewJob(monitorID string, now time.Time) *Job {
	return &Job{
		ID:             uuid.NewString(),
		IdempotencyKey: IdempotencyKeyFor(monitorID),
		MonitorID:      monitorID,
		Status:         JobStatusQueued,
		Attempts:       0,
		MaxAttempts:    DefaultMaxAttempts,
		NextRunAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Start marks the job as running and counts the attempt.
func (j *Job) Start(now time.Time) {
	j.Status = JobStatusRunning
	j.Attempts++
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete marks the job as completed.
func (j *Job) Complete(now time.Time) {
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail records the error and either re-queues the job with exponential
// backoff or dead-letters it once the attempt ceiling is reached.
func (j *Job) Fail(jobErr error, backoffBase time.Duration, now time.Time) {
	j.Error = jobErr.Error()
	j.UpdatedAt = now

	if j.Attempts >= j.MaxAttempts {
		j.Status = JobStatusDead
		j.CompletedAt = &now
		return
	}

	// 30s, 60s, 120s, ... for the default base.
	delay := backoffBase
	for i := 1; i < j.Attempts; i++ {
		delay *= 2
	}
	j.Status = JobStatusQueued
	j.NextRunAt = now.Add(delay)
}

// Defer puts a claimed job back in the queue without counting the attempt.
// Used when the global rate limiter has no capacity for it yet.
func (j *Job) Defer(delay time.Duration, now time.Time) {
	j.Status = JobStatusQueued
	j.Attempts--
	j.StartedAt = nil
	j.NextRunAt = now.Add(delay)
	j.UpdatedAt = now
}

// FailPermanent marks the job as failed with no retry. Used when the work
// itself is gone, e.g. the monitor was deleted between enqueue and run.
func (j *Job) FailPermanent(jobErr error, now time.Time) {
	j.Status = JobStatusFailed
	j.Error = jobErr.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}
