package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyra/listwatch/errors"
)

func TestNewJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := NewJob("m-1", now)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "monitor-m-1", job.IdempotencyKey)
	assert.Equal(t, "m-1", job.MonitorID)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Zero(t, job.Attempts)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, now, job.NextRunAt)
}

func TestJobFailBackoffDoubles(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := NewJob("m-1", now)

	job.Start(now)
	job.Fail(errors.New("scrape timeout"), 30*time.Second, now)
	require.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, now.Add(30*time.Second), job.NextRunAt)

	job.Start(now)
	job.Fail(errors.New("scrape timeout"), 30*time.Second, now)
	require.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, now.Add(60*time.Second), job.NextRunAt)
}

func TestJobDeadLettersAtAttemptCeiling(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := NewJob("m-1", now)

	for i := 0; i < DefaultMaxAttempts; i++ {
		job.Start(now)
		job.Fail(errors.New("scrape timeout"), 30*time.Second, now)
	}

	assert.Equal(t, JobStatusDead, job.Status)
	assert.Equal(t, DefaultMaxAttempts, job.Attempts)
	assert.NotNil(t, job.CompletedAt)
	assert.Contains(t, job.Error, "scrape timeout")
}

func TestJobDeferDoesNotBurnAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := NewJob("m-1", now)

	job.Start(now)
	require.Equal(t, 1, job.Attempts)

	job.Defer(5*time.Second, now)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Zero(t, job.Attempts)
	assert.Nil(t, job.StartedAt)
	assert.Equal(t, now.Add(5*time.Second), job.NextRunAt)
}

func TestJobFailPermanent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := NewJob("m-1", now)
	job.Start(now)

	job.FailPermanent(errors.New("monitor m-1 not found"), now)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.NotNil(t, job.CompletedAt)
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{"queued", "running", "completed", "failed", "dead"} {
		assert.True(t, IsValidStatus(s), s)
	}
	assert.False(t, IsValidStatus("paused"))
	assert.False(t, IsValidStatus(""))
}
