package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veyra/listwatch/errors"
	lwtest "github.com/veyra/listwatch/internal/testing"
)

type queueClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *queueClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *queueClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, opts ...QueueOption) (*Queue, *queueClock) {
	t.Helper()
	clock := &queueClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	db := lwtest.CreateTestDB(t)
	opts = append([]QueueOption{WithClock(clock.Now)}, opts...)
	return NewQueue(db, zaptest.NewLogger(t).Sugar(), opts...), clock
}

func TestEnqueueIsIdempotentWhileJobIsLive(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	created, err := q.Enqueue(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, created)

	// Queued: second enqueue is a no-op.
	created, err = q.Enqueue(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, created)

	// Running: still a no-op.
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	created, err = q.Enqueue(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, created)

	// Completed: the key is free again.
	require.NoError(t, q.Complete(ctx, job.ID))
	created, err = q.Enqueue(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDequeueOrdersByDueTime(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	_, err := q.Enqueue(ctx, "m-1")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = q.Enqueue(ctx, "m-2")
	require.NoError(t, err)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "m-1", first.MonitorID)
	assert.Equal(t, JobStatusRunning, first.Status)
	assert.Equal(t, 1, first.Attempts)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "m-2", second.MonitorID)

	third, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, third, "queue drained")
}

func TestFailRequeuesWithBackoffUntilDead(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	_, err := q.Enqueue(ctx, "m-1")
	require.NoError(t, err)

	var jobID string
	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d should be dequeueable", attempt)
		jobID = job.ID

		require.NoError(t, q.Fail(ctx, job.ID, errors.New("site unreachable")))

		reloaded, err := q.Get(ctx, job.ID)
		require.NoError(t, err)
		if attempt < DefaultMaxAttempts {
			assert.Equal(t, JobStatusQueued, reloaded.Status)
			// Not due yet: backoff pushed next_run_at into the future.
			due, err := q.Dequeue(ctx)
			require.NoError(t, err)
			assert.Nil(t, due)
			clock.Advance(DefaultBackoffBase * time.Duration(1<<attempt))
		} else {
			assert.Equal(t, JobStatusDead, reloaded.Status)
		}
	}

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, jobID, dead[0].ID)
	assert.Contains(t, dead[0].Error, "site unreachable")

	// Dead jobs release the idempotency key.
	created, err := q.Enqueue(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestFailHonorsConfiguredAttemptCeiling(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t, WithMaxAttempts(5), WithBackoffBase(time.Millisecond))

	_, err := q.Enqueue(ctx, "m-1")
	require.NoError(t, err)

	for attempt := 1; attempt <= 5; attempt++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d should be dequeueable", attempt)
		assert.Equal(t, 5, job.MaxAttempts)

		require.NoError(t, q.Fail(ctx, job.ID, errors.New("site unreachable")))
		clock.Advance(time.Minute)

		dead, err := q.DeadLetterCount(ctx)
		require.NoError(t, err)
		if attempt < 5 {
			assert.Zero(t, dead, "attempt %d must not dead-letter yet", attempt)
		} else {
			assert.Equal(t, 1, dead)
		}
	}
}

func TestDeferReleasesClaimWithoutAttempt(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	_, err := q.Enqueue(ctx, "m-1")
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, q.Defer(ctx, job.ID, 10*time.Second))

	reloaded, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, reloaded.Status)
	assert.Zero(t, reloaded.Attempts)

	due, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, due, "deferred job is not due yet")

	clock.Advance(10 * time.Second)
	due, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, job.ID, due.ID)
}

func TestRecoverOrphans(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(ctx, "m-1")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "m-2")
	require.NoError(t, err)

	// Claim both, then simulate a crash by never completing them.
	j1, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, j1)
	j2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, j2)

	recovered, err := q.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestQueueStatsAndCleanup(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	_, err := q.Enqueue(ctx, "m-1")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "m-2")
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job.ID))

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
	assert.Zero(t, stats.Running)
	assert.Zero(t, stats.Dead)

	clock.Advance(48 * time.Hour)
	removed, err := q.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "completed job past the cutoff is removed")
}

func TestFailPermanentSkipsRetry(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(ctx, "m-1")
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.FailPermanent(ctx, job.ID, errors.New("monitor deleted")))

	reloaded, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, reloaded.Status)

	due, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, due)
}
