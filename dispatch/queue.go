package dispatch

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veyra/listwatch/errors"
)

// Queue coordinates job state transitions over the store. The mutex keeps
// dequeue-and-mark-running atomic across workers sharing one process.
type Queue struct {
	store       *Store
	mu          sync.Mutex
	backoffBase time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *zap.SugaredLogger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithBackoffBase overrides the first retry delay.
func WithBackoffBase(d time.Duration) QueueOption {
	return func(q *Queue) { q.backoffBase = d }
}

// WithMaxAttempts overrides the attempt ceiling stamped on new jobs.
func WithMaxAttempts(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) QueueOption {
	return func(q *Queue) { q.now = fn }
}

// NewQueue creates a job queue.
func NewQueue(db *sql.DB, logger *zap.SugaredLogger, opts ...QueueOption) *Queue {
	q := &Queue{
		store:       NewStore(db),
		backoffBase: DefaultBackoffBase,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a job for the monitor unless a live one already exists for
// its idempotency key. Returns true when a new job was actually created.
func (q *Queue) Enqueue(ctx context.Context, monitorID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := NewJob(monitorID, q.now())
	job.MaxAttempts = q.maxAttempts
	created, err := q.store.Create(ctx, job)
	if err != nil {
		return false, errors.Wrapf(err, "enqueue monitor %s", monitorID)
	}
	if !created {
		q.logger.Debugw("Enqueue skipped, live job exists",
			"monitor_id", monitorID,
			"idempotency_key", job.IdempotencyKey,
		)
	}
	return created, nil
}

// Dequeue claims the oldest due queued job and marks it running. Returns
// nil when nothing is due.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.NextDue(ctx, q.now())
	if err != nil || job == nil {
		return nil, err
	}

	job.Start(q.now())
	if err := q.store.Update(ctx, job); err != nil {
		return nil, errors.Wrapf(err, "mark job %s running", job.ID)
	}
	return job, nil
}

// Complete marks a job as successfully finished.
func (q *Queue) Complete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	job.Complete(q.now())
	return q.store.Update(ctx, job)
}

// Fail records a failed attempt. The job is re-queued with exponential
// backoff, or dead-lettered once its attempts are exhausted.
func (q *Queue) Fail(ctx context.Context, id string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	job.Fail(jobErr, q.backoffBase, q.now())

	if job.Status == JobStatusDead {
		q.logger.Warnw("Job dead-lettered",
			"job_id", job.ID,
			"monitor_id", job.MonitorID,
			"attempts", job.Attempts,
			"error", job.Error,
		)
	} else {
		q.logger.Infow("Job re-queued after failure",
			"job_id", job.ID,
			"monitor_id", job.MonitorID,
			"attempt", job.Attempts,
			"next_run_at", job.NextRunAt,
		)
	}
	return q.store.Update(ctx, job)
}

// Defer releases a claimed job back to the queue without counting the
// attempt, due again after the delay.
func (q *Queue) Defer(ctx context.Context, id string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	job.Defer(delay, q.now())
	return q.store.Update(ctx, job)
}

// FailPermanent marks a job as failed without retry.
func (q *Queue) FailPermanent(ctx context.Context, id string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	job.FailPermanent(jobErr, q.now())
	return q.store.Update(ctx, job)
}

// Get returns one job by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// Depth returns the number of queued jobs.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.store.CountByStatus(ctx, JobStatusQueued)
}

// DeadLetters lists dead-lettered jobs for operator inspection.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]*Job, error) {
	return q.store.ListByStatus(ctx, JobStatusDead, limit)
}

// DeadLetterCount returns how many jobs are dead-lettered.
func (q *Queue) DeadLetterCount(ctx context.Context) (int, error) {
	return q.store.CountByStatus(ctx, JobStatusDead)
}

// RecoverOrphans re-queues jobs left running by a previous crash. Called
// once before workers start.
func (q *Queue) RecoverOrphans(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, err := q.store.RequeueRunning(ctx, q.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Infow("Recovered orphaned jobs", "count", n)
	}
	return n, nil
}

// Cleanup removes finished jobs older than the cutoff.
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Cleanup(ctx, olderThan, q.now())
}

// Stats summarizes queue state for the stats endpoint.
type Stats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Dead    int `json:"dead"`
}

// GetStats counts jobs per live status.
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	var err error
	if stats.Queued, err = q.store.CountByStatus(ctx, JobStatusQueued); err != nil {
		return nil, err
	}
	if stats.Running, err = q.store.CountByStatus(ctx, JobStatusRunning); err != nil {
		return nil, err
	}
	if stats.Dead, err = q.store.CountByStatus(ctx, JobStatusDead); err != nil {
		return nil, err
	}
	return &stats, nil
}
