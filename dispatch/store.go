package dispatch

import (
	"context"
	"database/sql"
	"time"

	"github.com/veyra/listwatch/errors"
)

const jobColumns = `id, idempotency_key, monitor_id, status, attempts, max_attempts,
	next_run_at, last_error, created_at, started_at, completed_at, updated_at`

// Store persists jobs in the watch_jobs table.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a job. A partial unique index on idempotency_key over live
// statuses makes this a no-op while a queued or running job already exists
// for the same key; the bool reports whether a row was actually inserted.
func (s *Store) Create(ctx context.Context, job *Job) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO watch_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.IdempotencyKey, job.MonitorID, job.Status,
		job.Attempts, job.MaxAttempts, job.NextRunAt, job.Error,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt,
	)
	if err != nil {
		return false, errors.Wrapf(err, "create job %s", job.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

// Get returns one job, or errors.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM watch_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get job %s", id)
	}
	return job, nil
}

// Update writes the job's mutable fields back.
func (s *Store) Update(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE watch_jobs
		SET status = ?, attempts = ?, next_run_at = ?, last_error = ?,
		    started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		job.Status, job.Attempts, job.NextRunAt, job.Error,
		job.StartedAt, job.CompletedAt, job.UpdatedAt, job.ID,
	)
	return errors.Wrapf(err, "update job %s", job.ID)
}

// NextDue returns the oldest queued job whose next_run_at has passed, or
// nil when nothing is due.
func (s *Store) NextDue(ctx context.Context, now time.Time) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM watch_jobs
		WHERE status = 'queued' AND next_run_at <= ?
		ORDER BY next_run_at ASC, created_at ASC
		LIMIT 1`, now)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "next due job")
	}
	return job, nil
}

// ListByStatus returns jobs in a status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM watch_jobs
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?`, status, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s jobs", status)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s jobs", status)
	}
	return jobs, nil
}

// CountByStatus returns how many jobs sit in a status.
func (s *Store) CountByStatus(ctx context.Context, status JobStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watch_jobs WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count %s jobs", status)
	}
	return n, nil
}

// RequeueRunning flips every running job back to queued. Called once at
// startup so jobs orphaned by a crash get picked up again.
func (s *Store) RequeueRunning(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE watch_jobs
		SET status = 'queued', last_error = '', next_run_at = ?, updated_at = ?
		WHERE status = 'running'`, now, now)
	if err != nil {
		return 0, errors.Wrap(err, "requeue running jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return int(n), nil
}

// Cleanup removes completed and failed jobs older than the cutoff. Dead
// jobs are kept for operator inspection.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM watch_jobs
		WHERE status IN ('completed', 'failed') AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "cleanup old jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.IdempotencyKey, &job.MonitorID, &job.Status,
		&job.Attempts, &job.MaxAttempts, &job.NextRunAt, &job.Error,
		&job.CreatedAt, &startedAt, &completedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}
