package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// staleLockAfter is how long a running job may hold its claim before another
// worker is allowed to pick it up again.
const staleLockAfter = 5 * time.Minute

// JobRepository is the Postgres-backed delayed job queue.
type JobRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB, logger *zap.Logger) *JobRepository {
	return &JobRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue inserts a pending job. Enqueueing the same (kind, user, correlation)
// twice is a no-op and reports created=false.
func (r *JobRepository) Enqueue(ctx context.Context, job *Job) (bool, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Payload == nil {
		job.Payload = []byte(`{}`)
	}
	job.Status = JobStatusPending

	query := `
		INSERT INTO lifecycle_jobs (id, kind, user_id, correlation, payload, status, attempts, run_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		ON CONFLICT (kind, user_id, correlation) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		job.ID,
		job.Kind,
		job.UserID,
		job.Correlation,
		job.Payload,
		job.Status,
		job.RunAt,
		job.Deadline,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Debug("job already enqueued",
			zap.String("kind", job.Kind),
			zap.String("user_id", job.UserID.String()),
			zap.Time("correlation", job.Correlation),
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert job: %w", err)
	}

	r.logger.Info("job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", job.Kind),
		zap.String("user_id", job.UserID.String()),
		zap.Time("run_at", job.RunAt),
	)

	return true, nil
}

// ClaimDue marks up to limit due jobs as running for workerID and returns them.
// SKIP LOCKED keeps concurrent workers from claiming the same row.
func (r *JobRepository) ClaimDue(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	requeued, err := tx.Exec(ctx, `
		UPDATE lifecycle_jobs
		SET status = $1, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE status = $2 AND locked_at < NOW() - make_interval(secs => $3)
	`, JobStatusPending, JobStatusRunning, staleLockAfter.Seconds())
	if err != nil {
		return nil, fmt.Errorf("requeue stale jobs: %w", err)
	}
	if n := requeued.RowsAffected(); n > 0 {
		r.logger.Warn("requeued stale running jobs", zap.Int64("count", n))
	}

	rows, err := tx.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM lifecycle_jobs
			WHERE status = $1 AND run_at <= NOW()
			ORDER BY run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE lifecycle_jobs j
		SET status = $3, locked_by = $4, locked_at = NOW(), updated_at = NOW()
		FROM due
		WHERE j.id = due.id
		RETURNING j.id, j.kind, j.user_id, j.correlation, j.payload, j.status, j.attempts,
		          j.run_at, j.deadline, j.locked_by, j.locked_at, j.last_error, j.created_at, j.updated_at
	`,
		JobStatusPending, limit, JobStatusRunning, workerID,
	)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return jobs, nil
}

// Complete marks a job done.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE lifecycle_jobs
		SET status = $1, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $2
	`, JobStatusDone, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

// Reschedule puts a job back to pending for another attempt at runAt.
func (r *JobRepository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, runAt time.Time, lastError string) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE lifecycle_jobs
		SET status = $1, attempts = $2, run_at = $3, last_error = $4,
		    locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $5
	`, JobStatusPending, attempts, runAt, lastError, id)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

// MoveToDeadLetter retires a job that will not be retried again.
func (r *JobRepository) MoveToDeadLetter(ctx context.Context, job *Job, reason string) (*DeadLetterJob, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	dlq := &DeadLetterJob{
		ID:            uuid.New(),
		OriginalJobID: job.ID,
		Kind:          job.Kind,
		UserID:        job.UserID,
		Correlation:   job.Correlation,
		Attempts:      job.Attempts,
		Reason:        reason,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO lifecycle_dead_letter_jobs (id, original_job_id, kind, user_id, correlation, attempts, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`,
		dlq.ID,
		dlq.OriginalJobID,
		dlq.Kind,
		dlq.UserID,
		dlq.Correlation,
		dlq.Attempts,
		dlq.Reason,
	).Scan(&dlq.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert dead letter: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE lifecycle_jobs
		SET status = $1, attempts = $2, last_error = $3, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $4
	`, JobStatusDead, job.Attempts, reason, job.ID)
	if err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("job moved to dead letter queue",
		zap.String("job_id", job.ID.String()),
		zap.String("dlq_id", dlq.ID.String()),
		zap.String("reason", reason),
	)

	return dlq, nil
}

// ListDeadLetters returns the newest dead-lettered jobs first.
func (r *JobRepository) ListDeadLetters(ctx context.Context, limit, offset int) ([]*DeadLetterJob, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, original_job_id, kind, user_id, correlation, attempts, reason, created_at
		FROM lifecycle_dead_letter_jobs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var items []*DeadLetterJob
	for rows.Next() {
		var d DeadLetterJob
		if err := rows.Scan(&d.ID, &d.OriginalJobID, &d.Kind, &d.UserID, &d.Correlation, &d.Attempts, &d.Reason, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		items = append(items, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return items, nil
}

func collectJobs(rows pgx.Rows) ([]*Job, error) {
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		err := rows.Scan(
			&j.ID,
			&j.Kind,
			&j.UserID,
			&j.Correlation,
			&j.Payload,
			&j.Status,
			&j.Attempts,
			&j.RunAt,
			&j.Deadline,
			&j.LockedBy,
			&j.LockedAt,
			&j.LastError,
			&j.CreatedAt,
			&j.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return jobs, nil
}
