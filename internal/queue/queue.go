package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/internal/metrics"
	"github.com/cortex-engine/entity-core/pkg/types"
)

const (
	// DefaultMaxRetries is persisted when EnqueueOptions leaves it unset.
	DefaultMaxRetries = 3

	// retryBackoffBase and retryBackoffCap bound the failure backoff:
	// min(base · 2^retryCount, cap).
	retryBackoffBase = 1000 * time.Millisecond
	retryBackoffCap  = 60000 * time.Millisecond

	// Busy-resource dequeue retry: 10 ms initial, doubling, 3 attempts.
	busyRetryInitial  = 10 * time.Millisecond
	busyRetryAttempts = 3
)

// EnqueueOptions tunes a single enqueue.
type EnqueueOptions struct {
	Priority   int           // higher dequeues first
	MaxRetries int           // 0 takes DefaultMaxRetries
	Delay      time.Duration // job becomes eligible at now+Delay
	Source     string
	RootJobID  string
}

// Queue is a durable FIFO-with-priority job queue over the jobs table.
// Dequeue atomically claims a row, so concurrent workers never share a
// job.
type Queue struct {
	db      *sqlx.DB
	logger  *zap.Logger
	metrics metrics.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler

	now func() time.Time
}

// New creates a queue over an open database.
func New(database *sqlx.DB, logger *zap.Logger, m metrics.Metrics) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Queue{
		db:       database,
		logger:   logger,
		metrics:  m,
		handlers: make(map[string]Handler),
		now:      time.Now,
	}
}

// RegisterHandler installs the handler for its job type. Registering a
// second handler for the same type replaces the first.
func (q *Queue) RegisterHandler(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[h.Type()] = h
}

// HandlerFor returns the handler registered for the job type.
func (q *Queue) HandlerFor(jobType string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Enqueue validates the payload through the type's handler and inserts
// a pending job. Job types without a registered handler are rejected:
// handler validation is the gate, and an unhandled job could only ever
// fail at dequeue time. Returns the new job id.
func (q *Queue) Enqueue(ctx context.Context, jobType string, data any, opts EnqueueOptions) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidJobData, err)
	}

	h, ok := q.HandlerFor(jobType)
	if !ok {
		return "", fmt.Errorf("%w: no handler registered for job type %q", types.ErrInvalidJobData, jobType)
	}
	if _, err := h.ValidateAndParse(payload); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidJobData, err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	now := q.now()
	jobID := uuid.NewString()

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, data, status, priority, retry_count, max_retries,
		                  scheduled_for, source, root_job_id, created_at)
		VALUES ($1, $2, $3, 'pending', $4, 0, $5, $6, $7, $8, $9)`,
		jobID, jobType, payload, opts.Priority, maxRetries,
		now.Add(opts.Delay).UnixMilli(),
		nullString(opts.Source), nullString(opts.RootJobID),
		now.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: enqueue failed: %v", types.ErrStorage, err)
	}

	q.metrics.RecordEnqueue(jobType)
	q.logger.Debug("Job enqueued",
		zap.String("job_id", jobID),
		zap.String("job_type", jobType),
		zap.Int("priority", opts.Priority),
	)
	return jobID, nil
}

// Dequeue claims the highest-priority eligible job, flipping it to
// processing atomically. Returns (nil, nil) when no job is eligible.
// Transient busy-resource errors are retried with capped exponential
// backoff before surfacing.
func (q *Queue) Dequeue(ctx context.Context) (*types.Job, error) {
	var job *types.Job

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = busyRetryInitial
	ebo.Multiplier = 2
	ebo.RandomizationFactor = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(ebo, busyRetryAttempts), ctx)

	err := backoff.Retry(func() error {
		j, err := q.tryDequeue(ctx)
		if err != nil {
			if isBusyError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		job = j
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (q *Queue) tryDequeue(ctx context.Context) (*types.Job, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin dequeue: %v", types.ErrStorage, err)
	}
	defer tx.Rollback()

	now := q.now()
	var row jobRow
	err = tx.GetContext(ctx, &row, `
		SELECT id, type, data, status, priority, retry_count, max_retries,
		       scheduled_for, started_at, completed_at, last_error, result,
		       source, root_job_id, metadata, created_at
		FROM jobs
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY priority DESC, scheduled_for ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		now.UnixMilli(),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: dequeue select: %v", types.ErrStorage, err)
	}

	startedAt := now.UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'processing', started_at = $1 WHERE id = $2`,
		startedAt, row.ID,
	); err != nil {
		return nil, fmt.Errorf("%w: dequeue claim: %v", types.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: dequeue commit: %v", types.ErrStorage, err)
	}

	row.Status = string(types.JobStatusProcessing)
	row.StartedAt = sql.NullInt64{Int64: startedAt, Valid: true}
	return row.toJob(), nil
}

// Complete marks the job done, optionally persisting a result document.
func (q *Queue) Complete(ctx context.Context, jobID string, result any) error {
	var resultJSON any
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("%w: marshal result: %v", types.ErrInvalidJobData, err)
		}
		resultJSON = raw
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = $1, result = COALESCE($2, result)
		WHERE id = $3 AND status = 'processing'`,
		q.now().UnixMilli(), resultJSON, jobID,
	)
	if err != nil {
		return fmt.Errorf("%w: complete job: %v", types.ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s not in processing state", types.ErrNotFound, jobID)
	}
	return nil
}

// Fail records a processing failure. With retries remaining the job
// returns to pending with exponential backoff; otherwise it is failed
// terminally.
func (q *Queue) Fail(ctx context.Context, jobID string, jobErr error) error {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin fail: %v", types.ErrStorage, err)
	}
	defer tx.Rollback()

	var row struct {
		RetryCount int `db:"retry_count"`
		MaxRetries int `db:"max_retries"`
	}
	err = tx.GetContext(ctx, &row,
		`SELECT retry_count, max_retries FROM jobs WHERE id = $1 AND status = 'processing' FOR UPDATE`,
		jobID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: job %s not in processing state", types.ErrNotFound, jobID)
		}
		return fmt.Errorf("%w: fail select: %v", types.ErrStorage, err)
	}

	message := "unknown error"
	if jobErr != nil {
		message = jobErr.Error()
	}
	now := q.now()

	if row.RetryCount < row.MaxRetries {
		delay := retryBackoff(row.RetryCount)
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'pending', retry_count = retry_count + 1, last_error = $1,
			    scheduled_for = $2, started_at = NULL
			WHERE id = $3`,
			message, now.Add(delay).UnixMilli(), jobID,
		)
		if err == nil {
			q.logger.Warn("Job failed, retrying",
				zap.String("job_id", jobID),
				zap.Int("retry", row.RetryCount+1),
				zap.Duration("backoff", delay),
				zap.String("error", message),
			)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'failed', completed_at = $1, last_error = $2
			WHERE id = $3`,
			now.UnixMilli(), message, jobID,
		)
		if err == nil {
			q.logger.Error("Job failed permanently",
				zap.String("job_id", jobID),
				zap.Int("retries", row.RetryCount),
				zap.String("error", message),
			)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: fail update: %v", types.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: fail commit: %v", types.ErrStorage, err)
	}
	return nil
}

// GetStatus returns the job row by id.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (*types.Job, error) {
	var row jobRow
	err := q.db.GetContext(ctx, &row, `
		SELECT id, type, data, status, priority, retry_count, max_retries,
		       scheduled_for, started_at, completed_at, last_error, result,
		       source, root_job_id, metadata, created_at
		FROM jobs WHERE id = $1`,
		jobID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: job %s", types.ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("%w: get status: %v", types.ErrStorage, err)
	}
	return row.toJob(), nil
}

// GetStatusByEntity returns jobs whose payload references the entity
// id, newest first.
func (q *Queue) GetStatusByEntity(ctx context.Context, entityID string) ([]*types.Job, error) {
	var rows []jobRow
	err := q.db.SelectContext(ctx, &rows, `
		SELECT id, type, data, status, priority, retry_count, max_retries,
		       scheduled_for, started_at, completed_at, last_error, result,
		       source, root_job_id, metadata, created_at
		FROM jobs WHERE data->>'id' = $1
		ORDER BY created_at DESC`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get status by entity: %v", types.ErrStorage, err)
	}

	jobs := make([]*types.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toJob()
	}
	return jobs, nil
}

// GetStats summarizes the jobs table by status.
func (q *Queue) GetStats(ctx context.Context) (*types.QueueStats, error) {
	stats := &types.QueueStats{}
	rows, err := q.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: queue stats: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%w: queue stats scan: %v", types.ErrStorage, err)
		}
		switch types.JobStatus(status) {
		case types.JobStatusPending:
			stats.Pending = count
		case types.JobStatusProcessing:
			stats.Processing = count
		case types.JobStatusCompleted:
			stats.Completed = count
		case types.JobStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: queue stats rows: %v", types.ErrStorage, err)
	}

	var oldest sql.NullInt64
	if err := q.db.GetContext(ctx, &oldest,
		`SELECT MIN(scheduled_for) FROM jobs WHERE status = 'pending'`,
	); err != nil {
		return nil, fmt.Errorf("%w: queue stats oldest pending: %v", types.ErrStorage, err)
	}
	if oldest.Valid {
		t := time.UnixMilli(oldest.Int64)
		stats.OldestPending = &t
	}

	q.metrics.UpdateQueueDepth(int(stats.Pending))
	return stats, nil
}

// Cleanup deletes completed and failed jobs older than the given age.
// Returns the number of rows removed.
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := q.now().Add(-olderThan).UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed') AND completed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup: %v", types.ErrStorage, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.logger.Info("Cleaned up finished jobs", zap.Int64("removed", n))
	}
	return n, nil
}

// ResetStuckJobs returns jobs stuck in processing longer than the
// threshold to pending. A reset job re-runs from scratch; the sweep
// cannot kill a rogue handler, it only reclaims the row.
func (q *Queue) ResetStuckJobs(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := q.now().Add(-threshold).UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', started_at = NULL
		WHERE status = 'processing' AND started_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: reset stuck jobs: %v", types.ErrStorage, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.metrics.RecordStuckReset(int(n))
		q.logger.Warn("Reset stuck jobs", zap.Int64("count", n))
	}
	return n, nil
}

// RecordProgress persists a handler progress milestone into the job's
// result document. Failures are logged and swallowed; progress is
// advisory.
func (q *Queue) RecordProgress(ctx context.Context, jobID string, done, total int) {
	progress, _ := json.Marshal(map[string]string{
		"progress": fmt.Sprintf("%d/%d", done, total),
	})
	if _, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET result = $1 WHERE id = $2 AND status = 'processing'`,
		progress, jobID,
	); err != nil {
		q.logger.Debug("Failed to record job progress",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}

// retryBackoff computes min(base · 2^retryCount, cap).
func retryBackoff(retryCount int) time.Duration {
	d := retryBackoffBase
	for i := 0; i < retryCount && d < retryBackoffCap; i++ {
		d *= 2
	}
	if d > retryBackoffCap {
		d = retryBackoffCap
	}
	return d
}

// isBusyError reports whether err is a transient lock/serialization
// failure worth retrying.
func isBusyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
