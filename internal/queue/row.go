package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cortex-engine/entity-core/pkg/types"
)

// jobRow mirrors the jobs table with SQL-friendly column types.
type jobRow struct {
	ID           string          `db:"id"`
	Type         string          `db:"type"`
	Data         json.RawMessage `db:"data"`
	Status       string          `db:"status"`
	Priority     int             `db:"priority"`
	RetryCount   int             `db:"retry_count"`
	MaxRetries   int             `db:"max_retries"`
	ScheduledFor int64           `db:"scheduled_for"`
	StartedAt    sql.NullInt64   `db:"started_at"`
	CompletedAt  sql.NullInt64   `db:"completed_at"`
	LastError    sql.NullString  `db:"last_error"`
	Result       json.RawMessage `db:"result"`
	Source       sql.NullString  `db:"source"`
	RootJobID    sql.NullString  `db:"root_job_id"`
	Metadata     json.RawMessage `db:"metadata"`
	CreatedAt    int64           `db:"created_at"`
}

func (r *jobRow) toJob() *types.Job {
	job := &types.Job{
		ID:           r.ID,
		Type:         r.Type,
		Data:         r.Data,
		Status:       types.JobStatus(r.Status),
		Priority:     r.Priority,
		RetryCount:   r.RetryCount,
		MaxRetries:   r.MaxRetries,
		ScheduledFor: time.UnixMilli(r.ScheduledFor),
		LastError:    r.LastError.String,
		Result:       r.Result,
		Source:       r.Source.String,
		RootJobID:    r.RootJobID.String,
		Metadata:     r.Metadata,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
	}
	if r.StartedAt.Valid {
		t := time.UnixMilli(r.StartedAt.Int64)
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := time.UnixMilli(r.CompletedAt.Int64)
		job.CompletedAt = &t
	}
	return job
}
