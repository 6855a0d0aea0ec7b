package types

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobTypeEmbedding is the job type handled by the embedding worker.
const JobTypeEmbedding = "embedding"

// Job is a persistent unit of deferred work.
//
// Legal transitions:
//
//	pending → processing            (dequeue)
//	processing → completed          (complete)
//	processing → pending            (fail with retries remaining, or stuck reset)
//	processing → failed             (fail with retries exhausted)
type Job struct {
	ID           string          `json:"id" db:"id"`
	Type         string          `json:"type" db:"type"`
	Data         json.RawMessage `json:"data" db:"data"`
	Status       JobStatus       `json:"status" db:"status"`
	Priority     int             `json:"priority" db:"priority"`
	RetryCount   int             `json:"retryCount" db:"retry_count"`
	MaxRetries   int             `json:"maxRetries" db:"max_retries"`
	ScheduledFor time.Time       `json:"scheduledFor"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	LastError    string          `json:"lastError,omitempty" db:"last_error"`
	Result       json.RawMessage `json:"result,omitempty" db:"result"`
	Source       string          `json:"source,omitempty" db:"source"`
	RootJobID    string          `json:"rootJobId,omitempty" db:"root_job_id"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// EmbeddingOperation distinguishes the write that produced an embedding job.
type EmbeddingOperation string

const (
	EmbeddingOpCreate EmbeddingOperation = "create"
	EmbeddingOpUpdate EmbeddingOperation = "update"
)

// EmbeddingJobData is the payload carried by embedding jobs. It
// deliberately excludes the entity content: the handler re-reads the
// entity and uses ContentHash as the staleness oracle.
type EmbeddingJobData struct {
	EntityID    string             `json:"id"`
	EntityType  string             `json:"entityType"`
	ContentHash string             `json:"contentHash"`
	Operation   EmbeddingOperation `json:"operation"`
}

// Validate checks the payload for required fields and a known operation.
func (d *EmbeddingJobData) Validate() error {
	if d.EntityID == "" {
		return &ValidationError{Field: "id", Message: "entity id is required"}
	}
	if d.EntityType == "" {
		return &ValidationError{Field: "entityType", Message: "entity type is required"}
	}
	if d.ContentHash == "" {
		return &ValidationError{Field: "contentHash", Message: "content hash is required"}
	}
	if d.Operation != EmbeddingOpCreate && d.Operation != EmbeddingOpUpdate {
		return &ValidationError{Field: "operation", Message: "operation must be create or update"}
	}
	return nil
}

// QueueStats summarizes the jobs table.
type QueueStats struct {
	Pending       int64      `json:"pending"`
	Processing    int64      `json:"processing"`
	Completed     int64      `json:"completed"`
	Failed        int64      `json:"failed"`
	OldestPending *time.Time `json:"oldestPending,omitempty"`
}
