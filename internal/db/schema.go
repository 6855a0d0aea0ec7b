// Package db provides database access, schema constants and migration management
package db

// Table names as constants for type safety
const (
	TableEntities   = "entities"
	TableEmbeddings = "embeddings"
	TableJobs       = "jobs"
)

// Column names for compile-time checking
const (
	// entities columns
	ColID          = "id"
	ColEntityType  = "entity_type"
	ColContent     = "content"
	ColContentHash = "content_hash"
	ColMetadata    = "metadata"
	ColCreated     = "created"
	ColUpdated     = "updated"

	// embeddings columns
	ColEntityID  = "entity_id"
	ColEmbedding = "embedding"

	// jobs columns
	ColJobType      = "type"
	ColData         = "data"
	ColStatus       = "status"
	ColPriority     = "priority"
	ColRetryCount   = "retry_count"
	ColMaxRetries   = "max_retries"
	ColScheduledFor = "scheduled_for"
	ColStartedAt    = "started_at"
	ColCompletedAt  = "completed_at"
	ColLastError    = "last_error"
	ColResult       = "result"
	ColSource       = "source"
	ColRootJobID    = "root_job_id"
	ColCreatedAt    = "created_at"
)

// EmbeddingDim is the fixed dimension of the embedding vector column.
// Changing it requires a migration that rebuilds the embeddings table.
const EmbeddingDim = 384
