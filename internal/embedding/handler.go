package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/internal/embedding/provider"
	"github.com/cortex-engine/entity-core/internal/events"
	"github.com/cortex-engine/entity-core/internal/metrics"
	"github.com/cortex-engine/entity-core/internal/queue"
	"github.com/cortex-engine/entity-core/pkg/types"
)

// Store is the entity persistence surface the handler needs: the raw
// read path for liveness/staleness checks and the embedding write path.
type Store interface {
	GetEntityRaw(ctx context.Context, entityType, id string) (*types.Entity, error)
	StoreEmbedding(ctx context.Context, emb *types.Embedding) error
}

// Handler processes embedding jobs from the queue. Jobs for deleted or
// since-rewritten entities complete successfully without generating a
// vector: the delete cascade and the follow-up job cover those cases.
type Handler struct {
	store    Store
	provider provider.Provider
	cache    *Cache // optional
	bus      events.Bus
	logger   *zap.Logger
	metrics  metrics.Metrics
}

// NewHandler creates the embedding job handler.
func NewHandler(store Store, p provider.Provider, cache *Cache, bus events.Bus, logger *zap.Logger, m metrics.Metrics) (*Handler, error) {
	if store == nil {
		return nil, fmt.Errorf("entity store cannot be nil")
	}
	if p == nil {
		return nil, fmt.Errorf("embedding provider cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Handler{
		store:    store,
		provider: p,
		cache:    cache,
		bus:      bus,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Type returns the job type this handler owns.
func (h *Handler) Type() string {
	return types.JobTypeEmbedding
}

// ValidateAndParse gates enqueue: only well-formed embedding payloads
// reach the queue.
func (h *Handler) ValidateAndParse(data json.RawMessage) (any, error) {
	var parsed types.EmbeddingJobData
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidJobData, err)
	}
	if err := parsed.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidJobData, err)
	}
	return &parsed, nil
}

// Process generates and stores the embedding for the referenced entity.
func (h *Handler) Process(ctx context.Context, jobID string, data json.RawMessage, progress queue.ProgressFunc) error {
	start := time.Now()

	parsed, err := h.ValidateAndParse(data)
	if err != nil {
		return err
	}
	job := parsed.(*types.EmbeddingJobData)

	if progress != nil {
		progress(0, 2)
	}

	// Liveness: the entity may have been deleted since enqueue.
	entity, err := h.store.GetEntityRaw(ctx, job.EntityType, job.EntityID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			h.metrics.RecordEmbedding("missing", time.Since(start))
			h.logger.Debug("Skipping embedding for deleted entity",
				zap.String("entity_type", job.EntityType),
				zap.String("entity_id", job.EntityID),
			)
			return nil
		}
		return fmt.Errorf("entity lookup failed: %w", err)
	}

	// Staleness: content changed since enqueue means a newer job is in
	// flight for the current hash.
	if entity.ContentHash != job.ContentHash {
		h.metrics.RecordEmbedding("stale", time.Since(start))
		h.logger.Debug("Skipping stale embedding job",
			zap.String("entity_type", job.EntityType),
			zap.String("entity_id", job.EntityID),
		)
		return nil
	}

	vec := h.lookupCache(entity.ContentHash)
	if vec == nil {
		vec, err = h.provider.Embed(ctx, entity.Content)
		if err != nil {
			h.metrics.RecordEmbedding("failed", time.Since(start))
			return fmt.Errorf("embedding generation failed: %w", err)
		}
		if h.cache != nil {
			h.cache.Put(h.provider.Model(), entity.ContentHash, vec)
		}
	}

	if progress != nil {
		progress(1, 2)
	}

	emb := &types.Embedding{
		EntityID:    entity.ID,
		EntityType:  entity.EntityType,
		Embedding:   vec,
		ContentHash: entity.ContentHash,
	}
	if err := h.store.StoreEmbedding(ctx, emb); err != nil {
		h.metrics.RecordEmbedding("failed", time.Since(start))
		return fmt.Errorf("embedding store failed: %w", err)
	}

	if progress != nil {
		progress(2, 2)
	}
	h.metrics.RecordEmbedding("generated", time.Since(start))

	events.Publish(ctx, h.bus, types.Event{
		Type:       types.EventEmbeddingReady,
		EntityType: entity.EntityType,
		EntityID:   entity.ID,
		Entity:     entity,
	})

	return nil
}

// OnError logs exhausted or failed embedding jobs.
func (h *Handler) OnError(_ context.Context, jobID string, err error) {
	h.logger.Warn("Embedding job failed",
		zap.String("job_id", jobID),
		zap.Error(err),
	)
}

func (h *Handler) lookupCache(contentHash string) []float32 {
	if h.cache == nil {
		return nil
	}
	return h.cache.Get(h.provider.Model(), contentHash)
}
