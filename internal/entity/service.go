package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/internal/events"
	"github.com/cortex-engine/entity-core/internal/metrics"
	"github.com/cortex-engine/entity-core/internal/queue"
	"github.com/cortex-engine/entity-core/internal/registry"
	"github.com/cortex-engine/entity-core/internal/resolver"
	"github.com/cortex-engine/entity-core/internal/search"
	"github.com/cortex-engine/entity-core/pkg/types"
)

// Enqueuer is the queue surface the service uses to schedule embedding
// jobs. *queue.Queue satisfies it; nil disables background embedding.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, data any, opts queue.EnqueueOptions) (string, error)
}

// CreateInput is the payload for CreateEntity. An empty ID gets a
// generated UUID.
type CreateInput struct {
	ID         string         `json:"id,omitempty"`
	EntityType string         `json:"entityType"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// WriteOptions tunes write behavior.
type WriteOptions struct {
	// DeduplicateID resolves id collisions by suffixing instead of
	// failing with a duplicate error.
	DeduplicateID bool `json:"deduplicateId,omitempty"`
}

// WriteResult reports the outcome of a write. JobID is empty for
// non-embeddable types and when no queue is wired.
type WriteResult struct {
	EntityID string `json:"entityId"`
	JobID    string `json:"jobId,omitempty"`
	Created  bool   `json:"created"`
}

// Service is the public facade over the entity store: validated CRUD,
// read-time content resolution, lifecycle events and embedding-job
// scheduling. It is safe for concurrent use.
type Service struct {
	store    *Store
	registry *registry.Registry
	jobs     Enqueuer         // optional
	resolver *resolver.Resolver // optional
	searcher *search.Engine   // optional
	bus      events.Bus       // optional
	logger   *zap.Logger
	metrics  metrics.Metrics
	reserver *idReserver
	now      func() time.Time
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithQueue wires the embedding job queue.
func WithQueue(q Enqueuer) Option {
	return func(s *Service) { s.jobs = q }
}

// WithResolver wires read-time content resolution.
func WithResolver(r *resolver.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// AttachResolver wires content resolution after construction. The
// resolver reads back through the service, so it cannot exist before
// the service does.
func (s *Service) AttachResolver(r *resolver.Resolver) {
	s.resolver = r
}

// AttachSearch wires the search engine after construction.
func (s *Service) AttachSearch(e *search.Engine) {
	s.searcher = e
}

// WithSearch wires the search engine behind Service.Search.
func WithSearch(e *search.Engine) Option {
	return func(s *Service) { s.searcher = e }
}

// WithBus wires lifecycle event broadcasting.
func WithBus(b events.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithMetrics wires metrics recording.
func WithMetrics(m metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the entity service.
func NewService(store *Store, reg *registry.Registry, logger *zap.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:    store,
		registry: reg,
		logger:   logger,
		metrics:  metrics.NewNoOpMetrics(),
		reserver: newIDReserver(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateEntity validates and persists a new entity. The row is
// committed before the entity:created event fires and before the
// embedding job is scheduled.
func (s *Service) CreateEntity(ctx context.Context, input CreateInput, opts WriteOptions) (*WriteResult, error) {
	start := s.now()

	if err := s.validateWrite(input.EntityType, input.Metadata); err != nil {
		s.metrics.RecordWriteError("create", errorType(err))
		return nil, err
	}

	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now()
	e := &types.Entity{
		ID:          id,
		EntityType:  input.EntityType,
		Content:     input.Content,
		ContentHash: types.HashContent(input.Content),
		Metadata:    input.Metadata,
		Created:     now,
		Updated:     now,
	}

	if opts.DeduplicateID && input.ID != "" {
		unlock := s.reserver.lock(dedupKey(input.EntityType, input.ID))
		defer unlock()

		resolved, err := s.resolveUniqueID(ctx, input.EntityType, input.ID)
		if err != nil {
			s.metrics.RecordWriteError("create", errorType(err))
			return nil, err
		}
		e.ID = resolved
	}

	if err := s.store.Insert(ctx, e); err != nil {
		s.metrics.RecordWriteError("create", errorType(err))
		return nil, err
	}
	s.metrics.RecordWrite("create", e.EntityType, time.Since(start))

	events.Publish(ctx, s.bus, types.Event{
		Type:       types.EventEntityCreated,
		EntityType: e.EntityType,
		EntityID:   e.ID,
		Entity:     e,
	})

	jobID, err := s.enqueueEmbedding(ctx, e, types.EmbeddingOpCreate)
	if err != nil {
		return nil, err
	}

	return &WriteResult{EntityID: e.ID, JobID: jobID, Created: true}, nil
}

// UpdateEntity replaces the content and metadata of an existing
// entity. The content hash is recomputed; created is preserved.
func (s *Service) UpdateEntity(ctx context.Context, e *types.Entity) (*WriteResult, error) {
	start := s.now()

	if err := s.validateWrite(e.EntityType, e.Metadata); err != nil {
		s.metrics.RecordWriteError("update", errorType(err))
		return nil, err
	}

	updated := &types.Entity{
		ID:          e.ID,
		EntityType:  e.EntityType,
		Content:     e.Content,
		ContentHash: types.HashContent(e.Content),
		Metadata:    e.Metadata,
		Updated:     s.now(),
	}
	if err := s.store.Update(ctx, updated); err != nil {
		s.metrics.RecordWriteError("update", errorType(err))
		return nil, err
	}
	s.metrics.RecordWrite("update", e.EntityType, time.Since(start))

	// Re-read so the event carries the authoritative row, created
	// timestamp included.
	fresh, err := s.store.Get(ctx, e.EntityType, e.ID)
	if err != nil {
		fresh = updated
	}

	events.Publish(ctx, s.bus, types.Event{
		Type:       types.EventEntityUpdated,
		EntityType: fresh.EntityType,
		EntityID:   fresh.ID,
		Entity:     fresh,
	})

	jobID, err := s.enqueueEmbedding(ctx, fresh, types.EmbeddingOpUpdate)
	if err != nil {
		return nil, err
	}

	return &WriteResult{EntityID: e.ID, JobID: jobID}, nil
}

// UpsertEntity takes exactly one of the create or update paths.
func (s *Service) UpsertEntity(ctx context.Context, e *types.Entity, opts WriteOptions) (*WriteResult, error) {
	exists, err := s.store.Exists(ctx, e.EntityType, e.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return s.UpdateEntity(ctx, e)
	}
	return s.CreateEntity(ctx, CreateInput{
		ID:         e.ID,
		EntityType: e.EntityType,
		Content:    e.Content,
		Metadata:   e.Metadata,
	}, opts)
}

// DeleteEntity removes the entity and, via the cascade, its embedding.
// Returns whether a row existed.
func (s *Service) DeleteEntity(ctx context.Context, entityType, id string) (bool, error) {
	start := s.now()

	removed, err := s.store.Delete(ctx, entityType, id)
	if err != nil {
		s.metrics.RecordWriteError("delete", errorType(err))
		return false, err
	}
	if !removed {
		return false, nil
	}
	s.metrics.RecordWrite("delete", entityType, time.Since(start))

	events.Publish(ctx, s.bus, types.Event{
		Type:       types.EventEntityDeleted,
		EntityType: entityType,
		EntityID:   id,
	})
	return true, nil
}

// GetEntity returns the entity with inline references resolved, unless
// its type is on the resolution blocklist.
func (s *Service) GetEntity(ctx context.Context, entityType, id string) (*types.Entity, error) {
	start := s.now()

	e, err := s.GetEntityRaw(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	if s.resolver != nil && !s.resolver.Blocked(entityType) {
		res, err := s.resolver.Resolve(ctx, e.Content)
		if err == nil {
			e.Content = res.Content
		} else {
			s.logger.Warn("Content resolution failed",
				zap.String("entity_type", entityType),
				zap.String("entity_id", id),
				zap.Error(err),
			)
		}
	}

	s.metrics.RecordRead("get", time.Since(start))
	return e, nil
}

// GetEntityRaw returns the entity exactly as stored, without content
// resolution. The resolver uses this path to avoid recursion.
func (s *Service) GetEntityRaw(ctx context.Context, entityType, id string) (*types.Entity, error) {
	return s.store.Get(ctx, entityType, id)
}

// ListEntities pages through entities of a type.
func (s *Service) ListEntities(ctx context.Context, entityType string, opts ListOptions) ([]*types.Entity, error) {
	start := s.now()
	entities, err := s.store.List(ctx, entityType, opts)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRead("list", time.Since(start))
	return entities, nil
}

// CountEntities counts entities matching the same filters as
// ListEntities.
func (s *Service) CountEntities(ctx context.Context, entityType string, opts ListOptions) (int64, error) {
	start := s.now()
	count, err := s.store.Count(ctx, entityType, opts)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordRead("count", time.Since(start))
	return count, nil
}

// Search answers a similarity query. Requires a wired search engine.
func (s *Service) Search(ctx context.Context, query string, opts search.Options) ([]*search.Result, error) {
	if s.searcher == nil {
		return nil, fmt.Errorf("search engine not configured")
	}
	return s.searcher.Search(ctx, query, opts)
}

// StoreEmbedding upserts an entity's embedding row. Used by the
// embedding job handler; never touches the entities table.
func (s *Service) StoreEmbedding(ctx context.Context, emb *types.Embedding) error {
	return s.store.StoreEmbedding(ctx, emb)
}

// GetEmbedding returns the stored embedding for an entity.
func (s *Service) GetEmbedding(ctx context.Context, entityType, id string) (*types.Embedding, error) {
	return s.store.GetEmbedding(ctx, entityType, id)
}

// ListEmbeddings returns every stored embedding.
func (s *Service) ListEmbeddings(ctx context.Context) ([]*types.Embedding, error) {
	return s.store.ListEmbeddings(ctx)
}

// validateWrite checks the type is registered and the metadata passes
// its schema.
func (s *Service) validateWrite(entityType string, metadata map[string]any) error {
	if !s.registry.Has(entityType) {
		return fmt.Errorf("%w: %s", types.ErrUnknownType, entityType)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return s.registry.Validate(entityType, metadata)
}

// enqueueEmbedding schedules the embedding job for embeddable types.
// The data row is already committed; an enqueue failure surfaces to the
// caller so it can retry via update.
func (s *Service) enqueueEmbedding(ctx context.Context, e *types.Entity, op types.EmbeddingOperation) (string, error) {
	if s.jobs == nil {
		return "", nil
	}
	cfg, err := s.registry.GetConfig(e.EntityType)
	if err != nil || !cfg.Embeddable {
		return "", nil
	}

	jobID, err := s.jobs.Enqueue(ctx, types.JobTypeEmbedding, types.EmbeddingJobData{
		EntityID:    e.ID,
		EntityType:  e.EntityType,
		ContentHash: e.ContentHash,
		Operation:   op,
	}, queue.EnqueueOptions{Source: "entity-service"})
	if err != nil {
		s.logger.Error("Embedding job enqueue failed after committed write",
			zap.String("entity_type", e.EntityType),
			zap.String("entity_id", e.ID),
			zap.Error(err),
		)
		return "", fmt.Errorf("entity %s/%s written but embedding enqueue failed: %w",
			e.EntityType, e.ID, err)
	}
	s.metrics.RecordEnqueue(types.JobTypeEmbedding)
	return jobID, nil
}

func dedupKey(entityType, base string) string {
	return entityType + "/" + base
}

// errorType buckets an error for metrics labels.
func errorType(err error) string {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, types.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, types.ErrSerialization):
		return "serialization"
	case types.IsValidation(err):
		return "validation"
	default:
		return "storage"
	}
}
