package vector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/internal/events"
	"github.com/cortex-engine/entity-core/pkg/types"
)

// EmbeddingSource is the persistence surface the mirror reads from.
// The entity service implements it.
type EmbeddingSource interface {
	GetEmbedding(ctx context.Context, entityType, id string) (*types.Embedding, error)
	ListEmbeddings(ctx context.Context) ([]*types.Embedding, error)
}

// Mirror keeps an Index synchronized with the embeddings table by
// following lifecycle events. It is an optimization layer: the SQL
// search path never depends on it, so losing the mirror only degrades
// related-entity lookups until the next Warm.
type Mirror struct {
	index  *Index
	source EmbeddingSource
	logger *zap.Logger
}

// NewMirror creates a mirror over the index.
func NewMirror(index *Index, source EmbeddingSource, logger *zap.Logger) (*Mirror, error) {
	if index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("embedding source cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{index: index, source: source, logger: logger}, nil
}

// Attach subscribes the mirror to embedding-ready and delete events.
func (m *Mirror) Attach(bus *events.Broadcaster) {
	bus.Subscribe(types.EventEmbeddingReady, m.onEmbeddingReady)
	bus.Subscribe(types.EventEntityDeleted, m.onEntityDeleted)
}

// Warm loads every stored embedding into the index. Call at startup
// before serving related-entity lookups.
func (m *Mirror) Warm(ctx context.Context) error {
	start := time.Now()
	embeddings, err := m.source.ListEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("list embeddings: %w", err)
	}

	loaded := 0
	for _, emb := range embeddings {
		key := types.EntityKey{ID: emb.EntityID, EntityType: emb.EntityType}
		if err := m.index.Insert(ctx, key, emb.Embedding); err != nil {
			m.logger.Warn("Skipping embedding during warm-up",
				zap.String("entity_type", emb.EntityType),
				zap.String("entity_id", emb.EntityID),
				zap.Error(err),
			)
			continue
		}
		loaded++
	}

	m.logger.Info("Vector index warmed",
		zap.Int("loaded", loaded),
		zap.Int("total", len(embeddings)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Related returns up to limit entities nearest to the given entity's
// embedding, excluding the entity itself.
func (m *Mirror) Related(ctx context.Context, entityType, id string, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		limit = 10
	}

	self := types.EntityKey{ID: id, EntityType: entityType}
	vec := m.index.Get(self)
	if vec == nil {
		// Not indexed yet; fall back to the stored embedding.
		emb, err := m.source.GetEmbedding(ctx, entityType, id)
		if err != nil {
			return nil, err
		}
		vec = emb.Embedding
	}

	neighbors, err := m.index.Search(ctx, vec, limit+1)
	if err != nil {
		return nil, err
	}

	results := make([]Neighbor, 0, limit)
	for _, n := range neighbors {
		if n.EntityType == entityType && n.ID == id {
			continue
		}
		results = append(results, n)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (m *Mirror) onEmbeddingReady(event types.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	emb, err := m.source.GetEmbedding(ctx, event.EntityType, event.EntityID)
	if err != nil {
		m.logger.Warn("Mirror could not load fresh embedding",
			zap.String("entity_type", event.EntityType),
			zap.String("entity_id", event.EntityID),
			zap.Error(err),
		)
		return
	}

	key := types.EntityKey{ID: emb.EntityID, EntityType: emb.EntityType}
	if err := m.index.Insert(ctx, key, emb.Embedding); err != nil {
		m.logger.Warn("Mirror index insert failed",
			zap.String("entity_type", emb.EntityType),
			zap.String("entity_id", emb.EntityID),
			zap.Error(err),
		)
	}
}

func (m *Mirror) onEntityDeleted(event types.Event) {
	m.index.Delete(types.EntityKey{ID: event.EntityID, EntityType: event.EntityType})
}
