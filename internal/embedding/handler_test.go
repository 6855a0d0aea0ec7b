package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-engine/entity-core/internal/embedding/provider"
	"github.com/cortex-engine/entity-core/internal/events"
	"github.com/cortex-engine/entity-core/pkg/types"
)

type fakeStore struct {
	entities map[types.EntityKey]*types.Entity
	stored   []*types.Embedding
	storeErr error
}

func newFakeStore(entities ...*types.Entity) *fakeStore {
	s := &fakeStore{entities: make(map[types.EntityKey]*types.Entity)}
	for _, e := range entities {
		s.entities[e.Key()] = e
	}
	return s
}

func (s *fakeStore) GetEntityRaw(ctx context.Context, entityType, id string) (*types.Entity, error) {
	e, ok := s.entities[types.EntityKey{ID: id, EntityType: entityType}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", types.ErrNotFound, entityType, id)
	}
	return e, nil
}

func (s *fakeStore) StoreEmbedding(ctx context.Context, emb *types.Embedding) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	s.stored = append(s.stored, emb)
	return nil
}

func jobPayload(t *testing.T, e *types.Entity) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(types.EmbeddingJobData{
		EntityID:    e.ID,
		EntityType:  e.EntityType,
		ContentHash: e.ContentHash,
		Operation:   types.EmbeddingOpCreate,
	})
	require.NoError(t, err)
	return raw
}

func testEntity(id, content string) *types.Entity {
	return &types.Entity{
		ID:          id,
		EntityType:  "note",
		Content:     content,
		ContentHash: types.HashContent(content),
	}
}

func TestHandlerProcessGeneratesEmbedding(t *testing.T) {
	e := testEntity("note-1", "some content worth embedding")
	store := newFakeStore(e)
	bus := events.NewBroadcaster(nil)

	var ready []types.Event
	bus.Subscribe(types.EventEmbeddingReady, func(ev types.Event) { ready = append(ready, ev) })

	h, err := NewHandler(store, provider.NewLocal(8), nil, bus, nil, nil)
	require.NoError(t, err)

	var milestones []string
	progress := func(done, total int) { milestones = append(milestones, fmt.Sprintf("%d/%d", done, total)) }

	require.NoError(t, h.Process(context.Background(), "job-1", jobPayload(t, e), progress))

	require.Len(t, store.stored, 1)
	assert.Equal(t, "note-1", store.stored[0].EntityID)
	assert.Equal(t, e.ContentHash, store.stored[0].ContentHash)
	assert.Len(t, store.stored[0].Embedding, 8)

	assert.Equal(t, []string{"0/2", "1/2", "2/2"}, milestones)

	require.Len(t, ready, 1)
	assert.Equal(t, types.EventEmbeddingReady, ready[0].Type)
	assert.Equal(t, "note-1", ready[0].EntityID)
}

func TestHandlerProcessDeletedEntityIsNoOp(t *testing.T) {
	e := testEntity("gone", "deleted content")
	store := newFakeStore() // entity does not exist

	h, err := NewHandler(store, provider.NewLocal(8), nil, nil, nil, nil)
	require.NoError(t, err)

	// The job completes successfully without a vector.
	require.NoError(t, h.Process(context.Background(), "job-1", jobPayload(t, e), nil))
	assert.Empty(t, store.stored)
}

func TestHandlerProcessStaleJobIsNoOp(t *testing.T) {
	e := testEntity("note-1", "original content")
	payload := jobPayload(t, e)

	// The entity was rewritten after the job was enqueued.
	e.Content = "rewritten content"
	e.ContentHash = types.HashContent(e.Content)
	store := newFakeStore(e)

	h, err := NewHandler(store, provider.NewLocal(8), nil, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, h.Process(context.Background(), "job-1", payload, nil))
	assert.Empty(t, store.stored)
}

func TestHandlerProcessStoreFailure(t *testing.T) {
	e := testEntity("note-1", "content")
	store := newFakeStore(e)
	store.storeErr = errors.New("disk full")

	h, err := NewHandler(store, provider.NewLocal(8), nil, nil, nil, nil)
	require.NoError(t, err)

	err = h.Process(context.Background(), "job-1", jobPayload(t, e), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestHandlerProcessUsesCache(t *testing.T) {
	e := testEntity("note-1", "cached content")
	store := newFakeStore(e)

	cache := NewCache(CacheConfig{}, nil)
	cached := []float32{1, 0, 0, 0}
	cache.Put(provider.LocalModel, e.ContentHash, cached)

	h, err := NewHandler(store, provider.NewLocal(4), cache, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, h.Process(context.Background(), "job-1", jobPayload(t, e), nil))
	require.Len(t, store.stored, 1)
	assert.Equal(t, cached, store.stored[0].Embedding)
}

func TestHandlerValidateAndParse(t *testing.T) {
	h, err := NewHandler(newFakeStore(), provider.NewLocal(8), nil, nil, nil, nil)
	require.NoError(t, err)

	_, err = h.ValidateAndParse([]byte(`{not json`))
	assert.ErrorIs(t, err, types.ErrInvalidJobData)

	_, err = h.ValidateAndParse([]byte(`{"id":"x"}`))
	assert.ErrorIs(t, err, types.ErrInvalidJobData)

	parsed, err := h.ValidateAndParse([]byte(
		`{"id":"x","entityType":"note","contentHash":"abc","operation":"create"}`))
	require.NoError(t, err)
	data, ok := parsed.(*types.EmbeddingJobData)
	require.True(t, ok)
	assert.Equal(t, "x", data.EntityID)
}

func TestHandlerType(t *testing.T) {
	h, err := NewHandler(newFakeStore(), provider.NewLocal(8), nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, types.JobTypeEmbedding, h.Type())
}
