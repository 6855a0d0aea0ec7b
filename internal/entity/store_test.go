package entity

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-engine/entity-core/internal/db"
	"github.com/cortex-engine/entity-core/pkg/types"
)

var fixedNow = time.UnixMilli(1700000000000)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	store, err := NewStore(sqlx.NewDb(mockDB, "postgres"))
	require.NoError(t, err)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func storedEntity(id string) *types.Entity {
	content := "content of " + id
	return &types.Entity{
		ID:          id,
		EntityType:  "note",
		Content:     content,
		ContentHash: types.HashContent(content),
		Metadata:    map[string]any{"title": id},
		Created:     fixedNow,
		Updated:     fixedNow,
	}
}

func TestStoreInsert(t *testing.T) {
	store, mock := newMockStore(t)
	e := storedEntity("note-1")

	mock.ExpectExec("INSERT INTO entities").
		WithArgs(e.ID, e.EntityType, e.Content, e.ContentHash, sqlmock.AnyArg(),
			fixedNow.UnixMilli(), fixedNow.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Insert(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInsertDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO entities").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Insert(context.Background(), storedEntity("note-1"))
	assert.ErrorIs(t, err, types.ErrDuplicate)
}

func TestStoreUpdateNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE entities").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), storedEntity("ghost"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStoreGet(t *testing.T) {
	store, mock := newMockStore(t)

	cols := []string{"id", "entity_type", "content", "content_hash", "metadata", "created", "updated"}
	mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note-1", "note").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"note-1", "note", "hello", types.HashContent("hello"),
			[]byte(`{"title":"Hello"}`), fixedNow.UnixMilli(), fixedNow.UnixMilli()))

	e, err := store.Get(context.Background(), "note", "note-1")
	require.NoError(t, err)
	assert.Equal(t, "note-1", e.ID)
	assert.Equal(t, "hello", e.Content)
	assert.Equal(t, "Hello", e.Metadata["title"])
	assert.Equal(t, fixedNow.UnixMilli(), e.Created.UnixMilli())
}

func TestStoreGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("ghost", "note").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "note", "ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStoreExists(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("note-1", "note").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.Exists(context.Background(), "note", "note-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStoreDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM entities").
		WithArgs("note-1", "note").
		WillReturnResult(sqlmock.NewResult(0, 1))

	removed, err := store.Delete(context.Background(), "note", "note-1")
	require.NoError(t, err)
	assert.True(t, removed)

	mock.ExpectExec("DELETE FROM entities").
		WithArgs("ghost", "note").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err = store.Delete(context.Background(), "note", "ghost")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStoreList(t *testing.T) {
	store, mock := newMockStore(t)

	cols := []string{"id", "entity_type", "content", "content_hash", "metadata", "created", "updated"}
	mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note", DefaultListLimit, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("b", "note", "x", types.HashContent("x"), nil, int64(1), int64(2)).
			AddRow("a", "note", "y", types.HashContent("y"), nil, int64(1), int64(1)))

	entities, err := store.List(context.Background(), "note", ListOptions{})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "b", entities[0].ID)
}

func TestStoreCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM entities`).
		WithArgs("note").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := store.Count(context.Background(), "note", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestStoreEmbeddingDimensionCheck(t *testing.T) {
	store, _ := newMockStore(t)

	err := store.StoreEmbedding(context.Background(), &types.Embedding{
		EntityID:   "note-1",
		EntityType: "note",
		Embedding:  []float32{1, 2, 3},
	})
	assert.ErrorIs(t, err, types.ErrIndex)
}

func TestStoreEmbeddingUpsert(t *testing.T) {
	store, mock := newMockStore(t)

	emb := &types.Embedding{
		EntityID:    "note-1",
		EntityType:  "note",
		Embedding:   make([]float32, db.EmbeddingDim),
		ContentHash: types.HashContent("x"),
	}

	mock.ExpectExec("INSERT INTO embeddings").
		WithArgs("note-1", "note", sqlmock.AnyArg(), emb.ContentHash).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.StoreEmbedding(context.Background(), emb))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreEmbeddingMissingEntity(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO embeddings").
		WillReturnError(&pq.Error{Code: "23503"})

	err := store.StoreEmbedding(context.Background(), &types.Embedding{
		EntityID:   "ghost",
		EntityType: "note",
		Embedding:  make([]float32, db.EmbeddingDim),
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStoreGetEmbedding(t *testing.T) {
	store, mock := newMockStore(t)

	cols := []string{"entity_id", "entity_type", "embedding", "content_hash"}
	mock.ExpectQuery("SELECT entity_id, entity_type, embedding").
		WithArgs("note-1", "note").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"note-1", "note", "[0.5,0.25]", "hash"))

	emb, err := store.GetEmbedding(context.Background(), "note", "note-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, emb.Embedding)

	mock.ExpectQuery("SELECT entity_id, entity_type, embedding").
		WithArgs("ghost", "note").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetEmbedding(context.Background(), "note", "ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
