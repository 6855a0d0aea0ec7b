package entity

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-engine/entity-core/pkg/types"
)

func entityCols() []string {
	return []string{"id", "entity_type", "content", "content_hash", "metadata", "created", "updated"}
}

func TestSingletonEnsureCreatesWhenAbsent(t *testing.T) {
	f := newServiceFixture(t)

	f.mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note", "note").
		WillReturnError(sql.ErrNoRows)
	f.mock.ExpectExec("INSERT INTO entities").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewSingleton(f.svc, "note")
	require.NoError(t, s.Ensure(context.Background(), "defaults", nil))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSingletonEnsureExistingIsNoOp(t *testing.T) {
	f := newServiceFixture(t)

	f.mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note", "note").
		WillReturnRows(sqlmock.NewRows(entityCols()).AddRow(
			"note", "note", "existing", types.HashContent("existing"),
			nil, int64(1), int64(2)))

	s := NewSingleton(f.svc, "note")
	require.NoError(t, s.Ensure(context.Background(), "defaults", nil))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSingletonGetCaches(t *testing.T) {
	f := newServiceFixture(t)

	f.mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note", "note").
		WillReturnRows(sqlmock.NewRows(entityCols()).AddRow(
			"note", "note", "cached body", types.HashContent("cached body"),
			nil, int64(1), int64(2)))

	s := NewSingleton(f.svc, "note")

	first, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached body", first.Content)

	// Second read hits the cache: no further query expected.
	second, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSingletonUpdateInvalidatesCache(t *testing.T) {
	f := newServiceFixture(t)

	f.mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note", "note").
		WillReturnRows(sqlmock.NewRows(entityCols()).AddRow(
			"note", "note", "old", types.HashContent("old"),
			nil, int64(1), int64(2)))

	s := NewSingleton(f.svc, "note")
	_, err := s.Get(context.Background())
	require.NoError(t, err)

	f.mock.ExpectExec("UPDATE entities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note", "note").
		WillReturnRows(sqlmock.NewRows(entityCols()).AddRow(
			"note", "note", "new", types.HashContent("new"),
			nil, int64(1), int64(3)))

	require.NoError(t, s.Update(context.Background(), "new", nil))

	f.mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note", "note").
		WillReturnRows(sqlmock.NewRows(entityCols()).AddRow(
			"note", "note", "new", types.HashContent("new"),
			nil, int64(1), int64(3)))

	fresh, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", fresh.Content)
}
