package entity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-engine/entity-core/internal/adapter"
	"github.com/cortex-engine/entity-core/internal/registry"
	"github.com/cortex-engine/entity-core/pkg/types"
)

func newExportFixture(t *testing.T) (*Exporter, sqlmock.Sqlmock) {
	t.Helper()
	store, mock := newMockStore(t)

	reg := registry.New()
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
	}
	require.NoError(t, reg.Register("note", schema, adapter.NewMarkdownAdapter(schema), nil))

	ex, err := NewExporter(store, reg, nil)
	require.NoError(t, err)
	return ex, mock
}

func TestExportWritesMarkdownThroughAdapter(t *testing.T) {
	ex, mock := newExportFixture(t)

	mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note", DefaultExportPageSize, 0).
		WillReturnRows(sqlmock.NewRows(entityCols()).AddRow(
			"note-1", "note", "# Body", types.HashContent("# Body"),
			[]byte(`{"title":"First","internal":"hidden"}`), int64(1), int64(2)))

	dir := t.TempDir()
	n, err := ex.Export(context.Background(), "note", dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(filepath.Join(dir, "note", "note-1.md"))
	require.NoError(t, err)
	doc := string(data)
	assert.Contains(t, doc, "title: First")
	assert.Contains(t, doc, "# Body")
	// Keys outside the frontmatter schema never render.
	assert.NotContains(t, doc, "hidden")
}

func TestExportAllTypes(t *testing.T) {
	ex, mock := newExportFixture(t)

	// An empty type exports every registered type; only "note" is
	// registered here.
	mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note", DefaultExportPageSize, 0).
		WillReturnRows(sqlmock.NewRows(entityCols()).
			AddRow("a", "note", "x", types.HashContent("x"), nil, int64(1), int64(1)).
			AddRow("b", "note", "y", types.HashContent("y"), nil, int64(1), int64(2)))

	dir := t.TempDir()
	n, err := ex.Export(context.Background(), "", dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.FileExists(t, filepath.Join(dir, "note", "a.md"))
	assert.FileExists(t, filepath.Join(dir, "note", "b.md"))
}

func TestExportUnknownType(t *testing.T) {
	ex, _ := newExportFixture(t)

	_, err := ex.Export(context.Background(), "ghost", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnknownType)
}

func TestExportFileName(t *testing.T) {
	assert.Equal(t, "note-1.md", exportFileName("note-1"))
	assert.Equal(t, "a_b_c.md", exportFileName("a/b\\c"))
	assert.Equal(t, "v1.2_final.md", exportFileName("v1.2 final"))
}

func TestNewExporterValidation(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := NewExporter(nil, registry.New(), nil)
	assert.Error(t, err)

	_, err = NewExporter(store, nil, nil)
	assert.Error(t, err)
}
