package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-engine/entity-core/internal/adapter"
	"github.com/cortex-engine/entity-core/pkg/types"
)

var noteSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"metadata": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
			},
		},
	},
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	require.NoError(t, r.Register("note", noteSchema, adapter.NewMarkdownAdapter(noteSchema), nil))
	return r
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register("note", noteSchema, adapter.NewMarkdownAdapter(nil), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAlreadyRegistered)
}

func TestRegisterValidation(t *testing.T) {
	r := New()

	err := r.Register("", noteSchema, adapter.NewMarkdownAdapter(nil), nil)
	assert.True(t, types.IsValidation(err))

	err = r.Register("note", noteSchema, nil, nil)
	assert.True(t, types.IsValidation(err))
}

func TestGetConfigDefaults(t *testing.T) {
	r := newTestRegistry(t)

	cfg, err := r.GetConfig("note")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Weight)
	assert.True(t, cfg.Embeddable)

	// Zero weight normalizes to 1.0; Embeddable false is respected.
	require.NoError(t, r.Register("image", nil, adapter.NewMarkdownAdapter(nil), &TypeConfig{Embeddable: false}))
	cfg, err = r.GetConfig("image")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Weight)
	assert.False(t, cfg.Embeddable)
}

func TestUnknownType(t *testing.T) {
	r := New()

	_, err := r.GetAdapter("ghost")
	assert.ErrorIs(t, err, types.ErrUnknownType)
	_, err = r.GetSchema("ghost")
	assert.ErrorIs(t, err, types.ErrUnknownType)
	_, err = r.GetConfig("ghost")
	assert.ErrorIs(t, err, types.ErrUnknownType)
	err = r.ExtendFrontmatter("ghost", map[string]any{})
	assert.ErrorIs(t, err, types.ErrUnknownType)
	assert.False(t, r.Has("ghost"))
}

func TestListTypesSorted(t *testing.T) {
	r := New()
	for _, name := range []string{"zebra", "alpha", "note"} {
		require.NoError(t, r.Register(name, nil, adapter.NewMarkdownAdapter(nil), nil))
	}
	assert.Equal(t, []string{"alpha", "note", "zebra"}, r.ListTypes())
}

func TestValidate(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Validate("note", map[string]any{
		"metadata": map[string]any{"title": "hello"},
	})
	assert.NoError(t, err)

	err = r.Validate("note", map[string]any{
		"metadata": map[string]any{"title": 42},
	})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	// A nil schema admits everything.
	require.NoError(t, r.Register("freeform", nil, adapter.NewMarkdownAdapter(nil), nil))
	assert.NoError(t, r.Validate("freeform", map[string]any{"whatever": true}))
}

func TestWeightMap(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("note", nil, adapter.NewMarkdownAdapter(nil), &TypeConfig{Weight: 1.0, Embeddable: true}))
	require.NoError(t, r.Register("document", nil, adapter.NewMarkdownAdapter(nil), &TypeConfig{Weight: 1.2, Embeddable: true}))

	assert.Equal(t, map[string]float64{"note": 1.0, "document": 1.2}, r.WeightMap())
}

func TestEffectiveFrontmatterSchema(t *testing.T) {
	base := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
	}
	r := New()
	require.NoError(t, r.Register("note", base, adapter.NewMarkdownAdapter(base), nil))

	require.NoError(t, r.ExtendFrontmatter("note", map[string]any{
		"properties": map[string]any{
			"reviewer": map[string]any{"type": "string"},
		},
	}))

	merged, err := r.EffectiveFrontmatterSchema("note")
	require.NoError(t, err)

	props, ok := merged["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "title")
	assert.Contains(t, props, "reviewer")

	// The adapter's base schema is never mutated by extensions.
	baseProps := base["properties"].(map[string]any)
	assert.NotContains(t, baseProps, "reviewer")
}

func TestReset(t *testing.T) {
	r := newTestRegistry(t)
	assert.True(t, r.Has("note"))
	r.Reset()
	assert.False(t, r.Has("note"))
	assert.Empty(t, r.ListTypes())
}
