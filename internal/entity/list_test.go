package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOptionsNormalize(t *testing.T) {
	opts := ListOptions{}.normalize()
	assert.Equal(t, DefaultListLimit, opts.Limit)
	assert.Zero(t, opts.Offset)
	assert.Equal(t, []SortField{{Field: "updated", Desc: true}}, opts.SortFields)

	opts = ListOptions{Limit: 9999, Offset: -1}.normalize()
	assert.Equal(t, MaxListLimit, opts.Limit)
	assert.Zero(t, opts.Offset)
}

func TestBuildListQueryDefaults(t *testing.T) {
	sqlText, args := buildListQuery("note", ListOptions{}.normalize(), false)

	assert.Contains(t, sqlText, "FROM entities WHERE entity_type = $1")
	assert.Contains(t, sqlText, "ORDER BY updated DESC, id ASC")
	assert.Contains(t, sqlText, "LIMIT $2 OFFSET $3")
	assert.Equal(t, []any{"note", DefaultListLimit, 0}, args)
}

func TestBuildListQueryMetadataFilters(t *testing.T) {
	opts := ListOptions{
		MetadataFilters: map[string]any{
			"status":      "published",
			"author.name": "ada",
		},
	}.normalize()

	sqlText, args := buildListQuery("note", opts, false)

	// Filter keys come out sorted, values are parameterized.
	assert.Contains(t, sqlText, "metadata#>>'{author,name}' = $2")
	assert.Contains(t, sqlText, "metadata->>'status' = $3")
	assert.Equal(t, "ada", args[1])
	assert.Equal(t, "published", args[2])
}

func TestBuildListQueryDropsUnsafeKeys(t *testing.T) {
	opts := ListOptions{
		MetadataFilters: map[string]any{
			"good_key":            "kept",
			"bad'key; DROP TABLE": "dropped",
		},
		SortFields: []SortField{{Field: "x'; --"}},
	}.normalize()

	sqlText, args := buildListQuery("note", opts, false)

	assert.Contains(t, sqlText, "metadata->>'good_key'")
	assert.NotContains(t, sqlText, "DROP TABLE")
	assert.NotContains(t, sqlText, "--")
	// Unsafe sort falls back to the default ordering.
	assert.Contains(t, sqlText, "ORDER BY updated DESC, id ASC")
	assert.Len(t, args, 4) // type, filter value, limit, offset
}

func TestBuildListQueryPublishedOnly(t *testing.T) {
	sqlText, _ := buildListQuery("note", ListOptions{PublishedOnly: true}.normalize(), false)
	assert.Contains(t, sqlText,
		"(metadata->>'status' = 'published' OR metadata->>'status' IS NULL)")
}

func TestBuildListQuerySortFields(t *testing.T) {
	opts := ListOptions{
		SortFields: []SortField{
			{Field: "created", Desc: true},
			{Field: "title"},
		},
	}.normalize()

	sqlText, _ := buildListQuery("note", opts, false)
	assert.Contains(t, sqlText, "ORDER BY created DESC, metadata->>'title' ASC, id ASC")
}

func TestBuildListQueryCount(t *testing.T) {
	opts := ListOptions{PublishedOnly: true}.normalize()
	sqlText, args := buildListQuery("note", opts, true)

	assert.Contains(t, sqlText, "SELECT COUNT(*) FROM entities WHERE entity_type = $1")
	assert.NotContains(t, sqlText, "ORDER BY")
	assert.NotContains(t, sqlText, "LIMIT")
	assert.Equal(t, []any{"note"}, args)
}

func TestMetadataPathExpr(t *testing.T) {
	expr, ok := metadataPathExpr("title")
	require.True(t, ok)
	assert.Equal(t, "metadata->>'title'", expr)

	expr, ok = metadataPathExpr("a.b.c")
	require.True(t, ok)
	assert.Equal(t, "metadata#>>'{a,b,c}'", expr)

	_, ok = metadataPathExpr("bad'key")
	assert.False(t, ok)
	_, ok = metadataPathExpr("")
	assert.False(t, ok)
}
