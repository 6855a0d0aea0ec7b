package entity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultListLimit applies when the caller sets no limit.
	DefaultListLimit = 50
	// MaxListLimit is the hard ceiling on a single page.
	MaxListLimit = 500
)

// SortField orders a listing by a system column (id, created, updated)
// or, for any other name, a metadata JSON path (dots descend).
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// ListOptions filters and pages entity listings.
type ListOptions struct {
	SortFields      []SortField    `json:"sortFields,omitempty"` // default: updated desc
	MetadataFilters map[string]any `json:"metadataFilters,omitempty"`
	PublishedOnly   bool           `json:"publishedOnly,omitempty"`
	Limit           int            `json:"limit,omitempty"`
	Offset          int            `json:"offset,omitempty"`
}

func (o ListOptions) normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if len(o.SortFields) == 0 {
		o.SortFields = []SortField{{Field: "updated", Desc: true}}
	}
	return o
}

// fieldNamePattern bounds what may appear in a sort or filter key.
// Anything else is dropped rather than interpolated into SQL.
var fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

var systemColumns = map[string]string{
	"id":      "id",
	"created": "created",
	"updated": "updated",
}

// buildListQuery renders the listing (or count) statement. Sort keys
// and metadata filter keys are validated against fieldNamePattern and
// rendered as JSON path expressions; values travel as parameters.
func buildListQuery(entityType string, opts ListOptions, count bool) (string, []any) {
	args := []any{entityType}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var b strings.Builder
	if count {
		b.WriteString("SELECT COUNT(*) FROM entities WHERE entity_type = $1")
	} else {
		b.WriteString(`SELECT id, entity_type, content, content_hash, metadata, created, updated
FROM entities WHERE entity_type = $1`)
	}

	for _, f := range sortedFilterKeys(opts.MetadataFilters) {
		expr, ok := metadataPathExpr(f)
		if !ok {
			continue
		}
		b.WriteString(" AND ")
		b.WriteString(expr)
		b.WriteString(" = ")
		b.WriteString(arg(fmt.Sprintf("%v", opts.MetadataFilters[f])))
	}

	if opts.PublishedOnly {
		b.WriteString(" AND (metadata->>'status' = 'published' OR metadata->>'status' IS NULL)")
	}

	if count {
		return b.String(), args
	}

	b.WriteString(" ORDER BY ")
	wrote := false
	for _, sf := range opts.SortFields {
		expr := sortExpr(sf.Field)
		if expr == "" {
			continue
		}
		if wrote {
			b.WriteString(", ")
		}
		b.WriteString(expr)
		if sf.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
		wrote = true
	}
	if !wrote {
		b.WriteString("updated DESC")
	}
	// id keeps pagination stable across equal sort values
	b.WriteString(", id ASC")

	b.WriteString(" LIMIT ")
	b.WriteString(arg(opts.Limit))
	b.WriteString(" OFFSET ")
	b.WriteString(arg(opts.Offset))

	return b.String(), args
}

// sortExpr maps a sort field name to a SQL expression, or "" when the
// name is unsafe.
func sortExpr(field string) string {
	if col, ok := systemColumns[field]; ok {
		return col
	}
	expr, ok := metadataPathExpr(field)
	if !ok {
		return ""
	}
	return expr
}

// metadataPathExpr renders a metadata key (dots descend into nested
// objects) as a JSONB text extraction.
func metadataPathExpr(field string) (string, bool) {
	if !fieldNamePattern.MatchString(field) {
		return "", false
	}
	parts := strings.Split(field, ".")
	if len(parts) == 1 {
		return fmt.Sprintf("metadata->>'%s'", parts[0]), true
	}
	return fmt.Sprintf("metadata#>>'{%s}'", strings.Join(parts, ",")), true
}

// sortedFilterKeys returns filter keys in deterministic order so the
// generated SQL is stable.
func sortedFilterKeys(filters map[string]any) []string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
