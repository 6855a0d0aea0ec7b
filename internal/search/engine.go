// Package search implements weighted vector similarity search over entities
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/internal/db"
	"github.com/cortex-engine/entity-core/internal/embedding/provider"
	"github.com/cortex-engine/entity-core/internal/metrics"
	"github.com/cortex-engine/entity-core/pkg/types"
)

const (
	// DefaultLimit bounds result sets when the caller does not set one.
	DefaultLimit = 10
	// MaxLimit is the hard ceiling on a single page.
	MaxLimit = 100
	// excerptLength is the target size of result excerpts in runes.
	excerptLength = 200
)

// WeightSource supplies per-type score multipliers. The registry
// implements it; types absent from the map score at 1.0.
type WeightSource interface {
	WeightMap() map[string]float64
}

// Options narrows and pages a search.
type Options struct {
	Types        []string           `json:"types,omitempty"`        // empty = all types
	ExcludeTypes []string           `json:"excludeTypes,omitempty"` // removed after type filtering
	Weights      map[string]float64 `json:"weights,omitempty"`      // per-call override of registry weights
	Limit        int                `json:"limit,omitempty"`
	Offset       int                `json:"offset,omitempty"`
	MinScore     float64            `json:"minScore,omitempty"` // floor on weighted score
}

// Result is one search hit. Score is the weighted ranking value
// (1 - distance/2) * weight(type).
type Result struct {
	Entity  types.Entity `json:"entity"`
	Score   float64      `json:"score"`
	Excerpt string       `json:"excerpt"`
}

// Engine answers similarity queries with a single SQL statement that
// joins entities to their embeddings. The join condition on
// content_hash excludes stale embeddings without any bookkeeping: a
// rewritten entity simply drops out of results until its new embedding
// lands, and entities without an embedding row never appear at all.
type Engine struct {
	db       *sqlx.DB
	provider provider.Provider
	weights  WeightSource
	logger   *zap.Logger
	metrics  metrics.Metrics
}

// NewEngine creates a search engine.
func NewEngine(database *sqlx.DB, p provider.Provider, weights WeightSource, logger *zap.Logger, m metrics.Metrics) (*Engine, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
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
	return &Engine{
		db:       database,
		provider: p,
		weights:  weights,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Search embeds the query text and returns the best-scoring entities.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &types.ValidationError{Field: "query", Message: "query cannot be empty"}
	}

	start := time.Now()

	vec, err := e.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding failed: %v", types.ErrIndex, err)
	}

	results, err := e.searchByVector(ctx, vec, query, opts)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordSearch(time.Since(start), len(results))
	e.logger.Debug("Search completed",
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
	)
	return results, nil
}

// SearchByVector runs the similarity query against a pre-computed
// vector. Excerpts fall back to the content prefix.
func (e *Engine) SearchByVector(ctx context.Context, vec []float32, opts Options) ([]*Result, error) {
	return e.searchByVector(ctx, vec, "", opts)
}

func (e *Engine) searchByVector(ctx context.Context, vec []float32, query string, opts Options) ([]*Result, error) {
	if len(vec) != db.EmbeddingDim {
		return nil, fmt.Errorf("query vector dimension mismatch: got %d, want %d", len(vec), db.EmbeddingDim)
	}
	opts = normalizeOptions(opts)

	sqlText, args := e.buildQuery(db.Vector(vec), opts)

	rows, err := e.db.QueryxContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search query failed: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var row searchRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("%w: search scan failed: %v", types.ErrStorage, err)
		}
		result, err := row.toResult(query)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search iteration failed: %v", types.ErrStorage, err)
	}
	return results, nil
}

// buildQuery assembles the single-statement search. Scoring, staleness
// filtering, type weighting and pagination all happen in SQL. Ties on
// weighted_score break on id ascending for deterministic pages.
func (e *Engine) buildQuery(vec db.Vector, opts Options) (string, []any) {
	args := []any{vec}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	weightExpr := e.buildWeightExpr(opts.Weights, arg)
	scoreExpr := "(1 - (emb.embedding <=> $1::vector) / 2) * " + weightExpr

	var b strings.Builder
	b.WriteString(`SELECT e.id, e.entity_type, e.content, e.content_hash, e.metadata,
       e.created, e.updated, `)
	b.WriteString(scoreExpr)
	b.WriteString(` AS weighted_score
FROM entities e
INNER JOIN embeddings emb
        ON emb.entity_id = e.id
       AND emb.entity_type = e.entity_type
       AND emb.content_hash = e.content_hash
WHERE (emb.embedding <=> $1::vector) < 1.0`)

	if len(opts.Types) > 0 {
		b.WriteString(" AND e.entity_type = ANY(")
		b.WriteString(arg(pq.Array(opts.Types)))
		b.WriteString(")")
	}
	if len(opts.ExcludeTypes) > 0 {
		b.WriteString(" AND e.entity_type <> ALL(")
		b.WriteString(arg(pq.Array(opts.ExcludeTypes)))
		b.WriteString(")")
	}
	if opts.MinScore > 0 {
		b.WriteString(" AND ")
		b.WriteString(scoreExpr)
		b.WriteString(" >= ")
		b.WriteString(arg(opts.MinScore))
	}

	b.WriteString(" ORDER BY weighted_score DESC, e.id ASC")
	b.WriteString(" LIMIT ")
	b.WriteString(arg(opts.Limit))
	b.WriteString(" OFFSET ")
	b.WriteString(arg(opts.Offset))

	return b.String(), args
}

// buildWeightExpr renders the per-type multiplier as a CASE expression.
// Call-level weights override registry weights per type.
func (e *Engine) buildWeightExpr(overrides map[string]float64, arg func(any) string) string {
	merged := make(map[string]float64)
	if e.weights != nil {
		for t, w := range e.weights.WeightMap() {
			merged[t] = w
		}
	}
	for t, w := range overrides {
		merged[t] = w
	}
	if len(merged) == 0 {
		return "1.0"
	}

	// Deterministic clause order keeps the generated SQL stable.
	entityTypes := make([]string, 0, len(merged))
	for t := range merged {
		entityTypes = append(entityTypes, t)
	}
	sort.Strings(entityTypes)

	var b strings.Builder
	b.WriteString("(CASE e.entity_type")
	for _, t := range entityTypes {
		b.WriteString(" WHEN ")
		b.WriteString(arg(t))
		b.WriteString(" THEN ")
		b.WriteString(arg(merged[t]))
		b.WriteString("::float8")
	}
	b.WriteString(" ELSE 1.0 END)")
	return b.String()
}

func normalizeOptions(opts Options) Options {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Limit > MaxLimit {
		opts.Limit = MaxLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

type searchRow struct {
	ID            string          `db:"id"`
	EntityType    string          `db:"entity_type"`
	Content       string          `db:"content"`
	ContentHash   string          `db:"content_hash"`
	Metadata      json.RawMessage `db:"metadata"`
	Created       int64           `db:"created"`
	Updated       int64           `db:"updated"`
	WeightedScore float64         `db:"weighted_score"`
}

func (r *searchRow) toResult(query string) (*Result, error) {
	var metadata map[string]any
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata decode failed for %s/%s: %v",
				types.ErrSerialization, r.EntityType, r.ID, err)
		}
	}
	return &Result{
		Entity: types.Entity{
			ID:          r.ID,
			EntityType:  r.EntityType,
			Content:     r.Content,
			ContentHash: r.ContentHash,
			Metadata:    metadata,
			Created:     time.UnixMilli(r.Created),
			Updated:     time.UnixMilli(r.Updated),
		},
		Score:   r.WeightedScore,
		Excerpt: Excerpt(r.Content, query, excerptLength),
	}, nil
}

// Excerpt returns a window of roughly maxRunes runes centered on the
// first case-insensitive occurrence of query, with ellipses marking
// truncation. Without a match the content prefix is used.
func Excerpt(content, query string, maxRunes int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return content
	}

	center := 0
	if query != "" {
		if idx := strings.Index(strings.ToLower(content), strings.ToLower(query)); idx >= 0 {
			center = len([]rune(content[:idx]))
		}
	}

	start := center - maxRunes/2
	if start < 0 {
		start = 0
	}
	end := start + maxRunes
	if end > len(runes) {
		end = len(runes)
		start = end - maxRunes
	}

	excerpt := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		excerpt = "…" + excerpt
	}
	if end < len(runes) {
		excerpt += "…"
	}
	return excerpt
}
