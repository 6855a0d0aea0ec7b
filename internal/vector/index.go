// Package vector provides an in-process HNSW index for related-entity lookups
package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fogfish/hnsw"
	hnswvector "github.com/kshard/vector"

	"github.com/cortex-engine/entity-core/pkg/types"
)

// Config tunes the HNSW graph.
type Config struct {
	M              int `yaml:"m"`               // default 16
	EfConstruction int `yaml:"ef_construction"` // default 200
	EfSearch       int `yaml:"ef_search"`       // default 50
}

// DefaultConfig returns the default HNSW parameters.
func DefaultConfig() Config {
	return Config{M: 16, EfConstruction: 200, EfSearch: 50}
}

// Neighbor is one approximate nearest neighbor.
type Neighbor struct {
	EntityType string  `json:"entityType"`
	ID         string  `json:"id"`
	Score      float32 `json:"score"` // cosine similarity of query and neighbor
}

// Stats summarizes the index.
type Stats struct {
	Vectors    int       `json:"vectors"`
	Dimension  int       `json:"dimension"`
	LastInsert time.Time `json:"lastInsert,omitempty"`
}

// Index is an in-memory approximate nearest neighbor index over entity
// embeddings. The graph does not support removal, so Delete only
// unregisters the key; deleted vectors stay in the graph and are
// filtered out of results. Rebuild periodically if churn is heavy.
type Index struct {
	dimension int
	efSearch  int
	index     *hnsw.HNSW[[]float32]

	mu         sync.RWMutex
	byKey      map[types.EntityKey][]float32
	keyByPrint map[string]types.EntityKey
	lastInsert time.Time
}

// NewIndex creates an empty index for vectors of the given dimension.
func NewIndex(dimension int, cfg Config) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	d := DefaultConfig()
	if cfg.M <= 0 {
		cfg.M = d.M
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = d.EfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = d.EfSearch
	}

	cosine := hnswvector.Cosine()
	surface := hnswvector.Surface[[]float32]{
		Distance: func(a, b []float32) float32 {
			return cosine.Distance(hnswvector.F32(a), hnswvector.F32(b))
		},
		Equal: func(a, b []float32) bool {
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
	}

	idx := hnsw.New[[]float32](
		surface,
		hnsw.WithM(cfg.M),
		hnsw.WithM0(cfg.M*2),
		hnsw.WithEfConstruction(cfg.EfConstruction),
	)

	return &Index{
		dimension:  dimension,
		efSearch:   cfg.EfSearch,
		index:      idx,
		byKey:      make(map[types.EntityKey][]float32),
		keyByPrint: make(map[string]types.EntityKey),
	}, nil
}

// Insert adds or replaces the vector for an entity key.
func (x *Index) Insert(ctx context.Context, key types.EntityKey, vec []float32) error {
	if len(vec) != x.dimension {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), x.dimension)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	x.mu.Lock()
	if old, ok := x.byKey[key]; ok {
		delete(x.keyByPrint, fingerprint(old))
	}
	x.byKey[key] = vec
	x.keyByPrint[fingerprint(vec)] = key
	x.lastInsert = time.Now()
	x.mu.Unlock()

	x.index.Insert(vec)
	return nil
}

// Delete unregisters an entity key. The vector stays in the graph but
// no longer resolves to a result.
func (x *Index) Delete(key types.EntityKey) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if vec, ok := x.byKey[key]; ok {
		delete(x.keyByPrint, fingerprint(vec))
		delete(x.byKey, key)
	}
}

// Get returns the indexed vector for a key, or nil.
func (x *Index) Get(key types.EntityKey) []float32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.byKey[key]
}

// Search returns up to k registered neighbors nearest to query,
// ordered best first.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != x.dimension {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), x.dimension)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Over-fetch to survive graph entries whose keys were deleted.
	candidates := x.index.Search(query, k*2, x.efSearch)

	x.mu.RLock()
	defer x.mu.RUnlock()

	results := make([]Neighbor, 0, k)
	seen := make(map[types.EntityKey]struct{}, k)
	for _, vec := range candidates {
		key, ok := x.keyByPrint[fingerprint(vec)]
		if !ok {
			continue // deleted or replaced
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		results = append(results, Neighbor{
			EntityType: key.EntityType,
			ID:         key.ID,
			Score:      cosineSimilarity(query, vec),
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Stats returns current index statistics.
func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Stats{
		Vectors:    len(x.byKey),
		Dimension:  x.dimension,
		LastInsert: x.lastInsert,
	}
}

// fingerprint renders a vector's exact bytes for reverse lookup.
func fingerprint(vec []float32) string {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return string(buf)
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
