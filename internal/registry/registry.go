// Package registry maintains the runtime catalog of entity types
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/cortex-engine/entity-core/internal/adapter"
	"github.com/cortex-engine/entity-core/pkg/types"
)

// TypeConfig carries per-type behavior toggles.
type TypeConfig struct {
	// Weight multiplies the similarity score of this type in search
	// ranking. Zero is normalized to 1.0.
	Weight float64 `yaml:"weight"`

	// Embeddable controls whether writes enqueue embedding jobs. A
	// non-embeddable type never appears in search results.
	Embeddable bool `yaml:"embeddable"`
}

// DefaultTypeConfig returns the registration defaults.
func DefaultTypeConfig() TypeConfig {
	return TypeConfig{Weight: 1.0, Embeddable: true}
}

type registration struct {
	entityType string
	schema     map[string]any
	compiled   *gojsonschema.Schema
	adapter    adapter.Adapter
	config     TypeConfig
	extensions []map[string]any // frontmatter extensions, registration order
}

// Registry is the process-wide catalog mapping entity types to their
// schema, adapter and configuration. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*registration
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{types: make(map[string]*registration)}
}

// Register adds an entity type. The schema is a JSON-schema object
// validated against full entities at write time; cfg nil takes defaults.
// Duplicate registration fails with ErrAlreadyRegistered.
func (r *Registry) Register(entityType string, schema map[string]any, a adapter.Adapter, cfg *TypeConfig) error {
	if entityType == "" {
		return &types.ValidationError{Field: "entityType", Message: "entity type is required"}
	}
	if a == nil {
		return &types.ValidationError{Field: "adapter", Message: "adapter is required"}
	}

	config := DefaultTypeConfig()
	if cfg != nil {
		config = *cfg
		if config.Weight == 0 {
			config.Weight = 1.0
		}
	}

	var compiled *gojsonschema.Schema
	if schema != nil {
		var err error
		compiled, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return fmt.Errorf("invalid schema for type %q: %w", entityType, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[entityType]; exists {
		return fmt.Errorf("%w: %s", types.ErrAlreadyRegistered, entityType)
	}

	r.types[entityType] = &registration{
		entityType: entityType,
		schema:     schema,
		compiled:   compiled,
		adapter:    a,
		config:     config,
	}
	return nil
}

// ExtendFrontmatter appends an additive frontmatter schema extension
// for the type. Extensions merge over the adapter's base schema in
// registration order; the adapter itself is never mutated.
func (r *Registry) ExtendFrontmatter(entityType string, extension map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.types[entityType]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownType, entityType)
	}
	reg.extensions = append(reg.extensions, extension)
	return nil
}

// GetAdapter returns the adapter for the type.
func (r *Registry) GetAdapter(entityType string) (adapter.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownType, entityType)
	}
	return reg.adapter, nil
}

// GetSchema returns the full entity schema for the type.
func (r *Registry) GetSchema(entityType string) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownType, entityType)
	}
	return reg.schema, nil
}

// GetConfig returns the type configuration.
func (r *Registry) GetConfig(entityType string) (TypeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[entityType]
	if !ok {
		return TypeConfig{}, fmt.Errorf("%w: %s", types.ErrUnknownType, entityType)
	}
	return reg.config, nil
}

// Has reports whether the type is registered.
func (r *Registry) Has(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[entityType]
	return ok
}

// ListTypes returns all registered types in sorted order.
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate runs the full entity schema against the document. The
// document is typically a map built from the entity's fields.
func (r *Registry) Validate(entityType string, document any) error {
	r.mu.RLock()
	reg, ok := r.types[entityType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownType, entityType)
	}
	if reg.compiled == nil {
		return nil
	}

	result, err := reg.compiled.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("schema validation failed for type %q: %w", entityType, err)
	}
	if result.Valid() {
		return nil
	}

	errs := make(types.ValidationErrors, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		errs = append(errs, &types.ValidationError{
			Field:   re.Field(),
			Message: re.Description(),
		})
	}
	return errs
}

// WeightMap returns the per-type search weight multipliers.
func (r *Registry) WeightMap() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]float64, len(r.types))
	for t, reg := range r.types {
		out[t] = reg.config.Weight
	}
	return out
}

// EffectiveFrontmatterSchema composes the adapter's base frontmatter
// schema with all registered extensions, merged in registration order.
// The result is a fresh copy on every call.
func (r *Registry) EffectiveFrontmatterSchema(entityType string) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownType, entityType)
	}

	merged := deepCopyMap(reg.adapter.FrontmatterSchema())
	if merged == nil {
		merged = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	for _, ext := range reg.extensions {
		mergeSchema(merged, ext)
	}
	return merged, nil
}

// Reset removes all registrations. Intended for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = make(map[string]*registration)
}

// deepCopyMap copies nested map[string]any / []any structures.
func deepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// mergeSchema merges src into dst additively. Nested maps merge
// recursively; scalar and list values in src replace dst's.
func mergeSchema(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				mergeSchema(dstMap, srcMap)
				continue
			}
		}
		dst[k] = deepCopyValue(v)
	}
}
