package search

import "sync"

// OverlayWeights layers mutable overrides on top of a base weight
// source. It backs live weight reloads: the base stays the registry,
// overrides come from configuration.
type OverlayWeights struct {
	base WeightSource

	mu        sync.RWMutex
	overrides map[string]float64
}

// NewOverlayWeights creates an overlay over base. A nil base yields
// only the overrides.
func NewOverlayWeights(base WeightSource, overrides map[string]float64) *OverlayWeights {
	o := &OverlayWeights{base: base}
	o.SetOverrides(overrides)
	return o
}

// SetOverrides atomically replaces the override map.
func (o *OverlayWeights) SetOverrides(overrides map[string]float64) {
	copied := make(map[string]float64, len(overrides))
	for t, w := range overrides {
		copied[t] = w
	}
	o.mu.Lock()
	o.overrides = copied
	o.mu.Unlock()
}

// WeightMap returns the base weights with overrides applied.
func (o *OverlayWeights) WeightMap() map[string]float64 {
	merged := make(map[string]float64)
	if o.base != nil {
		for t, w := range o.base.WeightMap() {
			merged[t] = w
		}
	}
	o.mu.RLock()
	for t, w := range o.overrides {
		merged[t] = w
	}
	o.mu.RUnlock()
	return merged
}
