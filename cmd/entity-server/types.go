package main

import (
	"fmt"

	"github.com/cortex-engine/entity-core/internal/adapter"
	"github.com/cortex-engine/entity-core/internal/config"
	"github.com/cortex-engine/entity-core/internal/embedding/provider"
	"github.com/cortex-engine/entity-core/internal/registry"
	"github.com/cortex-engine/entity-core/internal/resolver"
)

// noteSchema validates note metadata. Additional keys are admitted;
// the listed ones get shape checks and may appear in frontmatter.
var noteSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":  map[string]any{"type": "string"},
		"tags":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"status": map[string]any{"type": "string", "enum": []any{"draft", "published", "archived"}},
	},
}

var documentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":  map[string]any{"type": "string"},
		"author": map[string]any{"type": "string"},
		"status": map[string]any{"type": "string"},
	},
}

// imageSchema covers image entities, whose content is a data URI
// rather than markdown. They are excluded from embedding and from
// content resolution.
var imageSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"alt":      map[string]any{"type": "string"},
		"mimeType": map[string]any{"type": "string"},
	},
}

// registerBuiltinTypes installs the default type catalog.
func registerBuiltinTypes(reg *registry.Registry) error {
	if err := reg.Register("note", noteSchema, adapter.NewMarkdownAdapter(noteSchema), &registry.TypeConfig{
		Weight:     1.0,
		Embeddable: true,
	}); err != nil {
		return err
	}
	if err := reg.Register("document", documentSchema, adapter.NewMarkdownAdapter(documentSchema), &registry.TypeConfig{
		Weight:     1.2,
		Embeddable: true,
	}); err != nil {
		return err
	}
	return reg.Register(resolver.ImageType, imageSchema, adapter.NewMarkdownAdapter(nil), &registry.TypeConfig{
		Weight:     1.0,
		Embeddable: false,
	})
}

// buildProvider constructs the configured embedding provider.
func buildProvider(cfg config.EmbeddingConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case "local":
		return provider.NewLocal(cfg.Dimension), nil
	case "http":
		httpCfg := cfg.HTTP
		httpCfg.Dimension = cfg.Dimension
		return provider.NewHTTP(httpCfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
