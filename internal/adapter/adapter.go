// Package adapter converts between structured entities and markdown documents
// with YAML frontmatter.
package adapter

import (
	"github.com/cortex-engine/entity-core/pkg/types"
)

// Parsed is the partial entity recovered from a markdown document.
// Core fields (id, timestamps, hash) are supplied by the store.
type Parsed struct {
	Content  string
	Metadata map[string]any
}

// Adapter is the per-type capability set for markdown conversion.
// An adapter decides which metadata keys live in frontmatter when an
// entity is rendered and recovers them when a document is parsed.
type Adapter interface {
	// ToMarkdown renders the entity as frontmatter plus body.
	ToMarkdown(e *types.Entity) (string, error)

	// FromMarkdown parses a document into body content and metadata.
	// Input without frontmatter is treated entirely as body.
	FromMarkdown(doc string) (*Parsed, error)

	// ExtractMetadata returns the metadata the store should persist
	// for the entity.
	ExtractMetadata(e *types.Entity) map[string]any

	// ParseFrontMatter extracts frontmatter keys permitted by schema.
	ParseFrontMatter(text string, schema map[string]any) (map[string]any, error)

	// GenerateFrontMatter renders the entity's frontmatter block,
	// including the trailing delimiter. Empty when no keys apply.
	GenerateFrontMatter(e *types.Entity) (string, error)

	// FrontmatterSchema returns the adapter's base frontmatter schema
	// (a JSON-schema object). The registry merges extensions on top.
	FrontmatterSchema() map[string]any
}
