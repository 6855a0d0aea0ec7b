package adapter

import (
	"github.com/cortex-engine/entity-core/pkg/types"
)

// MarkdownAdapter is the shared default Adapter. Its frontmatter schema
// decides which metadata keys are rendered into frontmatter; all other
// metadata stays in the metadata column only.
type MarkdownAdapter struct {
	schema map[string]any
}

// NewMarkdownAdapter creates an adapter with the given base frontmatter
// schema (a JSON-schema object; may be nil for body-only types).
func NewMarkdownAdapter(frontmatterSchema map[string]any) *MarkdownAdapter {
	return &MarkdownAdapter{schema: frontmatterSchema}
}

// FrontmatterSchema returns the adapter's base frontmatter schema.
func (a *MarkdownAdapter) FrontmatterSchema() map[string]any {
	return a.schema
}

// ToMarkdown renders frontmatter (from metadata keys in the schema)
// followed by the entity body.
func (a *MarkdownAdapter) ToMarkdown(e *types.Entity) (string, error) {
	fm, err := a.GenerateFrontMatter(e)
	if err != nil {
		return "", err
	}
	if fm == "" {
		return e.Content, nil
	}
	return fm + "\n" + e.Content, nil
}

// FromMarkdown parses a document into body and frontmatter metadata.
func (a *MarkdownAdapter) FromMarkdown(doc string) (*Parsed, error) {
	raw, body, found, err := SplitFrontmatter(doc)
	if err != nil {
		return nil, err
	}
	if !found {
		return &Parsed{Content: body, Metadata: map[string]any{}}, nil
	}

	meta, err := a.ParseFrontMatter(raw, a.schema)
	if err != nil {
		return nil, err
	}
	return &Parsed{Content: body, Metadata: meta}, nil
}

// ExtractMetadata returns a copy of the entity metadata.
func (a *MarkdownAdapter) ExtractMetadata(e *types.Entity) map[string]any {
	out := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		out[k] = v
	}
	return out
}

// ParseFrontMatter decodes a frontmatter block and filters it to the
// keys the schema enumerates. A nil schema admits every key.
func (a *MarkdownAdapter) ParseFrontMatter(text string, schema map[string]any) (map[string]any, error) {
	decoded, err := decodeFrontmatter(text)
	if err != nil {
		return nil, err
	}

	props := schemaProperties(schema)
	if props == nil {
		return decoded, nil
	}

	out := make(map[string]any, len(decoded))
	for k, v := range decoded {
		if _, ok := props[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// GenerateFrontMatter renders the entity's frontmatter block from the
// metadata keys the schema enumerates.
func (a *MarkdownAdapter) GenerateFrontMatter(e *types.Entity) (string, error) {
	props := schemaProperties(a.schema)

	var values map[string]any
	if props == nil {
		values = e.Metadata
	} else {
		values = make(map[string]any, len(props))
		for k := range props {
			if v, ok := e.Metadata[k]; ok {
				values[k] = v
			}
		}
	}

	return encodeFrontmatter(values)
}
