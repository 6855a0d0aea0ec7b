// Package resolver expands inline entity references at read time
package resolver

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/pkg/types"
)

// imageRefPattern matches inline markdown image references of the form
// ![alt](entity://image/{id}).
var imageRefPattern = regexp.MustCompile(`!\[([^\]]*)\]\(entity://image/([^)\s]+)\)`)

// ImageType is the entity type image references point at. It is also
// on the recursion blocklist: image entities are never resolved
// themselves, since their content is the data URI payload.
const ImageType = "image"

// DefaultBlocklist lists entity types whose content is returned
// unresolved to avoid re-entering the resolution pipeline.
var DefaultBlocklist = map[string]struct{}{ImageType: {}}

// RawGetter fetches entities without content resolution. The entity
// service implements this with its raw read path.
type RawGetter interface {
	GetEntityRaw(ctx context.Context, entityType, id string) (*types.Entity, error)
}

// Result carries resolved content and resolution counters.
type Result struct {
	Content       string
	ResolvedCount int
	FailedCount   int
}

// Resolver rewrites entity://image references into inline data URIs.
type Resolver struct {
	getter RawGetter
	logger *zap.Logger
}

// New creates a resolver over the raw entity read path.
func New(getter RawGetter, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{getter: getter, logger: logger}
}

// Blocked reports whether the type is on the recursion blocklist.
func (r *Resolver) Blocked(entityType string) bool {
	_, blocked := DefaultBlocklist[entityType]
	return blocked
}

// Resolve expands every image reference in content. Each referenced id
// is fetched once per call; unresolved references are left in place
// and counted.
func (r *Resolver) Resolve(ctx context.Context, content string) (*Result, error) {
	matches := imageRefPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return &Result{Content: content}, nil
	}

	// Batch-deduplicate: one fetch per referenced id.
	resolved := make(map[string]string)
	failed := make(map[string]struct{})
	for _, m := range matches {
		id := m[2]
		if _, done := resolved[id]; done {
			continue
		}
		if _, done := failed[id]; done {
			continue
		}

		entity, err := r.getter.GetEntityRaw(ctx, ImageType, id)
		if err != nil || entity == nil {
			if err != nil {
				r.logger.Warn("Image reference lookup failed",
					zap.String("image_id", id),
					zap.Error(err),
				)
			}
			failed[id] = struct{}{}
			continue
		}
		resolved[id] = entity.Content
	}

	result := &Result{}
	result.Content = imageRefPattern.ReplaceAllStringFunc(content, func(ref string) string {
		m := imageRefPattern.FindStringSubmatch(ref)
		alt, id := m[1], m[2]

		uri, ok := resolved[id]
		if !ok {
			result.FailedCount++
			return ref
		}
		result.ResolvedCount++

		var b strings.Builder
		b.WriteString("![")
		b.WriteString(alt)
		b.WriteString("](")
		b.WriteString(uri)
		b.WriteString(")")
		return b.String()
	})

	return result, nil
}
