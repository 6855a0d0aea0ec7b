package entity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/internal/registry"
)

// DefaultExportPageSize is the rows-per-page default for exports.
const DefaultExportPageSize = 200

// Exporter writes entities back out as markdown documents, one file
// per entity, rendered through each type's adapter so the
// schema-listed metadata keys round-trip as frontmatter.
type Exporter struct {
	store    *Store
	registry *registry.Registry
	logger   *zap.Logger
	pageSize int
}

// NewExporter creates an exporter over the store and type catalog.
func NewExporter(store *Store, reg *registry.Registry, logger *zap.Logger) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		store:    store,
		registry: reg,
		logger:   logger,
		pageSize: DefaultExportPageSize,
	}, nil
}

// SetPageSize overrides the rows fetched per page.
func (ex *Exporter) SetPageSize(n int) {
	if n > 0 {
		ex.pageSize = n
	}
}

// Export writes entities of entityType under dir/<type>/<id>.md. An
// empty entityType exports every registered type. Returns the number
// of files written.
func (ex *Exporter) Export(ctx context.Context, entityType, dir string) (int, error) {
	entityTypes := []string{entityType}
	if entityType == "" {
		entityTypes = ex.registry.ListTypes()
	}

	total := 0
	for _, t := range entityTypes {
		n, err := ex.exportType(ctx, t, dir)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (ex *Exporter) exportType(ctx context.Context, entityType, dir string) (int, error) {
	a, err := ex.registry.GetAdapter(entityType)
	if err != nil {
		return 0, err
	}

	typeDir := filepath.Join(dir, entityType)
	if err := os.MkdirAll(typeDir, 0o755); err != nil {
		return 0, fmt.Errorf("create export directory: %w", err)
	}

	written := 0
	for offset := 0; ; offset += ex.pageSize {
		page, err := ex.store.List(ctx, entityType, ListOptions{
			SortFields: []SortField{{Field: "created"}},
			Limit:      ex.pageSize,
			Offset:     offset,
		})
		if err != nil {
			return written, err
		}
		for _, e := range page {
			doc, err := a.ToMarkdown(e)
			if err != nil {
				return written, fmt.Errorf("render %s/%s: %w", entityType, e.ID, err)
			}
			path := filepath.Join(typeDir, exportFileName(e.ID))
			if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
				return written, fmt.Errorf("write %s: %w", path, err)
			}
			written++
		}
		if len(page) < ex.pageSize {
			break
		}
	}

	ex.logger.Debug("Exported entity type",
		zap.String("entity_type", entityType),
		zap.Int("files", written),
	)
	return written, nil
}

// exportFileName maps an id to a filesystem-safe markdown file name.
func exportFileName(id string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
	return safe + ".md"
}
