// Package entity implements the entity service facade over the SQL store
package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cortex-engine/entity-core/internal/db"
	"github.com/cortex-engine/entity-core/pkg/types"
)

// Store is the SQL persistence layer for entities and embeddings.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a store over the database.
func NewStore(database *sqlx.DB) (*Store, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	return &Store{db: database, now: time.Now}, nil
}

type entityRow struct {
	ID          string          `db:"id"`
	EntityType  string          `db:"entity_type"`
	Content     string          `db:"content"`
	ContentHash string          `db:"content_hash"`
	Metadata    json.RawMessage `db:"metadata"`
	Created     int64           `db:"created"`
	Updated     int64           `db:"updated"`
}

func (r *entityRow) toEntity() (*types.Entity, error) {
	var metadata map[string]any
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata decode failed for %s/%s: %v",
				types.ErrSerialization, r.EntityType, r.ID, err)
		}
	}
	return &types.Entity{
		ID:          r.ID,
		EntityType:  r.EntityType,
		Content:     r.Content,
		ContentHash: r.ContentHash,
		Metadata:    metadata,
		Created:     time.UnixMilli(r.Created),
		Updated:     time.UnixMilli(r.Updated),
	}, nil
}

func marshalMetadata(metadata map[string]any) (json.RawMessage, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata encode failed: %v", types.ErrSerialization, err)
	}
	return raw, nil
}

// Insert writes a new entity row. A primary-key collision surfaces as
// ErrDuplicate.
func (s *Store) Insert(ctx context.Context, e *types.Entity) error {
	metadata, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, entity_type, content, content_hash, metadata, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.EntityType, e.Content, e.ContentHash, metadata,
		e.Created.UnixMilli(), e.Updated.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: entity %s/%s already exists", types.ErrDuplicate, e.EntityType, e.ID)
		}
		return fmt.Errorf("%w: entity insert failed: %v", types.ErrStorage, err)
	}
	return nil
}

// Update replaces the mutable columns of an existing row. The created
// timestamp is never touched.
func (s *Store) Update(ctx context.Context, e *types.Entity) error {
	metadata, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE entities
		   SET content = $3, content_hash = $4, metadata = $5, updated = $6
		 WHERE id = $1 AND entity_type = $2`,
		e.ID, e.EntityType, e.Content, e.ContentHash, metadata, e.Updated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%w: entity update failed: %v", types.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: entity update failed: %v", types.ErrStorage, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entity %s/%s", types.ErrNotFound, e.EntityType, e.ID)
	}
	return nil
}

// Get fetches one entity row.
func (s *Store) Get(ctx context.Context, entityType, id string) (*types.Entity, error) {
	var row entityRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, entity_type, content, content_hash, metadata, created, updated
		  FROM entities
		 WHERE id = $1 AND entity_type = $2`,
		id, entityType,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: entity %s/%s", types.ErrNotFound, entityType, id)
		}
		return nil, fmt.Errorf("%w: entity fetch failed: %v", types.ErrStorage, err)
	}
	return row.toEntity()
}

// Exists reports whether the (id, entityType) row is present.
func (s *Store) Exists(ctx context.Context, entityType, id string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1 AND entity_type = $2)`,
		id, entityType,
	)
	if err != nil {
		return false, fmt.Errorf("%w: entity existence check failed: %v", types.ErrStorage, err)
	}
	return exists, nil
}

// Delete removes the entity row; the embeddings row goes with it via
// the foreign-key cascade. Returns whether a row was removed.
func (s *Store) Delete(ctx context.Context, entityType, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM entities WHERE id = $1 AND entity_type = $2`,
		id, entityType,
	)
	if err != nil {
		return false, fmt.Errorf("%w: entity delete failed: %v", types.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: entity delete failed: %v", types.ErrStorage, err)
	}
	return affected > 0, nil
}

// List returns entities of a type per the list options.
func (s *Store) List(ctx context.Context, entityType string, opts ListOptions) ([]*types.Entity, error) {
	opts = opts.normalize()

	sqlText, args := buildListQuery(entityType, opts, false)
	rows, err := s.db.QueryxContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: entity list failed: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	var entities []*types.Entity
	for rows.Next() {
		var row entityRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("%w: entity scan failed: %v", types.ErrStorage, err)
		}
		e, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: entity list failed: %v", types.ErrStorage, err)
	}
	return entities, nil
}

// Count returns the number of rows matching the same filters List uses.
func (s *Store) Count(ctx context.Context, entityType string, opts ListOptions) (int64, error) {
	sqlText, args := buildListQuery(entityType, opts.normalize(), true)
	var count int64
	if err := s.db.GetContext(ctx, &count, sqlText, args...); err != nil {
		return 0, fmt.Errorf("%w: entity count failed: %v", types.ErrStorage, err)
	}
	return count, nil
}

// StoreEmbedding upserts the embedding row keyed by (entity_id,
// entity_type). It never touches the entities table.
func (s *Store) StoreEmbedding(ctx context.Context, emb *types.Embedding) error {
	if len(emb.Embedding) != db.EmbeddingDim {
		return fmt.Errorf("%w: embedding dimension mismatch: got %d, want %d",
			types.ErrIndex, len(emb.Embedding), db.EmbeddingDim)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (entity_id, entity_type, embedding, content_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id, entity_type)
		DO UPDATE SET embedding = EXCLUDED.embedding, content_hash = EXCLUDED.content_hash`,
		emb.EntityID, emb.EntityType, db.Vector(emb.Embedding), emb.ContentHash,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: entity %s/%s", types.ErrNotFound, emb.EntityType, emb.EntityID)
		}
		return fmt.Errorf("%w: embedding upsert failed: %v", types.ErrStorage, err)
	}
	return nil
}

type embeddingRow struct {
	EntityID    string    `db:"entity_id"`
	EntityType  string    `db:"entity_type"`
	Embedding   db.Vector `db:"embedding"`
	ContentHash string    `db:"content_hash"`
}

func (r *embeddingRow) toEmbedding() *types.Embedding {
	return &types.Embedding{
		EntityID:    r.EntityID,
		EntityType:  r.EntityType,
		Embedding:   r.Embedding,
		ContentHash: r.ContentHash,
	}
}

// GetEmbedding fetches the embedding row for an entity.
func (s *Store) GetEmbedding(ctx context.Context, entityType, id string) (*types.Embedding, error) {
	var row embeddingRow
	err := s.db.GetContext(ctx, &row, `
		SELECT entity_id, entity_type, embedding, content_hash
		  FROM embeddings
		 WHERE entity_id = $1 AND entity_type = $2`,
		id, entityType,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: embedding %s/%s", types.ErrNotFound, entityType, id)
		}
		return nil, fmt.Errorf("%w: embedding fetch failed: %v", types.ErrStorage, err)
	}
	return row.toEmbedding(), nil
}

// ListEmbeddings returns every stored embedding, for index warm-up.
func (s *Store) ListEmbeddings(ctx context.Context) ([]*types.Embedding, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT entity_id, entity_type, embedding, content_hash FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding list failed: %v", types.ErrStorage, err)
	}
	defer rows.Close()

	var embeddings []*types.Embedding
	for rows.Next() {
		var row embeddingRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("%w: embedding scan failed: %v", types.ErrStorage, err)
		}
		embeddings = append(embeddings, row.toEmbedding())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: embedding list failed: %v", types.ErrStorage, err)
	}
	return embeddings, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
