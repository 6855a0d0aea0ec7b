// Package types defines the shared data model for the entity store
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entity is the unit of stored knowledge, keyed by (ID, EntityType).
// The same ID may exist under different entity types.
type Entity struct {
	ID          string         `json:"id" db:"id"`
	EntityType  string         `json:"entityType" db:"entity_type"`
	Content     string         `json:"content" db:"content"`
	ContentHash string         `json:"contentHash" db:"content_hash"`
	Metadata    map[string]any `json:"metadata"`
	Created     time.Time      `json:"created"`
	Updated     time.Time      `json:"updated"`
}

// Key returns the composite primary key for the entity.
func (e *Entity) Key() EntityKey {
	return EntityKey{ID: e.ID, EntityType: e.EntityType}
}

// EntityKey identifies an entity row.
type EntityKey struct {
	ID         string `json:"id"`
	EntityType string `json:"entityType"`
}

// Embedding is the vector representation of an entity's content.
// It is authoritative only while ContentHash matches the entity's
// current content hash.
type Embedding struct {
	EntityID    string    `json:"entityId" db:"entity_id"`
	EntityType  string    `json:"entityType" db:"entity_type"`
	Embedding   []float32 `json:"embedding"`
	ContentHash string    `json:"contentHash" db:"content_hash"`
}

// HashContent computes the canonical content hash: the hex-encoded
// SHA-256 digest of the content string. The store always recomputes
// this at write time; caller-supplied hashes are never trusted.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
