package entity

import (
	"context"
	"errors"
	"sync"

	"github.com/cortex-engine/entity-core/pkg/types"
)

// Singleton manages a type modeled as a single well-known row whose id
// equals the entity type. Ensure creates the row if absent; Get serves
// a cached copy invalidated on write.
type Singleton struct {
	svc        *Service
	entityType string

	mu     sync.Mutex
	cached *types.Entity
}

// NewSingleton creates a singleton helper for the type.
func NewSingleton(svc *Service, entityType string) *Singleton {
	return &Singleton{svc: svc, entityType: entityType}
}

// Ensure creates the row with the given defaults when it does not
// exist yet. Call once at startup.
func (s *Singleton) Ensure(ctx context.Context, content string, metadata map[string]any) error {
	_, err := s.svc.GetEntityRaw(ctx, s.entityType, s.entityType)
	if err == nil {
		return nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	_, err = s.svc.CreateEntity(ctx, CreateInput{
		ID:         s.entityType,
		EntityType: s.entityType,
		Content:    content,
		Metadata:   metadata,
	}, WriteOptions{})
	if errors.Is(err, types.ErrDuplicate) {
		// Another starter won the race; the row exists.
		return nil
	}
	return err
}

// Get returns the singleton row, cached after the first read.
func (s *Singleton) Get(ctx context.Context) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached, nil
	}
	e, err := s.svc.GetEntity(ctx, s.entityType, s.entityType)
	if err != nil {
		return nil, err
	}
	s.cached = e
	return e, nil
}

// Update rewrites the singleton row and refreshes the cache.
func (s *Singleton) Update(ctx context.Context, content string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.svc.UpdateEntity(ctx, &types.Entity{
		ID:         s.entityType,
		EntityType: s.entityType,
		Content:    content,
		Metadata:   metadata,
	})
	if err != nil {
		return err
	}
	s.cached = nil
	return nil
}

// Invalidate drops the cached copy.
func (s *Singleton) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
