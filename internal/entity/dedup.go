package entity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/cortex-engine/entity-core/pkg/types"
)

// dedupScanLimit caps the sequential suffix scan before falling back
// to a random token.
const dedupScanLimit = 100

// idReserver serializes deduplicating creates per base id so two
// concurrent callers on the same base never resolve to the same id.
// The entities primary key remains the backstop for races across
// processes.
type idReserver struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newIDReserver() *idReserver {
	return &idReserver{locks: make(map[string]*sync.Mutex)}
}

func (r *idReserver) lock(base string) func() {
	r.mu.Lock()
	l, ok := r.locks[base]
	if !ok {
		l = &sync.Mutex{}
		r.locks[base] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// resolveUniqueID finds the first free id in the sequence
// base, base-2, ..., base-100, then base-<random token>. Caller must
// hold the per-base reservation lock.
func (s *Service) resolveUniqueID(ctx context.Context, entityType, base string) (string, error) {
	candidate := base
	for i := 1; i <= dedupScanLimit; i++ {
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		taken, err := s.store.Exists(ctx, entityType, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	token, err := randomToken(8)
	if err != nil {
		return "", fmt.Errorf("%w: id token generation failed: %v", types.ErrStorage, err)
	}
	return base + "-" + token, nil
}

func randomToken(length int) (string, error) {
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:length], nil
}
