package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// LocalModel is the model identifier reported by the local provider.
const LocalModel = "local-hash-v1"

// Local generates deterministic embeddings by projecting the content
// hash into vector space. It carries no semantic signal and exists so
// the pipeline runs end to end without an external model; swap in the
// HTTP provider for real embeddings.
type Local struct {
	dimension int
}

// NewLocal creates a local provider with the given dimension.
func NewLocal(dimension int) *Local {
	if dimension <= 0 {
		dimension = 384
	}
	return &Local{dimension: dimension}
}

func (l *Local) Dimension() int { return l.dimension }

func (l *Local) Model() string { return LocalModel }

// Embed derives a unit-length vector from the SHA-256 digest of text.
// Identical text always yields an identical vector.
func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	digest := sha256.Sum256([]byte(text))
	seed := binary.BigEndian.Uint64(digest[:8])

	vec := make([]float32, l.dimension)
	state := seed
	for i := range vec {
		// xorshift64 keeps the expansion deterministic per seed
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		vec[i] = float32(int64(state%2001)-1000) / 1000.0
	}

	normalize(vec)
	return vec, nil
}

// normalize scales vec to unit length in place.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
