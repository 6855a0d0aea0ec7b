package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheGetPut(t *testing.T) {
	c := NewCache(CacheConfig{MaxEntries: 4}, nil)

	assert.Nil(t, c.Get("model-a", "hash-1"))

	vec := []float32{0.1, 0.2}
	c.Put("model-a", "hash-1", vec)
	assert.Equal(t, vec, c.Get("model-a", "hash-1"))

	// The same hash under a different model is a different key.
	assert.Nil(t, c.Get("model-b", "hash-1"))
}

func TestCacheIgnoresEmptyVectors(t *testing.T) {
	c := NewCache(CacheConfig{MaxEntries: 4}, nil)
	c.Put("model-a", "hash-1", nil)
	c.Put("model-a", "hash-2", []float32{})
	assert.Zero(t, c.Len())
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(CacheConfig{MaxEntries: 2}, nil)

	c.Put("m", "h1", []float32{1})
	c.Put("m", "h2", []float32{2})
	c.Put("m", "h3", []float32{3})

	assert.Equal(t, 2, c.Len())
	assert.Nil(t, c.Get("m", "h1")) // oldest evicted
	assert.NotNil(t, c.Get("m", "h3"))
}

func TestCachePurge(t *testing.T) {
	c := NewCache(CacheConfig{MaxEntries: 4}, nil)
	c.Put("m", "h1", []float32{1})
	c.Purge()
	assert.Zero(t, c.Len())
}
