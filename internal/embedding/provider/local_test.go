package provider

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedDeterministic(t *testing.T) {
	p := NewLocal(384)

	a, err := p.Embed(context.Background(), "the same text")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "the same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := p.Embed(context.Background(), "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestLocalEmbedUnitLength(t *testing.T) {
	p := NewLocal(64)
	vec, err := p.Embed(context.Background(), "normalize me")
	require.NoError(t, err)
	require.Len(t, vec, 64)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestLocalDefaults(t *testing.T) {
	p := NewLocal(0)
	assert.Equal(t, 384, p.Dimension())
	assert.Equal(t, LocalModel, p.Model())
}
