// Package provider abstracts embedding vector generation
package provider

import "context"

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector dimension this provider produces.
	Dimension() int

	// Model identifies the embedding model, used for cache keying.
	Model() string
}
