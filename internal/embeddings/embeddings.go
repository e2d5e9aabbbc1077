// Package embeddings abstracts text embedding backends used by the
// semantic memory layer.
package embeddings

import "context"

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for several texts in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	Name() string
	Model() string

	// Dimensions returns the vector width, or 0 when it has not been
	// detected yet.
	Dimensions() int
}
