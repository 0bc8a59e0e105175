// Package embedders produces text embeddings for vector storage and
// similar-query detection.
package embedders

import "context"

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
