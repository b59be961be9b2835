// Package embedding converts chunk texts to fixed-dimension vectors under an
// external rate ceiling.
package embedding

import "context"

// Encoder produces vector embeddings for a small batch of texts in one call
// to the backing service. Implementations accept at most the service's
// per-request instance limit (5 for the Gemini embedding API).
type Encoder interface {
	// Encode returns one vector per input text, in input order.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding dimension.
	Dimensions() int
}
