package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/hyperjump/kotaeru/pkg/utils"
)

// MockEncoder is a deterministic encoder for tests and local development. It
// returns a fixed-dimension unit vector derived from the text hash so that
// the same text always gets the same embedding.
type MockEncoder struct {
	dimensions int
}

// NewMockEncoder returns an encoder that produces deterministic embeddings of the given dimensions.
func NewMockEncoder(dimensions int) *MockEncoder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockEncoder{dimensions: dimensions}
}

// Encode returns deterministic embeddings based on each text's hash.
func (e *MockEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

func (e *MockEncoder) embed(text string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := int(h.Sum32() % 100003)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(seed*(i+1)))*0.1 + 0.01)
	}
	// Normalize to unit length so dot product behaves as cosine similarity
	utils.NormalizeL2(emb)
	return emb
}

// Dimensions returns the embedding dimension.
func (e *MockEncoder) Dimensions() int {
	return e.dimensions
}
