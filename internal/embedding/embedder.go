// Package embedding turns fact text into vectors using a configured provider.
package embedding

import (
	"context"
	"errors"
)

// ErrEmptyEmbedding is returned when a provider answers with a zero-length vector.
var ErrEmptyEmbedding = errors.New("embedding provider returned an empty vector")

// Embedder defines the interface contract for embedding generation services.
type Embedder interface {
	Embed(ctx context.Context, content string) ([]float32, error)
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
	ModelName() string
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
