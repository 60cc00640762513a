package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Compile-time interface check
var _ Embedder = (*Local)(nil)

// DocumentEmbedder is the subset of langchaingo's embeddings.Embedder used here.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Local implements Embedder against a locally hosted Ollama model.
type Local struct {
	embedder DocumentEmbedder
	model    string
}

// NewLocal creates an embedder for the Ollama model served at host.
func NewLocal(model, host string) (*Local, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if host != "" {
		opts = append(opts, ollama.WithServerURL(host))
	}
	client, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return &Local{embedder: emb, model: model}, nil
}

// Embed generates an embedding for one fact.
func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := l.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple facts in input order.
func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	vectors, err := l.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		slog.Warn("local embedding failed",
			"model", l.model,
			"count", len(texts),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("local embedding generation failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("local embedding generation failed: expected %d embeddings, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}

// ModelName returns the embedding model name.
func (l *Local) ModelName() string {
	return l.model
}
