package embedding

import (
	"context"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Compile-time interface check
var _ Embedder = (*OpenAI)(nil)

// EmbeddingsService defines the interface for making embedding API calls.
// This abstraction enables testing without calling the real OpenAI API.
type EmbeddingsService interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// OpenAI implements Embedder using OpenAI's embeddings API.
type OpenAI struct {
	embeddings EmbeddingsService
	model      openai.EmbeddingModel
	dimensions int64
}

// OpenAIConfig configures NewOpenAI. Dimensions of zero uses the model default.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// NewOpenAI creates an OpenAI embedder.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{
		embeddings: client.Embeddings,
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: int64(cfg.Dimensions),
	}
}

func (o *OpenAI) params(input []string) openai.EmbeddingNewParams {
	p := openai.EmbeddingNewParams{
		Input: openai.F[openai.EmbeddingNewParamsInputUnion](
			openai.EmbeddingNewParamsInputArrayOfStrings(input),
		),
		Model: openai.F(o.model),
	}
	if o.dimensions > 0 {
		p.Dimensions = openai.F(o.dimensions)
	}
	return p
}

// Embed generates an embedding for one fact.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.embeddings.New(ctx, o.params([]string{text}))
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding generation failed: no data returned")
	}
	if len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	return toFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch generates embeddings for multiple facts in input order.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := o.embeddings.New(ctx, o.params(texts))
	if err != nil {
		return nil, fmt.Errorf("batch embedding generation failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("batch embedding generation failed: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API does not promise response order
	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = toFloat32(data.Embedding)
	}

	return vectors, nil
}

// ModelName returns the embedding model name.
func (o *OpenAI) ModelName() string {
	return string(o.model)
}
