// Package worker runs background maintenance for the knowledge store.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hyperengineering/distill/internal/embedding"
	"github.com/hyperengineering/distill/internal/types"
)

// FactStore defines the store operations needed by the fact retry worker.
type FactStore interface {
	GetPendingFailedFacts(ctx context.Context, limit int) ([]types.FailedFact, error)
	IncrementFailedFactAttempts(ctx context.Context, id, reason string) error
	ResolveFailedFact(ctx context.Context, id string) error
	AbandonFailedFact(ctx context.Context, id string) error
	SaveItem(ctx context.Context, item types.KnowledgeItem) (string, error)
}

// EmbedderResolver maps a provider name to an embedder.
type EmbedderResolver interface {
	Get(provider string) (embedding.Embedder, error)
}

// FactRetryWorker re-embeds and saves facts that failed during ingestion.
// Attempts are persisted with each fact, so a restart does not reset them.
type FactRetryWorker struct {
	store       FactStore
	embedders   EmbedderResolver
	interval    time.Duration
	maxAttempts int
	batchSize   int
}

// NewFactRetryWorker creates a new fact retry worker.
func NewFactRetryWorker(
	s FactStore,
	e EmbedderResolver,
	interval time.Duration,
	maxAttempts int,
	batchSize int,
) *FactRetryWorker {
	return &FactRetryWorker{
		store:       s,
		embedders:   e,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *FactRetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Process immediately on start, then on each tick
	w.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *FactRetryWorker) processPending(ctx context.Context) {
	facts, err := w.store.GetPendingFailedFacts(ctx, w.batchSize)
	if err != nil {
		slog.Error("failed to get pending failed facts",
			"error", err,
			"component", "worker",
		)
		return
	}

	if len(facts) == 0 {
		return
	}

	// Group by provider so each group is one batch call.
	byProvider := make(map[string][]types.FailedFact)
	for _, f := range facts {
		if f.Attempts >= w.maxAttempts {
			w.abandon(ctx, f)
			continue
		}
		byProvider[f.EmbeddingsProvider] = append(byProvider[f.EmbeddingsProvider], f)
	}

	providers := make([]string, 0, len(byProvider))
	for p := range byProvider {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	var resolved int
	for _, provider := range providers {
		resolved += w.retryGroup(ctx, provider, byProvider[provider])
	}

	if resolved > 0 {
		slog.Info("resolved failed facts",
			"action", "fact_retry",
			"count", resolved,
			"component", "worker",
		)
	}
}

// retryGroup retries facts sharing one provider and returns how many were saved.
func (w *FactRetryWorker) retryGroup(ctx context.Context, provider string, facts []types.FailedFact) int {
	embedder, err := w.embedders.Get(provider)
	if err != nil {
		w.failAll(ctx, facts, err)
		return 0
	}

	contents := make([]string, len(facts))
	for i, f := range facts {
		contents[i] = f.Content
	}

	vectors, err := embedder.EmbedBatch(ctx, contents)
	if err != nil {
		slog.Warn("embedding batch failed, will retry",
			"error", err,
			"provider", provider,
			"count", len(facts),
			"component", "worker",
		)
		w.failAll(ctx, facts, err)
		return 0
	}
	if len(vectors) != len(facts) {
		w.failAll(ctx, facts, fmt.Errorf("expected %d embeddings, got %d", len(facts), len(vectors)))
		return 0
	}

	var saved int
	for i, f := range facts {
		if len(vectors[i]) == 0 {
			w.fail(ctx, f, embedding.ErrEmptyEmbedding)
			continue
		}

		_, err := w.store.SaveItem(ctx, types.KnowledgeItem{
			KnowledgeBaseID: f.KnowledgeBaseID,
			OwnerID:         f.OwnerID,
			Content:         f.Content,
			Embedding:       vectors[i],
			EmbeddingModel:  embedder.ModelName(),
			SourceName:      f.SourceName,
			SourceType:      f.SourceType,
			RequestID:       f.RequestID,
		})
		if err != nil {
			slog.Error("failed to save retried fact",
				"fact_id", f.ID,
				"error", err,
				"component", "worker",
			)
			w.fail(ctx, f, err)
			continue
		}

		if err := w.store.ResolveFailedFact(ctx, f.ID); err != nil {
			slog.Error("failed to resolve failed fact",
				"fact_id", f.ID,
				"error", err,
				"component", "worker",
			)
			continue
		}
		saved++
	}
	return saved
}

func (w *FactRetryWorker) failAll(ctx context.Context, facts []types.FailedFact, cause error) {
	for _, f := range facts {
		w.fail(ctx, f, cause)
	}
}

func (w *FactRetryWorker) fail(ctx context.Context, f types.FailedFact, cause error) {
	if err := w.store.IncrementFailedFactAttempts(ctx, f.ID, cause.Error()); err != nil {
		slog.Error("failed to record retry attempt",
			"fact_id", f.ID,
			"error", err,
			"component", "worker",
		)
	}
}

func (w *FactRetryWorker) abandon(ctx context.Context, f types.FailedFact) {
	if err := w.store.AbandonFailedFact(ctx, f.ID); err != nil {
		slog.Error("failed to abandon failed fact",
			"fact_id", f.ID,
			"error", err,
			"component", "worker",
		)
		return
	}

	slog.Error("fact permanently failed",
		"action", "fact_retry",
		"fact_id", f.ID,
		"knowledge_base", f.KnowledgeBaseID,
		"attempts", f.Attempts,
		"component", "worker",
	)
}
