package store

import (
	"context"

	"github.com/hyperengineering/distill/internal/types"
)

// Store defines the interface contract for knowledge persistence.
type Store interface {
	// SaveItem persists one fact with its embedding and returns its ID.
	SaveItem(ctx context.Context, item types.KnowledgeItem) (string, error)
	GetItem(ctx context.Context, id string) (*types.KnowledgeItem, error)
	ListItems(ctx context.Context, filter types.ItemFilter) ([]types.KnowledgeItem, error)
	CountItems(ctx context.Context, knowledgeBaseID string) (int64, error)
	GetStats(ctx context.Context) (*types.StoreStats, error)

	// Failed fact bookkeeping for the retry worker.
	RecordFailedFact(ctx context.Context, fact types.FailedFact) (string, error)
	GetPendingFailedFacts(ctx context.Context, limit int) ([]types.FailedFact, error)
	IncrementFailedFactAttempts(ctx context.Context, id, reason string) error
	ResolveFailedFact(ctx context.Context, id string) error
	AbandonFailedFact(ctx context.Context, id string) error

	Close() error
}
