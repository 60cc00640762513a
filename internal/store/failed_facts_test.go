package store

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperengineering/distill/internal/types"
)

func testFailedFact(content string) types.FailedFact {
	return types.FailedFact{
		KnowledgeBaseID:    "kb-1",
		OwnerID:            "owner-1",
		Content:            content,
		SourceName:         "notes.md",
		SourceType:         types.SourceText,
		EmbeddingsProvider: "openai",
		RequestID:          "req-1",
		Reason:             "embedding generation failed: timeout",
	}
}

func TestFailedFacts_Lifecycle(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	id1, err := db.RecordFailedFact(ctx, testFailedFact("one"))
	if err != nil {
		t.Fatalf("RecordFailedFact() error = %v", err)
	}
	id2, err := db.RecordFailedFact(ctx, testFailedFact("two"))
	if err != nil {
		t.Fatalf("RecordFailedFact() error = %v", err)
	}

	pending, err := db.GetPendingFailedFacts(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingFailedFacts() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].Status != types.FailedFactPending || pending[0].Attempts != 0 {
		t.Errorf("pending[0] = %+v", pending[0])
	}
	if pending[0].EmbeddingsProvider != "openai" || pending[0].SourceType != types.SourceText {
		t.Errorf("provenance lost: %+v", pending[0])
	}

	if err := db.IncrementFailedFactAttempts(ctx, id1, "still down"); err != nil {
		t.Fatalf("IncrementFailedFactAttempts() error = %v", err)
	}
	if err := db.ResolveFailedFact(ctx, id2); err != nil {
		t.Fatalf("ResolveFailedFact() error = %v", err)
	}

	pending, _ = db.GetPendingFailedFacts(ctx, 10)
	if len(pending) != 1 || pending[0].ID != id1 {
		t.Fatalf("pending after resolve = %+v", pending)
	}
	if pending[0].Attempts != 1 || pending[0].Reason != "still down" {
		t.Errorf("attempts/reason = %d/%q", pending[0].Attempts, pending[0].Reason)
	}

	if err := db.AbandonFailedFact(ctx, id1); err != nil {
		t.Fatalf("AbandonFailedFact() error = %v", err)
	}
	pending, _ = db.GetPendingFailedFacts(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("pending after abandon = %d, want 0", len(pending))
	}
}

func TestFailedFacts_Limit(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	for _, c := range []string{"a", "b", "c"} {
		if _, err := db.RecordFailedFact(ctx, testFailedFact(c)); err != nil {
			t.Fatalf("RecordFailedFact() error = %v", err)
		}
	}

	pending, err := db.GetPendingFailedFacts(ctx, 2)
	if err != nil {
		t.Fatalf("GetPendingFailedFacts() error = %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}

	stats, _ := db.GetStats(ctx)
	if stats.PendingFailedFacts != 3 {
		t.Errorf("PendingFailedFacts = %d, want 3", stats.PendingFailedFacts)
	}
}

func TestFailedFacts_UnknownID(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	if err := db.ResolveFailedFact(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveFailedFact() error = %v, want ErrNotFound", err)
	}
	if err := db.IncrementFailedFactAttempts(ctx, "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("IncrementFailedFactAttempts() error = %v, want ErrNotFound", err)
	}
}
