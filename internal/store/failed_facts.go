package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/distill/internal/types"
	"github.com/oklog/ulid/v2"
)

// RecordFailedFact stores a fact that could not be embedded or written.
func (s *SQLiteStore) RecordFailedFact(ctx context.Context, fact types.FailedFact) (string, error) {
	if fact.ID == "" {
		fact.ID = ulid.Make().String()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_facts (
			id, knowledge_base_id, owner_id, content, source_name, source_type,
			embeddings_provider, request_id, reason, attempts, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 'pending', ?, ?)
	`,
		fact.ID,
		fact.KnowledgeBaseID,
		fact.OwnerID,
		fact.Content,
		fact.SourceName,
		string(fact.SourceType),
		fact.EmbeddingsProvider,
		fact.RequestID,
		fact.Reason,
		now,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("insert failed fact: %w", err)
	}
	return fact.ID, nil
}

// GetPendingFailedFacts returns up to limit pending failed facts, oldest first.
func (s *SQLiteStore) GetPendingFailedFacts(ctx context.Context, limit int) ([]types.FailedFact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, knowledge_base_id, owner_id, content, source_name, source_type,
		       embeddings_provider, request_id, reason, attempts, status, created_at, updated_at
		FROM failed_facts
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed facts: %w", err)
	}
	defer rows.Close()

	var facts []types.FailedFact
	for rows.Next() {
		var f types.FailedFact
		var sourceType, status, createdAt, updatedAt string
		if err := rows.Scan(
			&f.ID,
			&f.KnowledgeBaseID,
			&f.OwnerID,
			&f.Content,
			&f.SourceName,
			&sourceType,
			&f.EmbeddingsProvider,
			&f.RequestID,
			&f.Reason,
			&f.Attempts,
			&status,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		f.SourceType = types.SourceType(sourceType)
		f.Status = types.FailedFactStatus(status)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			f.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			f.UpdatedAt = t
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return facts, nil
}

// IncrementFailedFactAttempts records one more failed retry.
func (s *SQLiteStore) IncrementFailedFactAttempts(ctx context.Context, id, reason string) error {
	return s.updateFailedFact(ctx, `
		UPDATE failed_facts SET attempts = attempts + 1, reason = ?, updated_at = ?
		WHERE id = ?
	`, reason, id)
}

// ResolveFailedFact marks a failed fact as saved.
func (s *SQLiteStore) ResolveFailedFact(ctx context.Context, id string) error {
	return s.setFailedFactStatus(ctx, id, types.FailedFactResolved)
}

// AbandonFailedFact stops retrying a failed fact.
func (s *SQLiteStore) AbandonFailedFact(ctx context.Context, id string) error {
	return s.setFailedFactStatus(ctx, id, types.FailedFactAbandoned)
}

func (s *SQLiteStore) setFailedFactStatus(ctx context.Context, id string, status types.FailedFactStatus) error {
	return s.updateFailedFact(ctx, `
		UPDATE failed_facts SET status = ?, updated_at = ?
		WHERE id = ?
	`, string(status), id)
}

func (s *SQLiteStore) updateFailedFact(ctx context.Context, query, value, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx, query, value, now, id)
	if err != nil {
		return fmt.Errorf("update failed fact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
