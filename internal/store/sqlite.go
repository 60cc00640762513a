package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperengineering/distill/internal/types"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the SQLite-backed knowledge store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per connection; a single connection also serializes writers.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveItem inserts one knowledge item. ID, CreatedAt and TokenEstimate are
// filled in when zero.
func (s *SQLiteStore) SaveItem(ctx context.Context, item types.KnowledgeItem) (string, error) {
	if len(item.Embedding) == 0 {
		return "", ErrEmptyEmbedding
	}
	if strings.TrimSpace(item.Content) == "" || item.KnowledgeBaseID == "" {
		return "", fmt.Errorf("%w: content and knowledge base are required", ErrInvalidItem)
	}

	if item.ID == "" {
		item.ID = ulid.Make().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.TokenEstimate == 0 {
		item.TokenEstimate = types.EstimateTokens(item.Content)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_items (
			id, knowledge_base_id, owner_id, content, embedding, embedding_model,
			source_name, source_type, token_estimate, request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID,
		item.KnowledgeBaseID,
		item.OwnerID,
		item.Content,
		packEmbedding(item.Embedding),
		item.EmbeddingModel,
		item.SourceName,
		string(item.SourceType),
		item.TokenEstimate,
		item.RequestID,
		item.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert knowledge item: %w", err)
	}

	return item.ID, nil
}

const itemColumns = `id, knowledge_base_id, owner_id, content, embedding, embedding_model,
	source_name, source_type, token_estimate, request_id, created_at`

// scanItem scans a row into a KnowledgeItem, unpacking the embedding BLOB.
func scanItem(scanner interface{ Scan(...any) error }) (*types.KnowledgeItem, error) {
	var item types.KnowledgeItem
	var embeddingBlob []byte
	var sourceType, createdAt string

	err := scanner.Scan(
		&item.ID,
		&item.KnowledgeBaseID,
		&item.OwnerID,
		&item.Content,
		&embeddingBlob,
		&item.EmbeddingModel,
		&item.SourceName,
		&sourceType,
		&item.TokenEstimate,
		&item.RequestID,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	item.SourceType = types.SourceType(sourceType)
	item.Embedding = unpackEmbedding(embeddingBlob)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		item.CreatedAt = t
	}

	return &item, nil
}

// GetItem retrieves a knowledge item by ID.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*types.KnowledgeItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM knowledge_items WHERE id = ?`, id)

	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return item, nil
}

// ListItems returns items oldest first, narrowed by filter.
func (s *SQLiteStore) ListItems(ctx context.Context, filter types.ItemFilter) ([]types.KnowledgeItem, error) {
	query := `SELECT ` + itemColumns + ` FROM knowledge_items WHERE 1=1`
	var args []any
	if filter.KnowledgeBaseID != "" {
		query += ` AND knowledge_base_id = ?`
		args = append(args, filter.KnowledgeBaseID)
	}
	if filter.SourceName != "" {
		query += ` AND source_name = ?`
		args = append(args, filter.SourceName)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query knowledge items: %w", err)
	}
	defer rows.Close()

	var items []types.KnowledgeItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return items, nil
}

// CountItems counts items in a knowledge base, or all items when empty.
func (s *SQLiteStore) CountItems(ctx context.Context, knowledgeBaseID string) (int64, error) {
	var count int64
	var err error
	if knowledgeBaseID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_items`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM knowledge_items WHERE knowledge_base_id = ?`, knowledgeBaseID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count knowledge items: %w", err)
	}
	return count, nil
}

// GetStats returns aggregate store statistics
func (s *SQLiteStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	var stats types.StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM knowledge_items),
			(SELECT COUNT(DISTINCT knowledge_base_id) FROM knowledge_items),
			(SELECT COUNT(*) FROM failed_facts WHERE status = 'pending')
	`).Scan(&stats.KnowledgeItems, &stats.KnowledgeBases, &stats.PendingFailedFacts)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &stats, nil
}

func packEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
