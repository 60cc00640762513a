package types

import (
	"encoding/json"
	"time"
)

// SourceType identifies how a document was submitted.
type SourceType string

const (
	SourceFile SourceType = "file"
	SourceText SourceType = "text"
)

// KnowledgeItem is one persisted fact with its embedding and provenance.
type KnowledgeItem struct {
	ID              string     `json:"id"`
	KnowledgeBaseID string     `json:"knowledge_base_id"`
	OwnerID         string     `json:"owner_id"`
	Content         string     `json:"content"`
	Embedding       []float32  `json:"embedding,omitempty"`
	EmbeddingModel  string     `json:"embedding_model"`
	SourceName      string     `json:"source_name"`
	SourceType      SourceType `json:"source_type"`
	TokenEstimate   int        `json:"token_estimate"`
	RequestID       string     `json:"request_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// EstimateTokens approximates the token count of text at four bytes per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// FailedFactStatus is the retry state of a failed fact.
type FailedFactStatus string

const (
	FailedFactPending   FailedFactStatus = "pending"
	FailedFactResolved  FailedFactStatus = "resolved"
	FailedFactAbandoned FailedFactStatus = "abandoned"
)

// FailedFact is a fact whose embedding or write failed during ingestion.
type FailedFact struct {
	ID                 string           `json:"id"`
	KnowledgeBaseID    string           `json:"knowledge_base_id"`
	OwnerID            string           `json:"owner_id"`
	Content            string           `json:"content"`
	SourceName         string           `json:"source_name"`
	SourceType         SourceType       `json:"source_type"`
	EmbeddingsProvider string           `json:"embeddings_provider"`
	RequestID          string           `json:"request_id,omitempty"`
	Reason             string           `json:"reason"`
	Attempts           int              `json:"attempts"`
	Status             FailedFactStatus `json:"status"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	KnowledgeBaseID string
	SourceName      string
	Limit           int
}

// StoreStats holds aggregate store statistics.
type StoreStats struct {
	KnowledgeItems     int64 `json:"knowledge_items"`
	KnowledgeBases     int64 `json:"knowledge_bases"`
	PendingFailedFacts int64 `json:"pending_failed_facts"`
}

// IngestRequest is the JSON form of an ingestion request. Multipart uploads
// carry the same fields as form values.
type IngestRequest struct {
	KnowledgeBaseID    string `json:"knowledgeBaseId"`
	SourceType         string `json:"sourceType"`
	SourceName         string `json:"sourceName"`
	Content            string `json:"content"`
	EmbeddingsProvider string `json:"embeddingsProvider"`
	RequestID          string `json:"requestId"`
}

// IngestResponse is returned once the pipeline completes.
type IngestResponse struct {
	Message     string   `json:"message"`
	RequestID   string   `json:"requestId"`
	FactsCount  int      `json:"factsCount"`
	SavedCount  int      `json:"savedCount"`
	FailedCount int      `json:"failedCount"`
	Facts       []string `json:"facts"`
}

// MarshalJSON ensures nil facts marshal as [] not null.
func (r IngestResponse) MarshalJSON() ([]byte, error) {
	if r.Facts == nil {
		r.Facts = []string{}
	}
	type Alias IngestResponse
	return json.Marshal(Alias(r))
}

// Progress is the progress block of a status response.
type Progress struct {
	Stage           string `json:"stage"`
	PercentComplete int    `json:"percentComplete"`
	Message         string `json:"message"`
	CurrentItem     *int   `json:"currentItem,omitempty"`
	TotalItems      *int   `json:"totalItems,omitempty"`
}

// StatusResponse is returned by the status poll endpoint. Logs holds only
// the lines appended since the previous poll.
type StatusResponse struct {
	Status       string   `json:"status"`
	Completed    bool     `json:"completed"`
	Progress     Progress `json:"progress"`
	Logs         []string `json:"logs"`
	LastLogIndex int      `json:"lastLogIndex"`
	Error        string   `json:"error,omitempty"`
}

// MarshalJSON ensures nil logs marshal as [] not null.
func (s StatusResponse) MarshalJSON() ([]byte, error) {
	if s.Logs == nil {
		s.Logs = []string{}
	}
	type Alias StatusResponse
	return json.Marshal(Alias(s))
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status             string   `json:"status"`
	Version            string   `json:"version"`
	EmbeddingProviders []string `json:"embedding_providers"`
	KnowledgeItems     int64    `json:"knowledge_items"`
	ActiveJobs         int      `json:"active_jobs"`
}
