package client

import "time"

// Config holds the client configuration.
type Config struct {
	BaseURL string        // Distill service URL, e.g. http://localhost:8080
	APIKey  string        // API key for authentication
	Timeout time.Duration // Per-request timeout (default: 10 minutes)
}

// IngestParams describes a document to ingest. Exactly one of Content or
// File must be set.
type IngestParams struct {
	KnowledgeBaseID    string
	SourceName         string
	Content            string // Plain text source
	File               []byte // File source
	FileName           string
	EmbeddingsProvider string // "openai" or "local"; server default when empty
	RequestID          string // Generated when empty
}

// IngestResult is the server's answer once ingestion completes.
type IngestResult struct {
	Message     string   `json:"message"`
	RequestID   string   `json:"requestId"`
	FactsCount  int      `json:"factsCount"`
	SavedCount  int      `json:"savedCount"`
	FailedCount int      `json:"failedCount"`
	Facts       []string `json:"facts"`
}

// Progress reports the pipeline stage of a job.
type Progress struct {
	Stage           string `json:"stage"`
	PercentComplete int    `json:"percentComplete"`
	Message         string `json:"message"`
	CurrentItem     *int   `json:"currentItem,omitempty"`
	TotalItems      *int   `json:"totalItems,omitempty"`
}

// Status is one poll of a job. Logs holds only lines not returned by an
// earlier poll.
type Status struct {
	Status       string   `json:"status"`
	Completed    bool     `json:"completed"`
	Progress     Progress `json:"progress"`
	Logs         []string `json:"logs"`
	LastLogIndex int      `json:"lastLogIndex"`
	Error        string   `json:"error,omitempty"`
}

// Done reports whether the job has reached a terminal state.
func (s Status) Done() bool {
	return s.Completed || s.Status == "failed"
}

// Health is the server health check response.
type Health struct {
	Status             string   `json:"status"`
	Version            string   `json:"version"`
	EmbeddingProviders []string `json:"embedding_providers"`
	KnowledgeItems     int64    `json:"knowledge_items"`
	ActiveJobs         int      `json:"active_jobs"`
}

// FieldError is one invalid field reported by the server.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
