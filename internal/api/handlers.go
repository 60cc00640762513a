package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hyperengineering/distill/internal/config"
	"github.com/hyperengineering/distill/internal/jobstatus"
	"github.com/hyperengineering/distill/internal/pipeline"
	"github.com/hyperengineering/distill/internal/types"
	"github.com/hyperengineering/distill/internal/validation"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// Ingester runs documents through the ingestion pipeline.
type Ingester interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// StatsProvider reports store statistics for the health endpoint.
type StatsProvider interface {
	GetStats(ctx context.Context) (*types.StoreStats, error)
}

// Config holds handler settings.
type Config struct {
	Auth               config.AuthConfig
	Version            string
	MaxUploadBytes     int64
	EmbeddingProviders []string
}

// Handler implements the API handlers
type Handler struct {
	ingester Ingester
	jobs     *jobstatus.Store
	stats    StatsProvider
	cfg      Config
}

// NewHandler creates a new Handler.
func NewHandler(ingester Ingester, jobs *jobstatus.Store, stats StatsProvider, cfg Config) *Handler {
	return &Handler{
		ingester: ingester,
		jobs:     jobs,
		stats:    stats,
		cfg:      cfg,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetStats(r.Context())
	if err != nil {
		slog.Error("health stats failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	providers := h.cfg.EmbeddingProviders
	if providers == nil {
		providers = []string{}
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:             "healthy",
		Version:            h.cfg.Version,
		EmbeddingProviders: providers,
		KnowledgeItems:     stats.KnowledgeItems,
		ActiveJobs:         h.jobs.Len(),
	})
}

// upload is a file part of a multipart ingestion request.
type upload struct {
	name        string
	contentType string
	data        []byte
}

// Ingest handles POST /api/v1/ingest. It blocks until the document has been
// processed; progress is visible through IngestStatus meanwhile.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}

	req, file, err := decodeIngest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			WriteProblem(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, errUnsupportedMediaType):
			WriteProblem(w, r, http.StatusUnsupportedMediaType, err.Error())
		default:
			WriteProblem(w, r, http.StatusBadRequest, err.Error())
		}
		return
	}

	if errs := validation.ValidateIngestRequest(req, file != nil); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	owner := OwnerFromContext(r.Context())
	if !h.cfg.Auth.CanWrite(owner, req.KnowledgeBaseID) {
		slog.Warn("knowledge base access denied",
			"owner", owner,
			"knowledge_base", req.KnowledgeBaseID,
		)
		WriteProblem(w, r, http.StatusForbidden,
			fmt.Sprintf("Not allowed to write to knowledge base %q", req.KnowledgeBaseID))
		return
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	preq := pipeline.Request{
		RequestID:          req.RequestID,
		KnowledgeBaseID:    req.KnowledgeBaseID,
		OwnerID:            owner,
		SourceType:         types.SourceType(req.SourceType),
		SourceName:         req.SourceName,
		Content:            req.Content,
		EmbeddingsProvider: req.EmbeddingsProvider,
	}
	if file != nil {
		preq.File = file.data
		preq.FileName = file.name
		preq.ContentType = file.contentType
	}

	result, err := h.ingester.Run(r.Context(), preq)
	if err != nil {
		MapPipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, types.IngestResponse{
		Message: fmt.Sprintf("Processed document: saved %d of %d facts (%d failed)",
			result.SavedCount, result.FactsCount, result.FailedCount),
		RequestID:   req.RequestID,
		FactsCount:  result.FactsCount,
		SavedCount:  result.SavedCount,
		FailedCount: result.FailedCount,
		Facts:       result.Facts,
	})
}

// IngestStatus handles GET /api/v1/ingest/status. Each call returns only the
// log lines added since the previous call. Unknown jobs report a "just
// starting" placeholder.
func (h *Handler) IngestStatus(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.URL.Query().Get("requestId"))
	if requestID == "" {
		WriteProblem(w, r, http.StatusBadRequest, "requestId is required")
		return
	}

	st, logs := h.jobs.ConsumeSince(requestID)

	writeJSON(w, http.StatusOK, types.StatusResponse{
		Status:    st.State(),
		Completed: st.Completed,
		Progress: types.Progress{
			Stage:           string(st.Stage),
			PercentComplete: st.PercentComplete,
			Message:         st.Message,
			CurrentItem:     st.CurrentItem,
			TotalItems:      st.TotalItems,
		},
		Logs:         logs,
		LastLogIndex: st.LastLogIndex,
		Error:        st.Error,
	})
}

var errUnsupportedMediaType = errors.New("content type must be multipart/form-data or application/json")

// decodeIngest reads an ingestion request from a multipart form or a JSON
// body.
func decodeIngest(r *http.Request) (types.IngestRequest, *upload, error) {
	var req types.IngestRequest

	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return req, nil, fmt.Errorf("invalid Content-Type: %w", err)
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return req, nil, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return req, nil, fmt.Errorf("invalid multipart form: %w", err)
		}
		req = types.IngestRequest{
			KnowledgeBaseID:    r.FormValue("knowledgeBaseId"),
			SourceType:         r.FormValue("sourceType"),
			SourceName:         r.FormValue("sourceName"),
			Content:            r.FormValue("content"),
			EmbeddingsProvider: r.FormValue("embeddingsProvider"),
			RequestID:          r.FormValue("requestId"),
		}

		f, hdr, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil, nil
		}
		if err != nil {
			return req, nil, fmt.Errorf("read file part: %w", err)
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return req, nil, fmt.Errorf("read file part: %w", err)
		}
		return req, &upload{
			name:        hdr.Filename,
			contentType: hdr.Header.Get("Content-Type"),
			data:        data,
		}, nil

	default:
		return req, nil, errUnsupportedMediaType
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
