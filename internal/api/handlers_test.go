package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperengineering/distill/internal/config"
	"github.com/hyperengineering/distill/internal/embedding"
	"github.com/hyperengineering/distill/internal/jobstatus"
	"github.com/hyperengineering/distill/internal/pipeline"
	"github.com/hyperengineering/distill/internal/types"
)

// mockIngester records the last request and returns a canned result.
type mockIngester struct {
	lastReq *pipeline.Request
	result  *pipeline.Result
	err     error
}

func (m *mockIngester) Run(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	m.lastReq = &req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// mockStats implements StatsProvider.
type mockStats struct {
	stats *types.StoreStats
	err   error
}

func (m *mockStats) GetStats(context.Context) (*types.StoreStats, error) {
	return m.stats, m.err
}

func testConfig() Config {
	return Config{
		Auth: config.AuthConfig{
			APIKeys: map[string]string{testAPIKey: "alice", "bob-key": "bob"},
			KnowledgeBases: map[string][]string{
				"kb-private": {"alice"},
			},
		},
		Version:            "1.2.3",
		MaxUploadBytes:     1 << 20,
		EmbeddingProviders: []string{"local", "openai"},
	}
}

func newTestServer(t *testing.T, ing Ingester) (http.Handler, *jobstatus.Store) {
	t.Helper()
	jobs := jobstatus.NewStore()
	t.Cleanup(jobs.Close)
	h := NewHandler(ing, jobs, &mockStats{stats: &types.StoreStats{KnowledgeItems: 42}}, testConfig())
	return NewRouter(h), jobs
}

func jsonIngest(t *testing.T, body any, token string) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func multipartIngest(t *testing.T, fields map[string]string, fileName string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write(file)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	return req
}

func TestHealth(t *testing.T) {
	srv, jobs := newTestServer(t, &mockIngester{})
	jobs.Create("in-flight")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp types.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.Version != "1.2.3" {
		t.Errorf("status/version = %q/%q", resp.Status, resp.Version)
	}
	if resp.KnowledgeItems != 42 || resp.ActiveJobs != 1 {
		t.Errorf("knowledge_items/active_jobs = %d/%d", resp.KnowledgeItems, resp.ActiveJobs)
	}
	if len(resp.EmbeddingProviders) != 2 {
		t.Errorf("embedding_providers = %v", resp.EmbeddingProviders)
	}
}

func TestHealth_StoreError(t *testing.T) {
	jobs := jobstatus.NewStore()
	t.Cleanup(jobs.Close)
	h := NewHandler(&mockIngester{}, jobs, &mockStats{err: errors.New("db gone")}, testConfig())

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestIngest_JSONText(t *testing.T) {
	ing := &mockIngester{result: &pipeline.Result{
		FactsCount:  3,
		SavedCount:  2,
		FailedCount: 1,
		Facts:       []string{"fact a", "fact b"},
	}}
	srv, _ := newTestServer(t, ing)

	req := jsonIngest(t, types.IngestRequest{
		KnowledgeBaseID:    "kb-1",
		SourceType:         "text",
		SourceName:         "notes",
		Content:            "The sky is blue.",
		EmbeddingsProvider: "local",
		RequestID:          "req-123",
	}, testAPIKey)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp types.IngestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RequestID != "req-123" || resp.FactsCount != 3 || resp.SavedCount != 2 || resp.FailedCount != 1 {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Facts) != 2 {
		t.Errorf("facts = %v", resp.Facts)
	}
	if resp.Message == "" {
		t.Error("expected a message")
	}

	got := ing.lastReq
	if got == nil {
		t.Fatal("ingester not called")
	}
	if got.OwnerID != "alice" || got.KnowledgeBaseID != "kb-1" || got.SourceType != types.SourceText {
		t.Errorf("pipeline request = %+v", got)
	}
	if got.EmbeddingsProvider != "local" || got.Content != "The sky is blue." {
		t.Errorf("pipeline request = %+v", got)
	}
}

func TestIngest_GeneratesRequestID(t *testing.T) {
	ing := &mockIngester{result: &pipeline.Result{FactsCount: 1, SavedCount: 1, Facts: []string{"f"}}}
	srv, _ := newTestServer(t, ing)

	req := jsonIngest(t, types.IngestRequest{
		KnowledgeBaseID: "kb-1",
		SourceType:      "text",
		SourceName:      "notes",
		Content:         "text",
	}, testAPIKey)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if ing.lastReq == nil || ing.lastReq.RequestID == "" {
		t.Fatal("expected generated request id")
	}
	var resp types.IngestResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.RequestID != ing.lastReq.RequestID {
		t.Errorf("response requestId = %q, want %q", resp.RequestID, ing.lastReq.RequestID)
	}
}

func TestIngest_MultipartFile(t *testing.T) {
	ing := &mockIngester{result: &pipeline.Result{FactsCount: 1, SavedCount: 1, Facts: []string{"f"}}}
	srv, _ := newTestServer(t, ing)

	req := multipartIngest(t, map[string]string{
		"knowledgeBaseId": "kb-1",
		"sourceType":      "file",
		"requestId":       "req-file",
	}, "handbook.txt", []byte("Employees get 25 days of leave."))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	got := ing.lastReq
	if got.FileName != "handbook.txt" || string(got.File) != "Employees get 25 days of leave." {
		t.Errorf("file = %q %q", got.FileName, got.File)
	}
	if got.SourceType != types.SourceFile || got.RequestID != "req-file" {
		t.Errorf("pipeline request = %+v", got)
	}
}

func TestIngest_MultipartFileMissing(t *testing.T) {
	ing := &mockIngester{}
	srv, _ := newTestServer(t, ing)

	req := multipartIngest(t, map[string]string{
		"knowledgeBaseId": "kb-1",
		"sourceType":      "file",
	}, "", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if ing.lastReq != nil {
		t.Error("ingester should not be called")
	}
}

func TestIngest_ValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t, &mockIngester{})

	req := jsonIngest(t, map[string]string{"sourceType": "url"}, testAPIKey)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	p := decodeProblem(t, w)
	if len(p.Errors) < 2 {
		t.Errorf("errors = %+v, want knowledgeBaseId and sourceType", p.Errors)
	}
}

func TestIngest_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, &mockIngester{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestIngest_UnsupportedMediaType(t *testing.T) {
	srv, _ := newTestServer(t, &mockIngester{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnsupportedMediaType)
	}
}

func TestIngest_TooLarge(t *testing.T) {
	srv, _ := newTestServer(t, &mockIngester{})

	req := jsonIngest(t, types.IngestRequest{
		KnowledgeBaseID: "kb-1",
		SourceType:      "text",
		SourceName:      "big",
		Content:         strings.Repeat("x", 2<<20),
	}, testAPIKey)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestIngest_Unauthorized(t *testing.T) {
	ing := &mockIngester{}
	srv, _ := newTestServer(t, ing)

	req := jsonIngest(t, types.IngestRequest{KnowledgeBaseID: "kb-1"}, "wrong")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if ing.lastReq != nil {
		t.Error("ingester should not be called")
	}
}

func TestIngest_ForbiddenKnowledgeBase(t *testing.T) {
	ing := &mockIngester{result: &pipeline.Result{}}
	srv, _ := newTestServer(t, ing)

	body := types.IngestRequest{
		KnowledgeBaseID: "kb-private",
		SourceType:      "text",
		SourceName:      "notes",
		Content:         "secret",
	}

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, jsonIngest(t, body, "bob-key"))
	if w.Code != http.StatusForbidden {
		t.Errorf("bob: status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if ing.lastReq != nil {
		t.Error("ingester should not be called for forbidden owner")
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, jsonIngest(t, body, testAPIKey))
	if w.Code != http.StatusCreated {
		t.Errorf("alice: status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestIngest_PipelineErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"no facts", pipeline.ErrNoFacts, http.StatusBadRequest},
		{"provider", fmt.Errorf("%w: %q", embedding.ErrProviderUnavailable, "local"), http.StatusBadRequest},
		{"extraction", &pipeline.ExtractionError{Chunk: 2, Total: 3, Err: errors.New("model down")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &mockIngester{err: tt.err})

			req := jsonIngest(t, types.IngestRequest{
				KnowledgeBaseID: "kb-1",
				SourceType:      "text",
				SourceName:      "notes",
				Content:         "text",
			}, testAPIKey)
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var body map[string]any
			json.NewDecoder(w.Body).Decode(&body)
			if body["error"] != tt.err.Error() {
				t.Errorf("error = %v, want %q", body["error"], tt.err.Error())
			}
		})
	}
}

func TestIngestStatus_MissingRequestID(t *testing.T) {
	srv, _ := newTestServer(t, &mockIngester{})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ingest/status", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestIngestStatus_UnknownJobPlaceholder(t *testing.T) {
	srv, _ := newTestServer(t, &mockIngester{})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ingest/status?requestId=nope", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw["status"] != "processing" || raw["completed"] != false {
		t.Errorf("status/completed = %v/%v", raw["status"], raw["completed"])
	}
	progress := raw["progress"].(map[string]any)
	if progress["stage"] != "extraction" || progress["percentComplete"] != float64(5) {
		t.Errorf("progress = %v", progress)
	}
	if logs, ok := raw["logs"].([]any); !ok || len(logs) != 0 {
		t.Errorf("logs = %v, want []", raw["logs"])
	}
}

func TestIngestStatus_NoAuthRequired_CursorAdvances(t *testing.T) {
	srv, jobs := newTestServer(t, &mockIngester{})
	jobs.Create("job-1")
	jobs.Advance("job-1", jobstatus.Update{
		Stage:   jobstatus.StageFacts,
		Percent: 40,
		Message: "Extracted 3 facts from chunk 1/2",
		Items:   &jobstatus.Items{Current: 1, Total: 2},
	})

	poll := func() types.StatusResponse {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ingest/status?requestId=job-1", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var resp types.StatusResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp
	}

	first := poll()
	if len(first.Logs) != 2 || first.LastLogIndex != 2 {
		t.Errorf("first poll logs = %v lastLogIndex = %d", first.Logs, first.LastLogIndex)
	}
	if first.Progress.Stage != "facts" || first.Progress.PercentComplete != 40 {
		t.Errorf("progress = %+v", first.Progress)
	}
	if first.Progress.CurrentItem == nil || *first.Progress.CurrentItem != 1 {
		t.Errorf("currentItem = %v", first.Progress.CurrentItem)
	}

	second := poll()
	if len(second.Logs) != 0 {
		t.Errorf("second poll logs = %v, want none", second.Logs)
	}

	jobs.Fail("job-1", errors.New("model down"))
	third := poll()
	if third.Status != "failed" || third.Error != "model down" {
		t.Errorf("third poll = %+v", third)
	}
	if len(third.Logs) != 1 || third.Logs[0] != "Error: model down" {
		t.Errorf("third poll logs = %v", third.Logs)
	}
}

// scriptedExtractor fails on one chunk and returns one fact for the others.
type scriptedExtractor struct {
	failChunk int
}

func (s *scriptedExtractor) Extract(_ context.Context, _ string, chunkIndex, chunkCount int, doc string) ([]string, error) {
	if chunkIndex == s.failChunk {
		return nil, errors.New("upstream 503")
	}
	return []string{fmt.Sprintf("From %q: fact %d of %d", doc, chunkIndex, chunkCount)}, nil
}

type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }
func (constEmbedder) EmbedBatch(_ context.Context, in []string) ([][]float32, error) {
	out := make([][]float32, len(in))
	for i := range in {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (constEmbedder) ModelName() string { return "const" }

type discardStore struct{}

func (discardStore) SaveItem(context.Context, types.KnowledgeItem) (string, error) { return "id", nil }
func (discardStore) RecordFailedFact(context.Context, types.FailedFact) (string, error) {
	return "id", nil
}

func TestIngest_EndToEnd_ChunkFailureLeavesJobAtFacts(t *testing.T) {
	jobs := jobstatus.NewStore()
	t.Cleanup(jobs.Close)

	reg := embedding.NewRegistry()
	reg.Register(embedding.ProviderOpenAI, constEmbedder{})
	p, err := pipeline.New(jobs, &scriptedExtractor{failChunk: 2}, reg, discardStore{},
		pipeline.WithChunking(3000, 200))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	t.Cleanup(p.Release)

	srv := NewRouter(NewHandler(p, jobs, &mockStats{stats: &types.StoreStats{}}, testConfig()))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, jsonIngest(t, types.IngestRequest{
		KnowledgeBaseID: "kb-1",
		SourceType:      "text",
		SourceName:      "long.txt",
		Content:         strings.Repeat("z", 7000),
		RequestID:       "e2e-1",
	}, testAPIKey))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("ingest status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ingest/status?requestId=e2e-1", nil))

	var resp types.StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Progress.Stage != "facts" {
		t.Errorf("stage = %q, want facts", resp.Progress.Stage)
	}
	if resp.Completed || resp.Status != "failed" {
		t.Errorf("status = %q completed = %v", resp.Status, resp.Completed)
	}

	found := false
	for _, line := range resp.Logs {
		if line == "Error extracting facts from chunk 2/3: upstream 503" {
			found = true
		}
	}
	if !found {
		t.Errorf("logs = %v, want chunk 2 error line", resp.Logs)
	}
}

func TestIngest_EndToEnd_Success(t *testing.T) {
	jobs := jobstatus.NewStore()
	t.Cleanup(jobs.Close)

	reg := embedding.NewRegistry()
	reg.Register(embedding.ProviderOpenAI, constEmbedder{})
	p, err := pipeline.New(jobs, &scriptedExtractor{}, reg, discardStore{})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	t.Cleanup(p.Release)

	srv := NewRouter(NewHandler(p, jobs, &mockStats{stats: &types.StoreStats{}}, testConfig()))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, multipartIngest(t, map[string]string{
		"knowledgeBaseId": "kb-1",
		"sourceType":      "file",
		"requestId":       "e2e-2",
	}, "notes.md", []byte("# Notes\n\nShip on Friday.")))

	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d: %s", w.Code, w.Body.String())
	}
	var ingest types.IngestResponse
	json.NewDecoder(w.Body).Decode(&ingest)
	if ingest.SavedCount != 1 || ingest.Facts[0] != `From "notes.md": fact 1 of 1` {
		t.Errorf("ingest = %+v", ingest)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ingest/status?requestId=e2e-2", nil))
	var st types.StatusResponse
	json.NewDecoder(w.Body).Decode(&st)
	if !st.Completed || st.Status != "completed" || st.Progress.PercentComplete != 100 {
		t.Errorf("status = %+v", st)
	}
}
