// Package client is a Go client for the Distill ingestion API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// APIError is a non-2xx response decoded from an RFC 7807 body.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
	Errors     []FieldError
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("distill: %d %s: %s", e.StatusCode, e.Title, e.Detail)
	}
	return fmt.Sprintf("distill: %d %s", e.StatusCode, e.Title)
}

// Client talks to a Distill server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse BaseURL: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// NewRequestID returns a fresh request ID. Callers that want to poll status
// while Ingest blocks set IngestParams.RequestID to this value first.
func NewRequestID() string {
	return uuid.NewString()
}

// Health checks connectivity to the server.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, err
	}

	var h Health
	if err := c.do(req, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Ingest submits a document and blocks until the server has processed it.
func (c *Client) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	if params.RequestID == "" {
		params.RequestID = NewRequestID()
	}

	var req *http.Request
	var err error
	if params.File != nil {
		req, err = c.fileRequest(ctx, params)
	} else {
		req, err = c.textRequest(ctx, params)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var res IngestResult
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) textRequest(ctx context.Context, p IngestParams) (*http.Request, error) {
	body, err := json.Marshal(map[string]string{
		"knowledgeBaseId":    p.KnowledgeBaseID,
		"sourceType":         "text",
		"sourceName":         p.SourceName,
		"content":            p.Content,
		"embeddingsProvider": p.EmbeddingsProvider,
		"requestId":          p.RequestID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/ingest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) fileRequest(ctx context.Context, p IngestParams) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"knowledgeBaseId", p.KnowledgeBaseID},
		{"sourceType", "file"},
		{"sourceName", p.SourceName},
		{"embeddingsProvider", p.EmbeddingsProvider},
		{"requestId", p.RequestID},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}

	name := p.FileName
	if name == "" {
		name = "document"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(p.File); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/ingest", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// Status polls a job once. Each call returns only log lines appended since
// the previous call for the same request ID.
func (c *Client) Status(ctx context.Context, requestID string) (*Status, error) {
	u := c.baseURL + "/api/v1/ingest/status?requestId=" + url.QueryEscape(requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var s Status
	if err := c.do(req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Watch polls a job every interval and calls fn with each status until the
// job reaches a terminal state or ctx is cancelled. The final status is
// returned.
func (c *Client) Watch(ctx context.Context, requestID string, interval time.Duration, fn func(*Status)) (*Status, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("watch interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s, err := c.Status(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			fn(s)
		}
		if s.Done() {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Title:      http.StatusText(resp.StatusCode),
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiErr
	}

	var body struct {
		Title  string       `json:"title"`
		Detail string       `json:"detail"`
		Errors []FieldError `json:"errors"`
	}
	if json.Unmarshal(data, &body) != nil {
		apiErr.Detail = strings.TrimSpace(string(data))
		return apiErr
	}
	if body.Title != "" {
		apiErr.Title = body.Title
	}
	apiErr.Detail = body.Detail
	apiErr.Errors = body.Errors
	return apiErr
}
