// Package pipeline runs one document through extraction, chunking, fact
// extraction, dedupe, embedding and persistence, reporting progress to the
// job status store as it goes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/hyperengineering/distill/internal/archive"
	"github.com/hyperengineering/distill/internal/chunker"
	"github.com/hyperengineering/distill/internal/embedding"
	"github.com/hyperengineering/distill/internal/extract"
	"github.com/hyperengineering/distill/internal/jobstatus"
	"github.com/hyperengineering/distill/internal/textextract"
	"github.com/hyperengineering/distill/internal/types"
)

const (
	DefaultExtractTimeout = 2 * time.Minute
	DefaultEmbedTimeout   = 30 * time.Second

	sampleFactsLimit = 5
)

// FactExtractor pulls facts out of one chunk of a document.
type FactExtractor interface {
	Extract(ctx context.Context, chunk string, chunkIndex, chunkCount int, documentName string) ([]string, error)
}

// EmbedderResolver maps a provider name to an embedder.
type EmbedderResolver interface {
	Get(provider string) (embedding.Embedder, error)
}

// ItemStore persists facts and keeps the ones that could not be saved.
type ItemStore interface {
	SaveItem(ctx context.Context, item types.KnowledgeItem) (string, error)
	RecordFailedFact(ctx context.Context, fact types.FailedFact) (string, error)
}

var (
	_ FactExtractor    = (*extract.Extractor)(nil)
	_ EmbedderResolver = (*embedding.Registry)(nil)
)

// Request is one document to ingest.
type Request struct {
	RequestID          string
	KnowledgeBaseID    string
	OwnerID            string
	SourceType         types.SourceType
	SourceName         string
	Content            string
	File               []byte
	FileName           string
	ContentType        string
	EmbeddingsProvider string
}

// Result summarises a completed run.
type Result struct {
	RequestID   string
	FactsCount  int
	SavedCount  int
	FailedCount int
	// Facts holds the saved facts in extraction order.
	Facts []string
}

// Pipeline orchestrates ingestion of a single document at a time per call.
// It is safe for concurrent use by multiple requests.
type Pipeline struct {
	jobs      *jobstatus.Store
	extractor FactExtractor
	embedders EmbedderResolver
	store     ItemStore
	archiver  archive.Archiver

	windowSize     int
	overlap        int
	extractTimeout time.Duration
	embedTimeout   time.Duration
	embedPool      *ants.Pool
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithChunking sets the chunk window size and overlap in characters.
func WithChunking(windowSize, overlap int) Option {
	return func(p *Pipeline) error {
		p.windowSize = windowSize
		p.overlap = overlap
		return nil
	}
}

// WithTimeouts sets the per-call timeouts for fact extraction and embedding.
// Zero keeps the default.
func WithTimeouts(extractTimeout, embedTimeout time.Duration) Option {
	return func(p *Pipeline) error {
		if extractTimeout > 0 {
			p.extractTimeout = extractTimeout
		}
		if embedTimeout > 0 {
			p.embedTimeout = embedTimeout
		}
		return nil
	}
}

// WithEmbedConcurrency embeds and saves up to size facts at once.
// A size of 1 or less keeps the loop sequential.
func WithEmbedConcurrency(size int) Option {
	return func(p *Pipeline) error {
		if p.embedPool != nil {
			p.embedPool.Release()
			p.embedPool = nil
		}
		if size <= 1 {
			return nil
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return fmt.Errorf("create embedding pool: %w", err)
		}
		p.embedPool = pool
		return nil
	}
}

// WithArchiver keeps a copy of uploaded files.
func WithArchiver(a archive.Archiver) Option {
	return func(p *Pipeline) error {
		if a != nil {
			p.archiver = a
		}
		return nil
	}
}

// New creates a Pipeline. Call Release when done.
func New(jobs *jobstatus.Store, extractor FactExtractor, embedders EmbedderResolver, store ItemStore, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		jobs:           jobs,
		extractor:      extractor,
		embedders:      embedders,
		store:          store,
		archiver:       archive.NoopArchiver{},
		windowSize:     chunker.DefaultWindowSize,
		overlap:        chunker.DefaultOverlap,
		extractTimeout: DefaultExtractTimeout,
		embedTimeout:   DefaultEmbedTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "pipeline")

	return p, nil
}

// Release releases the embedding worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.embedPool != nil {
		p.embedPool.Release()
	}
}

// Run ingests req and blocks until the document has been fully processed.
// A missing request id is generated. On failure the job is marked failed
// and left at the stage it had reached.
func (p *Pipeline) Run(ctx context.Context, req Request) (result *Result, err error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.EmbeddingsProvider == "" {
		req.EmbeddingsProvider = embedding.ProviderOpenAI
	}

	// A client that hangs up does not abandon a half-written document.
	ctx = context.WithoutCancel(ctx)

	p.jobs.Create(req.RequestID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("unexpected failure: %v", r)
			p.jobs.Fail(req.RequestID, err)
			p.logger.Error("ingestion panicked",
				"request_id", req.RequestID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	result, err = p.run(ctx, req)
	if err != nil {
		p.jobs.Fail(req.RequestID, err)
		p.logger.Error("ingestion failed",
			"request_id", req.RequestID,
			"knowledge_base", req.KnowledgeBaseID,
			"error", err,
		)
		return nil, err
	}

	p.logger.Info("ingestion complete",
		"request_id", req.RequestID,
		"knowledge_base", req.KnowledgeBaseID,
		"facts", result.FactsCount,
		"saved", result.SavedCount,
		"failed", result.FailedCount,
		"duration", time.Since(start),
	)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, error) {
	id := req.RequestID

	embedder, err := p.embedders.Get(req.EmbeddingsProvider)
	if err != nil {
		return nil, err
	}

	// extraction
	text, name, err := p.loadText(ctx, req)
	if err != nil {
		return nil, err
	}
	p.jobs.Advance(id, jobstatus.Update{
		Stage:   jobstatus.StageExtraction,
		Percent: 10,
		Message: fmt.Sprintf("Extracted %d characters from %s", utf8.RuneCountInString(text), name),
	})

	// chunking
	chunks := chunker.Split(text, p.windowSize, p.overlap)
	total := len(chunks)
	p.jobs.Advance(id, jobstatus.Update{
		Stage:   jobstatus.StageChunking,
		Percent: 20,
		Message: fmt.Sprintf("Split document into %d chunks", total),
	})

	// facts
	p.jobs.Advance(id, jobstatus.Update{
		Stage:   jobstatus.StageFacts,
		Percent: 30,
		Message: fmt.Sprintf("Extracting facts from %d chunks", total),
		Items:   &jobstatus.Items{Current: 0, Total: total},
	})

	var facts []string
	for i, c := range chunks {
		n := i + 1

		cctx, cancel := context.WithTimeout(ctx, p.extractTimeout)
		chunkFacts, err := p.extractor.Extract(cctx, c.Text, n, total, name)
		cancel()
		if err != nil {
			p.jobs.AppendLog(id, fmt.Sprintf("Error extracting facts from chunk %d/%d: %v", n, total, err))
			return nil, &ExtractionError{Chunk: n, Total: total, Err: err}
		}

		facts = append(facts, chunkFacts...)
		p.jobs.Advance(id, jobstatus.Update{
			Stage:   jobstatus.StageFacts,
			Percent: 30 + 40*n/total,
			Message: fmt.Sprintf("Extracted %d facts from chunk %d/%d", len(chunkFacts), n, total),
			Items:   &jobstatus.Items{Current: n, Total: total},
		})
	}

	if len(facts) == 0 {
		return nil, ErrNoFacts
	}

	unique := extract.Dedupe(facts)
	p.jobs.Advance(id, jobstatus.Update{
		Stage:   jobstatus.StageEmbedding,
		Percent: 70,
		Message: fmt.Sprintf("Found %d unique facts (%d total)", len(unique), len(facts)),
		Items:   &jobstatus.Items{Current: 0, Total: len(unique)},
	})

	saved := p.embedAndSave(ctx, req, name, embedder, unique)

	result := &Result{
		RequestID:  id,
		FactsCount: len(unique),
	}
	for i, ok := range saved {
		if ok {
			result.Facts = append(result.Facts, unique[i])
		}
	}
	result.SavedCount = len(result.Facts)
	result.FailedCount = len(unique) - result.SavedCount

	p.jobs.Complete(id, jobstatus.Result{
		FactsCount:  result.FactsCount,
		SavedCount:  result.SavedCount,
		FailedCount: result.FailedCount,
		SampleFacts: result.Facts[:min(sampleFactsLimit, len(result.Facts))],
	})

	return result, nil
}

// loadText returns the document text and the name facts are attributed to.
func (p *Pipeline) loadText(ctx context.Context, req Request) (string, string, error) {
	name := req.SourceName
	if name == "" {
		name = req.FileName
	}
	if name == "" {
		name = "document"
	}

	if req.SourceType != types.SourceFile {
		if strings.TrimSpace(req.Content) == "" {
			return "", "", ErrNoContent
		}
		return req.Content, name, nil
	}

	if len(req.File) == 0 {
		return "", "", ErrNoContent
	}

	text, kind, err := textextract.Extract(req.FileName, req.ContentType, req.File)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrNoContent, err)
	}
	p.logger.Debug("text extracted",
		"request_id", req.RequestID,
		"file", req.FileName,
		"kind", kind,
		"chars", utf8.RuneCountInString(text),
	)

	key, err := p.archiver.Archive(ctx, archive.Document{
		KnowledgeBaseID: req.KnowledgeBaseID,
		RequestID:       req.RequestID,
		Name:            req.FileName,
		ContentType:     req.ContentType,
	}, req.File)
	if err != nil {
		p.logger.Warn("archive source document failed",
			"request_id", req.RequestID,
			"file", req.FileName,
			"error", err,
		)
	} else if key != "" {
		p.logger.Debug("source document archived", "request_id", req.RequestID, "key", key)
	}

	return text, name, nil
}
