// Package extract turns document chunks into atomic, self-contained facts
// using a language model.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// ErrNoChoices is returned when the model answers with no content.
var ErrNoChoices = errors.New("model returned no choices")

// Generator is the subset of llms.Model the extractor needs.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Compile-time check that langchaingo models satisfy Generator.
var _ Generator = (llms.Model)(nil)

const systemPrompt = `You extract atomic facts from documents for a knowledge base.

Rules:
- Return ONLY a numbered list, one fact per line: "1. ...", "2. ...".
- Each fact must be a single complete, self-contained statement that makes sense without the rest of the document.
- Resolve pronouns and vague references to the entities they refer to.
- Start every fact with the exact prefix given by the user.
- Do not add commentary, headings or summaries.
- If the text contains no facts, return nothing.`

// Extractor extracts facts from one chunk at a time.
type Extractor struct {
	model       Generator
	temperature float64
	logger      *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTemperature sets the sampling temperature (default 0).
func WithTemperature(t float64) Option {
	return func(e *Extractor) { e.temperature = t }
}

// WithLogger sets the extractor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates an Extractor backed by model.
func NewExtractor(model Generator, opts ...Option) *Extractor {
	e := &Extractor{
		model:  model,
		logger: slog.Default().With("component", "fact-extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FactPrefix is the template every fact starts with.
func FactPrefix(documentName string) string {
	return fmt.Sprintf("From %q: ", documentName)
}

// Extract asks the model for the facts in chunk, which is part chunkIndex
// (1-based) of chunkCount of documentName. Zero facts is not an error.
func (e *Extractor) Extract(ctx context.Context, chunk string, chunkIndex, chunkCount int, documentName string) ([]string, error) {
	prefix := FactPrefix(documentName)
	userPrompt := fmt.Sprintf(`Document: %q (part %d of %d)
Prefix every fact with: %s

Text:
%s

Facts:`, documentName, chunkIndex, chunkCount, prefix, chunk)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	resp, err := e.model.GenerateContent(ctx, messages, llms.WithTemperature(e.temperature))
	if err != nil {
		return nil, fmt.Errorf("generate facts: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	facts := ParseFacts(resp.Choices[0].Content)
	for i, f := range facts {
		facts[i] = ensurePrefix(f, prefix)
	}

	e.logger.Debug("facts extracted",
		"document", documentName,
		"chunk", chunkIndex,
		"chunks", chunkCount,
		"facts", len(facts),
	)
	return facts, nil
}

func ensurePrefix(fact, prefix string) string {
	if strings.HasPrefix(fact, prefix) {
		return fact
	}
	return prefix + fact
}
