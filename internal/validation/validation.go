package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/distill/internal/types"
)

// Field limits for ingestion requests.
const (
	MaxKnowledgeBaseIDLength = 128
	MaxSourceNameLength      = 512
	MaxRequestIDLength       = 128
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

var (
	sourceTypes         = []string{string(types.SourceFile), string(types.SourceText)}
	embeddingsProviders = []string{"openai", "local"}
)

// ValidateIngestRequest checks an ingestion request. hasFile reports whether
// a file part was uploaded alongside the fields.
func ValidateIngestRequest(req types.IngestRequest, hasFile bool) []ValidationError {
	var c Collector

	if err := ValidateRequired("knowledgeBaseId", req.KnowledgeBaseID); err != nil {
		c.Add(err)
	} else {
		c.Add(ValidateMaxLength("knowledgeBaseId", req.KnowledgeBaseID, MaxKnowledgeBaseIDLength))
		c.Add(ValidateNoNullBytes("knowledgeBaseId", req.KnowledgeBaseID))
	}

	if err := ValidateRequired("sourceType", req.SourceType); err != nil {
		c.Add(err)
	} else {
		c.Add(ValidateEnum("sourceType", req.SourceType, sourceTypes))
	}

	switch types.SourceType(req.SourceType) {
	case types.SourceText:
		c.Add(ValidateRequired("sourceName", req.SourceName))
		if hasFile {
			c.Add(&ValidationError{Field: "file", Message: "must not be sent when sourceType is text"})
		}
		if err := ValidateRequired("content", req.Content); err != nil {
			c.Add(err)
		} else {
			c.Add(ValidateUTF8("content", req.Content))
			c.Add(ValidateNoNullBytes("content", req.Content))
		}
	case types.SourceFile:
		if !hasFile {
			c.Add(&ValidationError{Field: "file", Message: "is required when sourceType is file"})
		}
		if req.Content != "" {
			c.Add(&ValidationError{Field: "content", Message: "must not be sent with a file upload"})
		}
	}

	c.Add(ValidateMaxLength("sourceName", req.SourceName, MaxSourceNameLength))
	c.Add(ValidateNoNullBytes("sourceName", req.SourceName))

	if req.EmbeddingsProvider != "" {
		c.Add(ValidateEnum("embeddingsProvider", req.EmbeddingsProvider, embeddingsProviders))
	}

	c.Add(ValidateMaxLength("requestId", req.RequestID, MaxRequestIDLength))
	c.Add(ValidateNoNullBytes("requestId", req.RequestID))

	return c.Errors()
}
