package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoContent is returned when a request carries nothing that can be
	// turned into text.
	ErrNoContent = errors.New("no content to process")

	// ErrNoFacts is returned when no chunk of the document yields a fact.
	ErrNoFacts = errors.New("no facts could be extracted")
)

// ExtractionError reports a language-model failure for one chunk. It aborts
// the whole document.
type ExtractionError struct {
	Chunk int // 1-based
	Total int
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract facts from chunk %d/%d: %v", e.Chunk, e.Total, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
