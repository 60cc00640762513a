// Package chunker splits document text into overlapping windows sized for
// a language model's context.
package chunker

import "strings"

const (
	DefaultWindowSize = 3000
	DefaultOverlap    = 200
)

// EmptyPlaceholder is the single chunk produced for text with no content.
const EmptyPlaceholder = "[No text content could be extracted from this document]"

// Chunk is one window of the source text. StartOffset counts runes.
type Chunk struct {
	Text        string
	StartOffset int
}

// Split walks text in windows of windowSize runes, each starting overlap runes
// before the previous one ended. A remainder shorter than windowSize/3 is
// folded into the preceding window rather than emitted on its own. Empty or
// whitespace-only text yields one placeholder chunk. Invalid sizes fall back
// to the defaults.
func Split(text string, windowSize, overlap int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return []Chunk{{Text: EmptyPlaceholder}}
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if overlap < 0 || overlap >= windowSize {
		overlap = min(DefaultOverlap, windowSize/2)
	}

	runes := []rune(text)
	n := len(runes)
	minTail := windowSize / 3

	var chunks []Chunk
	start := 0
	for start < n {
		end := min(start+windowSize, n)
		if n-end < minTail {
			end = n
		}
		chunks = append(chunks, Chunk{Text: string(runes[start:end]), StartOffset: start})
		if end == n {
			break
		}
		start = end - overlap
	}
	return chunks
}
