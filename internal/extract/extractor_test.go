package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type mockGenerator struct {
	response string
	err      error
	empty    bool
	calls    [][]llms.MessageContent
}

func (m *mockGenerator) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls = append(m.calls, messages)
	if m.err != nil {
		return nil, m.err
	}
	if m.empty {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.response}}}, nil
}

func humanPrompt(t *testing.T, msgs []llms.MessageContent) string {
	t.Helper()
	for _, m := range msgs {
		if m.Role != llms.ChatMessageTypeHuman {
			continue
		}
		var b strings.Builder
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				b.WriteString(tc.Text)
			}
		}
		return b.String()
	}
	t.Fatal("no human message sent")
	return ""
}

func TestExtract_ParsesNumberedLines(t *testing.T) {
	gen := &mockGenerator{response: `Here are the facts I found:
Some preamble the model added.
1. From "handbook.pdf": The office opens at 9am.
2. From "handbook.pdf": Badges must be worn at all times.
3.   From "handbook.pdf": Visitors sign in at reception.   `}
	e := NewExtractor(gen)

	facts, err := e.Extract(context.Background(), "chunk text", 2, 3, "handbook.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{
		`From "handbook.pdf": The office opens at 9am.`,
		`From "handbook.pdf": Badges must be worn at all times.`,
		`From "handbook.pdf": Visitors sign in at reception.`,
	}, facts)
}

func TestExtract_PromptCarriesPositionAndPrefix(t *testing.T) {
	gen := &mockGenerator{response: ""}
	e := NewExtractor(gen)

	_, err := e.Extract(context.Background(), "The sky is blue.", 2, 5, "notes.md")
	require.NoError(t, err)
	require.Len(t, gen.calls, 1)

	prompt := humanPrompt(t, gen.calls[0])
	assert.Contains(t, prompt, "part 2 of 5")
	assert.Contains(t, prompt, `From "notes.md": `)
	assert.Contains(t, prompt, "The sky is blue.")
}

func TestExtract_AddsMissingPrefix(t *testing.T) {
	gen := &mockGenerator{response: "1. Paris is the capital of France."}
	e := NewExtractor(gen)

	facts, err := e.Extract(context.Background(), "x", 1, 1, "geo.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{`From "geo.txt": Paris is the capital of France.`}, facts)
}

func TestExtract_ZeroFactsIsValid(t *testing.T) {
	gen := &mockGenerator{response: "I could not find any facts in this text."}
	e := NewExtractor(gen)

	facts, err := e.Extract(context.Background(), "lorem ipsum", 1, 1, "empty.txt")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestExtract_ModelError(t *testing.T) {
	boom := errors.New("rate limited")
	e := NewExtractor(&mockGenerator{err: boom})

	_, err := e.Extract(context.Background(), "x", 1, 1, "doc")
	assert.ErrorIs(t, err, boom)
}

func TestExtract_NoChoices(t *testing.T) {
	e := NewExtractor(&mockGenerator{empty: true})

	_, err := e.Extract(context.Background(), "x", 1, 1, "doc")
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestParseFacts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"preamble only", "Sure!\nHere you go:", nil},
		{"multi digit", "10. tenth\n11. eleventh", []string{"tenth", "eleventh"}},
		{"indented numbering", "   4. indented", []string{"indented"}},
		{"bullets ignored", "- bullet\n* star\n1) paren", nil},
		{"number without text dropped", "1.\n2. real", []string{"real"}},
		{"crlf", "1. a\r\n2. b\r\n", []string{"a", "b"}},
		{"keeps inner numbering", "1. Version 2.1 shipped.", []string{"Version 2.1 shipped."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFacts(tt.in))
		})
	}
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, Dedupe([]string{"A", "A", "B"}))
	assert.Equal(t, []string{"A", " A"}, Dedupe([]string{"A", " A"}))
	assert.Equal(t, []string{"b", "a", "c"}, Dedupe([]string{"b", "a", "b", "c", "a"}))
	assert.Empty(t, Dedupe(nil))
	assert.Equal(t, []string{"Fact", "fact"}, Dedupe([]string{"Fact", "fact"}))
}
