package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// =============================================================================
// MOCK ENGINE
// =============================================================================

// Mock is a deterministic in-process engine used by tests and by dev runs
// without an Ollama server. When EmbedFunc is nil it produces a hashed
// bag-of-words vector, so texts sharing tokens score high under cosine
// similarity while unrelated texts score near zero.
type Mock struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	Dim       int
}

// NewMock returns a Mock with the default bag-of-words behavior.
func NewMock() *Mock {
	return &Mock{Dim: Dimensions}
}

// Embed generates a deterministic vector for the text.
func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return m.bagOfWords(text), nil
}

// EmbedBatch embeds each text sequentially.
func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured dimensionality.
func (m *Mock) Dimensions() int {
	if m.Dim > 0 {
		return m.Dim
	}
	return Dimensions
}

// Name returns the engine name.
func (m *Mock) Name() string { return "mock" }

// bagOfWords hashes each lowercase token into a bucket and accumulates.
func (m *Mock) bagOfWords(text string) []float32 {
	dim := m.Dimensions()
	vec := make([]float32, dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]{}")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%dim] += 1.0
	}
	return vec
}
