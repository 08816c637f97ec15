// Package embedding provides the fixed-dimension, unit-normalized text
// embeddings used by the vector backend (C6) and the tip clusterer (C10).
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider embeds text into a fixed-dimension unit vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// openAIProvider wraps langchaingo's OpenAI-compatible embedder. The
// original system used sentence-transformers locally; this gateway talks to
// an OpenAI-compatible embeddings endpoint instead, normalizing the result
// explicitly since not every such endpoint guarantees unit-length output.
type openAIProvider struct {
	embedder  *embeddings.EmbedderImpl
	dimension int
}

func NewOpenAI(apiKey, baseURL, model string, dimension int) (Provider, error) {
	opts := []openai.Option{openai.WithModel(model), openai.WithEmbeddingModel(model)}
	if apiKey != "" {
		opts = append(opts, openai.WithToken(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &openAIProvider{embedder: embedder, dimension: dimension}, nil
}

func (p *openAIProvider) Dimension() int {
	return p.dimension
}

func (p *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vectors")
	}

	return Normalize(vectors[0]), nil
}

// Normalize scales v to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}

	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// CosineSimilarity computes the cosine similarity between two equal-length
// vectors. Both are assumed already unit-normalized by Embed, so this
// reduces to a dot product, but the full formula is used defensively since
// callers may pass raw vectors in tests.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
