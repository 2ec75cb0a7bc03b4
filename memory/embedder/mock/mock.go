// Package mock provides a deterministic embedder for tests. Unlike a
// random projection, it hashes words into a fixed-size bag-of-words
// vector, so cosine similarity tracks word overlap and retrieval
// assertions are meaningful without a real model.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder generates bag-of-words embeddings.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with 384 dimensions, matching the footprint
// of small sentence-transformer models.
func New() *Embedder {
	return &Embedder{dimensions: 384}
}

// Embed hashes each lowercased word into a dimension and normalizes the
// result to a unit vector. Texts sharing words produce similar vectors.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, m.dimensions)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		embedding[h.Sum64()%uint64(m.dimensions)]++
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// normalize converts the vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
