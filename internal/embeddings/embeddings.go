// Package embeddings provides the Provider abstraction the research cache
// and vector store use to turn chunk/finding/memory text into vectors, plus
// a float32 serialization format shared with the SQLite-backed vector store.
package embeddings

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/evrenesat/askygo/internal/config"
)

// Provider generates embeddings for one or more texts.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in as few round
	// trips as MaxBatchSize allows.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the provider and, implicitly, the embedding space.
	// Stored alongside every vector so rows from incompatible spaces are
	// never compared.
	Name() string

	// Dimension returns the length of vectors this provider produces.
	Dimension() int

	// MaxBatchSize returns the maximum number of texts per EmbedBatch call.
	MaxBatchSize() int
}

// New builds a Provider from config, dispatching on cfg.Provider.
func New(cfg config.EmbeddingsConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIProvider(cfg)
	case "fake":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 32
		}
		return NewFakeProvider(dim), nil
	default:
		return nil, fmt.Errorf("embeddings: unknown provider %q", cfg.Provider)
	}
}

// EncodeVector serializes a float32 vector as fixed-width little-endian
// bytes, the format stored in the vector store's blob columns.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector parses bytes produced by EncodeVector back into a vector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embeddings: vector byte length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v, nil
}

// CosineSimilarity returns the cosine similarity of two equal-length
// vectors, or 0 if either is zero-length or the lengths differ.
func CosineSimilarity(a, b []float32) float32 {
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
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
