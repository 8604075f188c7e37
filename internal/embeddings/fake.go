package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// FakeProvider produces deterministic, hash-derived vectors with no network
// calls. Two calls with the same text always return the same vector, and
// the round-trip/idempotence properties the research cache relies on hold
// without a live embeddings endpoint. It is not intended to produce
// semantically meaningful similarity scores.
type FakeProvider struct {
	dimension int
}

var _ Provider = (*FakeProvider)(nil)

// NewFakeProvider returns a FakeProvider producing vectors of the given
// dimension.
func NewFakeProvider(dimension int) *FakeProvider {
	if dimension <= 0 {
		dimension = 32
	}
	return &FakeProvider{dimension: dimension}
}

// Name implements Provider.
func (p *FakeProvider) Name() string { return "fake" }

// Dimension implements Provider.
func (p *FakeProvider) Dimension() int { return p.dimension }

// MaxBatchSize implements Provider.
func (p *FakeProvider) MaxBatchSize() int { return 1000 }

// Embed implements Provider.
func (p *FakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return p.vectorFor(text), nil
}

// EmbedBatch implements Provider.
func (p *FakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// vectorFor expands a SHA-256 digest of text into p.dimension floats in
// [-1, 1] by repeatedly rehashing until enough bytes are produced.
func (p *FakeProvider) vectorFor(text string) []float32 {
	v := make([]float32, p.dimension)
	seed := sha256.Sum256([]byte(text))
	block := seed
	need := p.dimension
	i := 0
	for need > 0 {
		for j := 0; j+4 <= len(block) && i < p.dimension; j += 4 {
			u := binary.BigEndian.Uint32(block[j : j+4])
			v[i] = float32(u)/float32(1<<32)*2 - 1
			i++
		}
		need = p.dimension - i
		block = sha256.Sum256(block[:])
	}
	return v
}
