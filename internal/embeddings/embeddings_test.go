package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evrenesat/askygo/internal/config"
)

func TestFakeProviderDeterministic(t *testing.T) {
	p := NewFakeProvider(16)

	a, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestFakeProviderDistinctTexts(t *testing.T) {
	p := NewFakeProvider(16)

	a, err := p.Embed(context.Background(), "apples")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "oranges")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestFakeProviderEmbedBatchMatchesEmbed(t *testing.T) {
	p := NewFakeProvider(8)

	texts := []string{"one", "two", "three"}
	batch, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := p.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestEncodeDecodeVectorRoundTrip(t *testing.T) {
	original := []float32{0.5, -0.25, 1.0, -1.0, 0.0, 3.14159}

	encoded := EncodeVector(original)
	decoded, err := DecodeVector(encoded)
	require.NoError(t, err)

	assert.Equal(t, original, decoded)
}

func TestDecodeVectorInvalidLength(t *testing.T) {
	_, err := DecodeVector([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	v := []float32{1, 2, 3}
	sim := CosineSimilarity(v, v)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestCosineSimilarityOrthogonalVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-6)
}

func TestCosineSimilarityMismatchedLength(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 2}
	assert.Equal(t, float32(0), CosineSimilarity(a, b))
}

func TestNewDispatchesOnProvider(t *testing.T) {
	p, err := New(config.EmbeddingsConfig{Provider: "fake", Dimension: 12})
	require.NoError(t, err)
	assert.Equal(t, 12, p.Dimension())
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.EmbeddingsConfig{Provider: "not-a-real-provider"})
	assert.Error(t, err)
}

func TestNewRequiresAPIKeyForOpenAI(t *testing.T) {
	_, err := New(config.EmbeddingsConfig{Provider: "openai"})
	assert.Error(t, err)
}
