package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evrenesat/askygo/internal/embeddings"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIndexAndCountByKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fake := embeddings.NewFakeProvider(8)

	vec, err := fake.Embed(ctx, "golang concurrency primitives")
	require.NoError(t, err)

	err = s.Index(ctx, []Record{
		{Kind: KindChunk, Text: "golang concurrency primitives", Embedding: vec, EmbeddingModel: "fake", CacheID: "c1"},
	})
	require.NoError(t, err)

	count, err := s.Count(ctx, KindChunk, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSearchVectorModeRanksClosestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fake := embeddings.NewFakeProvider(16)

	target, err := fake.Embed(ctx, "channels and goroutines")
	require.NoError(t, err)
	other, err := fake.Embed(ctx, "unrelated cooking recipe")
	require.NoError(t, err)

	err = s.Index(ctx, []Record{
		{ID: "a", Kind: KindChunk, Text: "channels and goroutines", Embedding: target, EmbeddingModel: "fake"},
		{ID: "b", Kind: KindChunk, Text: "unrelated cooking recipe", Embedding: other, EmbeddingModel: "fake"},
	})
	require.NoError(t, err)

	hits, err := s.Search(ctx, target, "", SearchOptions{Kind: KindChunk, Mode: SearchModeVector, Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].Record.ID)
}

func TestSearchLexicalModeMatchesText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Index(ctx, []Record{
		{ID: "a", Kind: KindChunk, Text: "the quick brown fox jumps over the lazy dog"},
		{ID: "b", Kind: KindChunk, Text: "completely different subject matter about finance"},
	})
	require.NoError(t, err)

	hits, err := s.Search(ctx, nil, "quick brown fox", SearchOptions{Kind: KindChunk, Mode: SearchModeLexical, Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].Record.ID)
}

func TestSearchScopesByCacheID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Index(ctx, []Record{
		{ID: "a", Kind: KindChunk, Text: "scoped to cache one", CacheID: "cache-1"},
		{ID: "b", Kind: KindChunk, Text: "scoped to cache two", CacheID: "cache-2"},
	})
	require.NoError(t, err)

	hits, err := s.Search(ctx, nil, "scoped", SearchOptions{Kind: KindChunk, Mode: SearchModeLexical, CacheID: "cache-1", Limit: 5})
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, "cache-1", h.Record.CacheID)
	}
}

func TestDeleteRemovesFromBothStores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, []Record{{ID: "a", Kind: KindChunk, Text: "to be deleted"}}))
	require.NoError(t, s.Delete(ctx, []string{"a"}))

	count, err := s.Count(ctx, KindChunk, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	hits, err := s.Search(ctx, nil, "deleted", SearchOptions{Kind: KindChunk, Mode: SearchModeLexical})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestClampAlpha(t *testing.T) {
	assert.Equal(t, float32(0.6), clampAlpha(nil, 0.6), "unset falls back to the default")
	assert.Equal(t, float32(0), clampAlpha(Alpha(0), 0.6), "explicit 0.0 is pure lexical, not the default")
	assert.Equal(t, float32(1), clampAlpha(Alpha(1), 0.6), "explicit 1.0 is pure semantic")
	assert.Equal(t, float32(0), clampAlpha(Alpha(-1), 0.6))
	assert.Equal(t, float32(1), clampAlpha(Alpha(2), 0.6))
	assert.Equal(t, float32(0.3), clampAlpha(Alpha(0.3), 0.6))
}

func TestSearchHybridHonorsExplicitZeroAlphaAsPureLexical(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, []Record{
		// "a" matches the query vector exactly (dense=1) but shares no
		// lexical overlap with the query text.
		{ID: "a", Kind: KindChunk, Text: "completely different topic entirely", Embedding: []float32{1, 0, 0}, EmbeddingModel: "fake"},
		// "b" is orthogonal to the query vector (dense=0) but has a strong
		// lexical match on the query text.
		{ID: "b", Kind: KindChunk, Text: "mangoes are delicious mangoes mangoes", Embedding: []float32{0, 1, 0}, EmbeddingModel: "fake"},
	}))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, "mangoes", SearchOptions{
		Kind: KindChunk, Mode: SearchModeHybrid, HybridAlpha: Alpha(0), EmbeddingModel: "fake", Limit: 2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "b", hits[0].Record.ID, "alpha=0 must rank purely on lexical overlap, ignoring a's perfect dense match")
}
