package researchcache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evrenesat/askygo/internal/embeddings"
	"github.com/evrenesat/askygo/internal/rag/chunker"
	"github.com/evrenesat/askygo/internal/vectorstore"
)

type stubFetcher struct {
	calls   int
	content string
	title   string
	err     error
}

func (f *stubFetcher) Fetch(_ context.Context, _ string) (string, string, error) {
	f.calls++
	return f.title, f.content, f.err
}

func newTestCache(t *testing.T) (*Cache, vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.Open(vectorstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	embed := embeddings.NewFakeProvider(8)
	c, err := Open(Config{Path: ":memory:"}, store, embed, chunker.NewRecursiveCharacterTextSplitter(chunker.DefaultConfig()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, store
}

func TestURLHashNormalizesCase(t *testing.T) {
	a, err := URLHash("HTTPS://Example.com/path")
	require.NoError(t, err)
	b, err := URLHash("https://example.com/path")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestURLHashIgnoresFragment(t *testing.T) {
	a, err := URLHash("https://example.com/path#section-1")
	require.NoError(t, err)
	b, err := URLHash("https://example.com/path")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGetOrFetchCachesOnSecondCall(t *testing.T) {
	c, _ := newTestCache(t)
	fetcher := &stubFetcher{title: "Example", content: "Some article content about Go programming."}

	src1, err := c.GetOrFetch(context.Background(), "https://example.com/a", fetcher)
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.calls)

	src2, err := c.GetOrFetch(context.Background(), "https://example.com/a", fetcher)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls, "second call should be served from cache without re-fetching")
	assert.Equal(t, src1.ID, src2.ID)
}

func TestGetOrFetchIndexesChunks(t *testing.T) {
	c, store := newTestCache(t)
	fetcher := &stubFetcher{title: "Example", content: "A reasonably long piece of article content about distributed systems and consensus."}

	src, err := c.GetOrFetch(context.Background(), "https://example.com/b", fetcher)
	require.NoError(t, err)

	count, err := store.Count(context.Background(), vectorstore.KindChunk, src.ID, "", "")
	require.NoError(t, err)
	assert.Greater(t, count, int64(0))
}

func TestGetOrFetchReindexesOnContentChange(t *testing.T) {
	c, store := newTestCache(t)
	fetcher := &stubFetcher{title: "Example", content: "version one of the content"}

	src1, err := c.GetOrFetch(context.Background(), "https://example.com/c", fetcher)
	require.NoError(t, err)
	count1, err := store.Count(context.Background(), vectorstore.KindChunk, src1.ID, "", "")
	require.NoError(t, err)

	fetcher.content = "a completely different version two of the content with more words"
	c.ttlExpireForTest(src1.ID)

	src2, err := c.GetOrFetch(context.Background(), "https://example.com/c", fetcher)
	require.NoError(t, err)
	assert.NotEqual(t, src1.ContentHash, src2.ContentHash)

	count2, err := store.Count(context.Background(), vectorstore.KindChunk, src2.ID, "", "")
	require.NoError(t, err)
	assert.Greater(t, count1+count2, int64(0))
}

func TestCleanExpiredRemovesOldSources(t *testing.T) {
	c, _ := newTestCache(t)
	fetcher := &stubFetcher{title: "Example", content: "expiring content"}

	src, err := c.GetOrFetch(context.Background(), "https://example.com/d", fetcher)
	require.NoError(t, err)

	_, err = c.db.Exec("UPDATE cached_sources SET expires_at = datetime('now', '-1 hour') WHERE id = ?", src.ID)
	require.NoError(t, err)

	n, err := c.CleanExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, err := c.Get(context.Background(), "https://example.com/d")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetOrFetchPropagatesFetchError(t *testing.T) {
	c, _ := newTestCache(t)
	fetcher := &stubFetcher{err: fmt.Errorf("network unreachable")}

	_, err := c.GetOrFetch(context.Background(), "https://example.com/e", fetcher)
	assert.Error(t, err)
}

// ttlExpireForTest forces a cached row to be treated as stale so the next
// GetOrFetch call re-fetches instead of serving from cache.
func (c *Cache) ttlExpireForTest(id string) {
	_, _ = c.db.Exec("UPDATE cached_sources SET expires_at = datetime('now', '-1 hour') WHERE id = ?", id)
}
