package research

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evrenesat/askygo/internal/embeddings"
	"github.com/evrenesat/askygo/internal/rag/chunker"
	"github.com/evrenesat/askygo/internal/researchcache"
	"github.com/evrenesat/askygo/internal/vectorstore"
)

func newTestStore(t *testing.T) vectorstore.Store {
	t.Helper()
	store, err := vectorstore.Open(vectorstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDateTimeToolReturnsFixedClock(t *testing.T) {
	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	tool := &DateTimeTool{now: func() time.Time { return fixed }}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(result.Content), &out))
	assert.Equal(t, "2026-07-31T12:00:00Z", out["iso8601"])
	assert.Equal(t, "Friday", out["weekday"])
}

func TestSaveMemoryThenQueryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	embed := embeddings.NewFakeProvider(8)

	save := NewSaveMemoryTool(store, embed)
	params, _ := json.Marshal(map[string]string{"content": "prefers dark mode", "agent_id": "agent-1"})
	result, err := save.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	query := NewQueryResearchMemoryTool(store, embed)
	qparams, _ := json.Marshal(map[string]string{"query": "prefers dark mode", "agent_id": "agent-1"})
	qresult, err := query.Execute(context.Background(), qparams)
	require.NoError(t, err)

	var out struct {
		Memories []map[string]any `json:"memories"`
	}
	require.NoError(t, json.Unmarshal([]byte(qresult.Content), &out))
	require.Len(t, out.Memories, 1)
	assert.Equal(t, "prefers dark mode", out.Memories[0]["content"])
}

func TestSaveMemoryUpdatesNearDuplicateInPlace(t *testing.T) {
	store := newTestStore(t)
	embed := embeddings.NewFakeProvider(8)
	save := NewSaveMemoryTool(store, embed)

	params, _ := json.Marshal(map[string]string{"content": "lives in Berlin", "agent_id": "agent-1"})
	first, err := save.Execute(context.Background(), params)
	require.NoError(t, err)
	var firstOut map[string]string
	require.NoError(t, json.Unmarshal([]byte(first.Content), &firstOut))
	assert.Equal(t, "created", firstOut["action"])

	second, err := save.Execute(context.Background(), params)
	require.NoError(t, err)
	var secondOut map[string]string
	require.NoError(t, json.Unmarshal([]byte(second.Content), &secondOut))
	assert.Equal(t, "updated", secondOut["action"])
	assert.Equal(t, firstOut["memory_id"], secondOut["memory_id"])

	count, err := store.Count(context.Background(), vectorstore.KindUserMemory, "", "", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSaveMemoryNearDuplicateThresholdIsPointNinety(t *testing.T) {
	store := newTestStore(t)
	embed := embeddings.NewFakeProvider(8)
	save := NewSaveMemoryTool(store, embed)
	assert.InDelta(t, 0.90, save.threshold(), 1e-9, "spec.md §3/§8 require cosine >= 0.90, not 0.92")

	require.NoError(t, store.Index(context.Background(), []vectorstore.Record{{
		ID: "existing", Kind: vectorstore.KindUserMemory, Text: "I like Python",
		Embedding: []float32{1, 0}, EmbeddingModel: embed.Name(), AgentID: "agent-1",
	}}))

	// cos(25.8 degrees) ~= 0.90; pick a vector at 0.905 cosine similarity to
	// the stored one, inside [0.90, 0.92) where the old 0.92 constant would
	// have wrongly inserted instead of updating.
	theta := math.Acos(0.905)
	near := []float32{float32(math.Cos(theta)), float32(math.Sin(theta))}

	id, err := save.findNearDuplicate(context.Background(), "agent-1", near, save.threshold())
	require.NoError(t, err)
	assert.Equal(t, "existing", id, "cosine 0.905 >= 0.90 must be treated as a near-duplicate")
}

func TestSaveMemoryScopesNearDuplicateByAgent(t *testing.T) {
	store := newTestStore(t)
	embed := embeddings.NewFakeProvider(8)
	save := NewSaveMemoryTool(store, embed)

	for _, agent := range []string{"agent-1", "agent-2"} {
		params, _ := json.Marshal(map[string]string{"content": "owns a bicycle", "agent_id": agent})
		result, err := save.Execute(context.Background(), params)
		require.NoError(t, err)
		var out map[string]string
		require.NoError(t, json.Unmarshal([]byte(result.Content), &out))
		assert.Equal(t, "created", out["action"])
	}
}

func TestSaveFindingIndexesUnderSession(t *testing.T) {
	store := newTestStore(t)
	embed := embeddings.NewFakeProvider(8)
	tool := NewSaveFindingTool(store, embed)

	params, _ := json.Marshal(map[string]any{
		"text":        "Go 1.24 shipped generic type aliases.",
		"session_id":  "session-1",
		"source_urls": []string{"https://go.dev/blog"},
	})
	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	count, err := store.Count(context.Background(), vectorstore.KindFinding, "", "session-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSaveFindingRequiresSessionID(t *testing.T) {
	store := newTestStore(t)
	embed := embeddings.NewFakeProvider(8)
	tool := NewSaveFindingTool(store, embed)

	params, _ := json.Marshal(map[string]string{"text": "missing session"})
	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRelevantContentToolSearchesChunks(t *testing.T) {
	store := newTestStore(t)
	embed := embeddings.NewFakeProvider(8)

	vec, err := embed.Embed(context.Background(), "goroutines and channels")
	require.NoError(t, err)
	require.NoError(t, store.Index(context.Background(), []vectorstore.Record{{
		ID:             "chunk-1",
		Kind:           vectorstore.KindChunk,
		Text:           "goroutines and channels",
		Embedding:      vec,
		EmbeddingModel: embed.Name(),
		CacheID:        "cache-1",
	}}))

	tool := NewRelevantContentTool(store, embed)
	params, _ := json.Marshal(map[string]string{"query": "goroutines and channels"})
	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)

	var out struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "cache-1", out.Results[0]["cache_id"])
}

type stubSummarizer struct {
	summary string
	err     error
}

func (s stubSummarizer) Summarize(_ context.Context, _ string, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

func TestSummarizeSectionReturnsSummarizerOutput(t *testing.T) {
	tool := NewSummarizeSectionTool(stubSummarizer{summary: "short version"})
	params, _ := json.Marshal(map[string]string{"text": "a very long article"})
	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "short version", result.Content)
}

func TestSummarizeSectionPropagatesError(t *testing.T) {
	tool := NewSummarizeSectionTool(stubSummarizer{err: fmt.Errorf("boom")})
	params, _ := json.Marshal(map[string]string{"text": "a very long article"})
	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestURLDetailsToolReportsNotCached(t *testing.T) {
	store := newTestStore(t)
	embed := embeddings.NewFakeProvider(8)
	cache, err := researchcache.Open(researchcache.Config{Path: ":memory:"}, store, embed, chunker.NewRecursiveCharacterTextSplitter(chunker.DefaultConfig()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	tool := NewURLDetailsTool(cache)
	params, _ := json.Marshal(map[string]string{"url": "https://example.com/never-fetched"})
	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.Contains(t, result.Content, "not cached")
}
