package preload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evrenesat/askygo/internal/embeddings"
	"github.com/evrenesat/askygo/internal/researchcache"
	"github.com/evrenesat/askygo/internal/vectorstore"
	"github.com/evrenesat/askygo/pkg/models"
)

// Pipeline assembles the system-prompt context excerpt for research mode:
// collect candidates, fetch+chunk+embed them through the research cache,
// rank chunks against the query, and concatenate the top excerpts.
type Pipeline struct {
	cache   *researchcache.Cache
	store   vectorstore.Store
	embed   embeddings.Provider
	fetcher researchcache.Fetcher
}

// NewPipeline builds a Pipeline from its dependencies.
func NewPipeline(cache *researchcache.Cache, store vectorstore.Store, embed embeddings.Provider, fetcher researchcache.Fetcher) *Pipeline {
	return &Pipeline{cache: cache, store: store, embed: embed, fetcher: fetcher}
}

// Options configures a single Resolve call.
type Options struct {
	Query            string
	SeedURLs         []string
	SubQueries       []string
	Search           SearchExecutor
	LocalCorpusPaths []string
	MaxCandidates    int
	MaxChunks        int
	MaxContextChars  int
	// HybridAlpha weights dense vs. lexical chunk ranking; nil falls back
	// to the vector store's configured default. See vectorstore.SearchOptions.
	HybridAlpha *float32
}

// Resolve runs the full preload pipeline and returns the assembled context.
func (p *Pipeline) Resolve(ctx context.Context, opts Options) (*models.PreloadResolution, error) {
	maxCandidates := opts.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 20
	}
	maxChunks := opts.MaxChunks
	if maxChunks <= 0 {
		maxChunks = 8
	}
	maxChars := opts.MaxContextChars
	if maxChars <= 0 {
		maxChars = 6000
	}

	queries := append([]string{opts.Query}, opts.SubQueries...)
	candidates, warnings := CollectCandidates(opts.SeedURLs, queries, opts.Search, maxCandidates)

	sources := make([]models.CachedSource, 0, len(candidates))
	for _, c := range candidates {
		src, err := p.cache.GetOrFetch(ctx, c.URL, p.fetcher)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("fetch_error:%s:%v", c.URL, err))
			continue
		}
		sources = append(sources, *src)
	}

	for _, path := range opts.LocalCorpusPaths {
		if err := p.ingestLocalPath(ctx, path); err != nil {
			warnings = append(warnings, fmt.Sprintf("local_corpus_error:%s:%v", path, err))
		}
	}

	queryVec, err := p.embed.Embed(ctx, opts.Query)
	if err != nil {
		return nil, fmt.Errorf("preload: embed query: %w", err)
	}

	hits, err := p.store.Search(ctx, queryVec, opts.Query, vectorstore.SearchOptions{
		Kind:           vectorstore.KindChunk,
		Mode:           vectorstore.SearchModeHybrid,
		HybridAlpha:    opts.HybridAlpha,
		EmbeddingModel: p.embed.Name(),
		Limit:          maxChunks,
	})
	if err != nil {
		return nil, fmt.Errorf("preload: search chunks: %w", err)
	}

	var b strings.Builder
	truncated := false
	for _, h := range hits {
		piece := h.Record.Text + "\n\n"
		if b.Len()+len(piece) > maxChars {
			truncated = true
			break
		}
		b.WriteString(piece)
	}

	return &models.PreloadResolution{
		ContextText: strings.TrimSpace(b.String()),
		Sources:     sources,
		Truncated:   truncated,
	}, nil
}

// ingestLocalPath reads a local file from the corpus directory and caches it
// under a synthetic file:// URL so it's chunked/embedded the same way a
// fetched web page is.
func (p *Pipeline) ingestLocalPath(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}

	localURL := "file://" + abs
	_, err = p.cache.GetOrFetch(ctx, localURL, staticFetcher{title: filepath.Base(abs), content: string(data)})
	return err
}

type staticFetcher struct {
	title   string
	content string
}

func (f staticFetcher) Fetch(_ context.Context, _ string) (string, string, error) {
	return f.title, f.content, nil
}
