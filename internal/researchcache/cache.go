// Package researchcache implements the content-addressed fetch cache: one
// row per distinct URL, deduplicated by url_hash, with content_hash-gated
// re-chunking/re-embedding and a background summarization pipeline.
package researchcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/evrenesat/askygo/internal/embeddings"
	"github.com/evrenesat/askygo/internal/rag/chunker"
	"github.com/evrenesat/askygo/internal/vectorstore"
	"github.com/evrenesat/askygo/pkg/models"
)

// Fetcher retrieves the raw content and title for a URL. Implementations
// are expected to apply SSRF checks before making the outbound request.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (title, content string, err error)
}

// Summarizer condenses a cached source's raw content into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, title, content string) (string, error)
}

// Cache is the content-addressed research cache.
type Cache struct {
	db      *sql.DB
	store   vectorstore.Store
	embed   embeddings.Provider
	chunker chunker.Chunker
	ttl     time.Duration
}

// Config configures a Cache.
type Config struct {
	// Path is the SQLite DSN for the cached_sources table.
	Path string
	// TTL is how long a fetched source stays fresh before a GetOrFetch call
	// re-fetches it.
	TTL time.Duration
}

// Open creates or attaches to a Cache backed by SQLite, the given vector
// store, embedding provider, and chunker.
func Open(cfg Config, store vectorstore.Store, embed embeddings.Provider, chunk chunker.Chunker) (*Cache, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("researchcache: open %q: %w", path, err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	c := &Cache{db: db, store: store, embed: embed, chunker: chunk, ttl: ttl}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) init() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS cached_sources (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			url_hash TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			title TEXT,
			raw_content TEXT,
			summary TEXT,
			summary_status TEXT NOT NULL DEFAULT 'queued',
			fetched_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("researchcache: create table: %w", err)
	}
	_, err = c.db.Exec("CREATE INDEX IF NOT EXISTS idx_cached_sources_expires ON cached_sources(expires_at)")
	if err != nil {
		return fmt.Errorf("researchcache: create index: %w", err)
	}
	return nil
}

// URLHash returns the content-address key for a URL: the hex SHA-256 of its
// normalized form (scheme+host lowercased, an empty path replaced by "/",
// fragment dropped).
func URLHash(rawURL string) (string, error) {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

func normalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("researchcache: invalid url %q: %w", rawURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached source for url if present and unexpired, without
// fetching.
func (c *Cache) Get(ctx context.Context, rawURL string) (*models.CachedSource, bool, error) {
	hash, err := URLHash(rawURL)
	if err != nil {
		return nil, false, err
	}
	src, err := c.getByHash(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if src == nil || time.Now().After(src.ExpiresAt) {
		return nil, false, nil
	}
	return src, true, nil
}

// GetOrFetch returns the cached source for rawURL, fetching and chunking it
// via fetcher if absent, expired, or unchanged-but-stale.
func (c *Cache) GetOrFetch(ctx context.Context, rawURL string, fetcher Fetcher) (*models.CachedSource, error) {
	hash, err := URLHash(rawURL)
	if err != nil {
		return nil, err
	}

	existing, err := c.getByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil && time.Now().Before(existing.ExpiresAt) {
		return existing, nil
	}

	title, content, err := fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("researchcache: fetch %q: %w", rawURL, err)
	}

	newHash := contentHash(content)
	now := time.Now()

	src := &models.CachedSource{
		ID:            uuid.New().String(),
		URL:           rawURL,
		URLHash:       hash,
		ContentHash:   newHash,
		Title:         title,
		RawContent:    content,
		SummaryStatus: models.JobQueued,
		FetchedAt:     now,
		ExpiresAt:     now.Add(c.ttl),
	}
	if existing != nil {
		src.ID = existing.ID
		if existing.ContentHash == newHash {
			// Content unchanged: keep the prior summary, just extend freshness.
			src.Summary = existing.Summary
			src.SummaryStatus = existing.SummaryStatus
		}
	}

	if err := c.upsert(ctx, src); err != nil {
		return nil, err
	}

	if existing == nil || existing.ContentHash != newHash {
		if err := c.reindexChunks(ctx, src); err != nil {
			return nil, err
		}
	}

	return src, nil
}

func (c *Cache) getByHash(ctx context.Context, hash string) (*models.CachedSource, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, url, url_hash, content_hash, title, raw_content, summary, summary_status, fetched_at, expires_at
		FROM cached_sources WHERE url_hash = ?
	`, hash)

	var src models.CachedSource
	var title, summary sql.NullString
	err := row.Scan(&src.ID, &src.URL, &src.URLHash, &src.ContentHash, &title, &src.RawContent,
		&summary, &src.SummaryStatus, &src.FetchedAt, &src.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("researchcache: get by hash: %w", err)
	}
	src.Title = title.String
	src.Summary = summary.String
	return &src, nil
}

func (c *Cache) upsert(ctx context.Context, src *models.CachedSource) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cached_sources (id, url, url_hash, content_hash, title, raw_content, summary, summary_status, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash) DO UPDATE SET
			content_hash = excluded.content_hash,
			title = excluded.title,
			raw_content = excluded.raw_content,
			summary = excluded.summary,
			summary_status = excluded.summary_status,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at
	`, src.ID, src.URL, src.URLHash, src.ContentHash, src.Title, src.RawContent,
		src.Summary, string(src.SummaryStatus), src.FetchedAt, src.ExpiresAt)
	if err != nil {
		return fmt.Errorf("researchcache: upsert: %w", err)
	}
	return nil
}

// reindexChunks drops any existing chunks for src and re-chunks+embeds its
// raw content, invalidating stale embeddings whenever content_hash changes.
func (c *Cache) reindexChunks(ctx context.Context, src *models.CachedSource) error {
	existingCount, err := c.store.Count(ctx, vectorstore.KindChunk, src.ID, "", "")
	if err != nil {
		return fmt.Errorf("researchcache: count existing chunks: %w", err)
	}
	if existingCount > 0 {
		hits, err := c.store.Search(ctx, nil, "", vectorstore.SearchOptions{
			Kind: vectorstore.KindChunk, CacheID: src.ID, Mode: vectorstore.SearchModeLexical, Limit: 10000,
		})
		if err != nil {
			return fmt.Errorf("researchcache: list existing chunks: %w", err)
		}
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.Record.ID
		}
		if err := c.store.Delete(ctx, ids); err != nil {
			return fmt.Errorf("researchcache: delete stale chunks: %w", err)
		}
	}

	pieces := c.chunker.Chunk(src.RawContent)
	if len(pieces) == 0 {
		return nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	vectors, err := c.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("researchcache: embed chunks for %s: %w", src.URL, err)
	}

	records := make([]vectorstore.Record, len(pieces))
	for i, p := range pieces {
		records[i] = vectorstore.Record{
			ID:             uuid.New().String(),
			Kind:           vectorstore.KindChunk,
			Text:           p.Content,
			Embedding:      vectors[i],
			EmbeddingModel: c.embed.Name(),
			CacheID:        src.ID,
		}
	}
	return c.store.Index(ctx, records)
}

// CleanExpired deletes cached sources (and their chunks) whose expires_at
// has passed. Returns the number of sources removed.
func (c *Cache) CleanExpired(ctx context.Context) (int, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id FROM cached_sources WHERE expires_at < ?", time.Now())
	if err != nil {
		return 0, fmt.Errorf("researchcache: query expired: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("researchcache: scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		hits, err := c.store.Search(ctx, nil, "", vectorstore.SearchOptions{
			Kind: vectorstore.KindChunk, CacheID: id, Mode: vectorstore.SearchModeLexical, Limit: 10000,
		})
		if err != nil {
			return 0, fmt.Errorf("researchcache: list chunks for expired source %s: %w", id, err)
		}
		chunkIDs := make([]string, len(hits))
		for i, h := range hits {
			chunkIDs[i] = h.Record.ID
		}
		if err := c.store.Delete(ctx, chunkIDs); err != nil {
			return 0, fmt.Errorf("researchcache: delete chunks for expired source %s: %w", id, err)
		}
		if _, err := c.db.ExecContext(ctx, "DELETE FROM cached_sources WHERE id = ?", id); err != nil {
			return 0, fmt.Errorf("researchcache: delete expired source %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
