package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evrenesat/askygo/internal/researchcache"
	"github.com/evrenesat/askygo/internal/toolregistry"
)

// URLContentTool implements get_url_content: fetch (or reuse) a cached
// source and return its content, optionally queueing background
// summarization for later retrieval via get_url_details.
type URLContentTool struct {
	cache      *researchcache.Cache
	fetcher    researchcache.Fetcher
	summarizer *researchcache.SummarizerPool
	maxChars   int
}

var _ toolregistry.Tool = (*URLContentTool)(nil)

// NewURLContentTool builds a get_url_content tool.
func NewURLContentTool(cache *researchcache.Cache, fetcher researchcache.Fetcher, summarizer *researchcache.SummarizerPool, maxChars int) *URLContentTool {
	if maxChars <= 0 {
		maxChars = 10000
	}
	return &URLContentTool{cache: cache, fetcher: fetcher, summarizer: summarizer, maxChars: maxChars}
}

// Name implements toolregistry.Tool.
func (t *URLContentTool) Name() string { return "get_url_content" }

// Description implements toolregistry.Tool.
func (t *URLContentTool) Description() string {
	return "Fetch a URL's content through the research cache, optionally queueing it for background summarization."
}

// Schema implements toolregistry.Tool.
func (t *URLContentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to fetch"},
			"summarize": {"type": "boolean", "description": "Queue the content for background summarization"}
		},
		"required": ["url"]
	}`)
}

type urlContentParams struct {
	URL       string `json:"url"`
	Summarize bool   `json:"summarize"`
}

// Execute implements toolregistry.Tool.
func (t *URLContentTool) Execute(ctx context.Context, params json.RawMessage) (*toolregistry.ToolResult, error) {
	var p urlContentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.URL == "" {
		return &toolregistry.ToolResult{Content: "missing required parameter: url", IsError: true}, nil
	}

	src, err := t.cache.GetOrFetch(ctx, p.URL, t.fetcher)
	if err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("fetch failed: %v", err), IsError: true}, nil
	}

	if p.Summarize && t.summarizer != nil {
		if err := t.summarizer.Enqueue(ctx, src); err != nil {
			return &toolregistry.ToolResult{Content: fmt.Sprintf("failed to queue summarization: %v", err), IsError: true}, nil
		}
	}

	content := src.RawContent
	truncated := false
	if len(content) > t.maxChars {
		content = content[:t.maxChars] + "..."
		truncated = true
	}

	payload, _ := json.Marshal(map[string]any{
		"url":            src.URL,
		"title":          src.Title,
		"content":        content,
		"truncated":      truncated,
		"summary_status": src.SummaryStatus,
	})
	return &toolregistry.ToolResult{Content: string(payload)}, nil
}

// URLDetailsTool implements get_url_details: inspect a previously cached
// source's metadata and summary without re-fetching or returning raw content.
type URLDetailsTool struct {
	cache *researchcache.Cache
}

var _ toolregistry.Tool = (*URLDetailsTool)(nil)

// NewURLDetailsTool builds a get_url_details tool.
func NewURLDetailsTool(cache *researchcache.Cache) *URLDetailsTool {
	return &URLDetailsTool{cache: cache}
}

// Name implements toolregistry.Tool.
func (t *URLDetailsTool) Name() string { return "get_url_details" }

// Description implements toolregistry.Tool.
func (t *URLDetailsTool) Description() string {
	return "Inspect a cached URL's metadata and summary status without re-fetching its content."
}

// Schema implements toolregistry.Tool.
func (t *URLDetailsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"url": {"type": "string"}},
		"required": ["url"]
	}`)
}

// Execute implements toolregistry.Tool.
func (t *URLDetailsTool) Execute(ctx context.Context, params json.RawMessage) (*toolregistry.ToolResult, error) {
	var p struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.URL == "" {
		return &toolregistry.ToolResult{Content: "missing required parameter: url", IsError: true}, nil
	}

	src, found, err := t.cache.Get(ctx, p.URL)
	if err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("lookup failed: %v", err), IsError: true}, nil
	}
	if !found {
		return &toolregistry.ToolResult{Content: "not cached; call get_url_content first"}, nil
	}

	payload, _ := json.Marshal(map[string]any{
		"url":            src.URL,
		"title":          src.Title,
		"summary":        src.Summary,
		"summary_status": src.SummaryStatus,
		"fetched_at":     src.FetchedAt,
		"expires_at":     src.ExpiresAt,
	})
	return &toolregistry.ToolResult{Content: string(payload)}, nil
}
