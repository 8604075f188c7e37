package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evrenesat/askygo/internal/embeddings"
	"github.com/evrenesat/askygo/internal/researchcache"
	"github.com/evrenesat/askygo/internal/toolregistry"
	"github.com/evrenesat/askygo/internal/vectorstore"
)

// RelevantContentTool implements get_relevant_content: hybrid search over
// previously cached chunks for a query, independent of any single URL.
type RelevantContentTool struct {
	store vectorstore.Store
	embed embeddings.Provider
}

var _ toolregistry.Tool = (*RelevantContentTool)(nil)

// NewRelevantContentTool builds a get_relevant_content tool.
func NewRelevantContentTool(store vectorstore.Store, embed embeddings.Provider) *RelevantContentTool {
	return &RelevantContentTool{store: store, embed: embed}
}

// Name implements toolregistry.Tool.
func (t *RelevantContentTool) Name() string { return "get_relevant_content" }

// Description implements toolregistry.Tool.
func (t *RelevantContentTool) Description() string {
	return "Search previously cached page content for passages relevant to a query."
}

// Schema implements toolregistry.Tool.
func (t *RelevantContentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 50}
		},
		"required": ["query"]
	}`)
}

// Execute implements toolregistry.Tool.
func (t *RelevantContentTool) Execute(ctx context.Context, params json.RawMessage) (*toolregistry.ToolResult, error) {
	var p struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Query == "" {
		return &toolregistry.ToolResult{Content: "missing required parameter: query", IsError: true}, nil
	}
	if p.Limit <= 0 {
		p.Limit = 5
	}

	vec, err := t.embed.Embed(ctx, p.Query)
	if err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("embed failed: %v", err), IsError: true}, nil
	}

	hits, err := t.store.Search(ctx, vec, p.Query, vectorstore.SearchOptions{
		Kind:           vectorstore.KindChunk,
		Mode:           vectorstore.SearchModeHybrid,
		EmbeddingModel: t.embed.Name(),
		Limit:          p.Limit,
	})
	if err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("search failed: %v", err), IsError: true}, nil
	}

	results := make([]map[string]any, len(hits))
	for i, h := range hits {
		results[i] = map[string]any{"text": h.Record.Text, "score": h.Score, "cache_id": h.Record.CacheID}
	}
	payload, _ := json.Marshal(map[string]any{"results": results})
	return &toolregistry.ToolResult{Content: string(payload)}, nil
}

// SummarizeSectionTool implements summarize_section: condense an arbitrary
// block of text the model has already retrieved, without going through the
// research cache.
type SummarizeSectionTool struct {
	summarizer researchcache.Summarizer
}

var _ toolregistry.Tool = (*SummarizeSectionTool)(nil)

// NewSummarizeSectionTool builds a summarize_section tool.
func NewSummarizeSectionTool(summarizer researchcache.Summarizer) *SummarizeSectionTool {
	return &SummarizeSectionTool{summarizer: summarizer}
}

// Name implements toolregistry.Tool.
func (t *SummarizeSectionTool) Name() string { return "summarize_section" }

// Description implements toolregistry.Tool.
func (t *SummarizeSectionTool) Description() string {
	return "Condense a block of text into a short summary."
}

// Schema implements toolregistry.Tool.
func (t *SummarizeSectionTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string"},
			"title": {"type": "string"}
		},
		"required": ["text"]
	}`)
}

// Execute implements toolregistry.Tool.
func (t *SummarizeSectionTool) Execute(ctx context.Context, params json.RawMessage) (*toolregistry.ToolResult, error) {
	var p struct {
		Text  string `json:"text"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Text == "" {
		return &toolregistry.ToolResult{Content: "missing required parameter: text", IsError: true}, nil
	}

	summary, err := t.summarizer.Summarize(ctx, p.Title, p.Text)
	if err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("summarize failed: %v", err), IsError: true}, nil
	}
	return &toolregistry.ToolResult{Content: summary}, nil
}
