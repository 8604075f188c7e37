package research

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evrenesat/askygo/internal/embeddings"
	"github.com/evrenesat/askygo/internal/toolregistry"
	"github.com/evrenesat/askygo/internal/vectorstore"
)

// defaultNearDuplicateThreshold is the cosine similarity at or above which
// save_memory folds a new memory into an existing row instead of inserting
// it as a new one (spec.md §3 UserMemory invariant, §8 property 3: cosine
// >= 0.90 against any existing entry with the same embedding_model).
const defaultNearDuplicateThreshold = 0.90

// SaveMemoryTool implements save_memory: store a durable fact about a user,
// scoped to the calling agent. A near-duplicate existing memory (same
// embedding model, cosine similarity at or above its configured threshold)
// is updated in place rather than duplicated.
type SaveMemoryTool struct {
	store vectorstore.Store
	embed embeddings.Provider

	// NearDuplicateThreshold overrides defaultNearDuplicateThreshold when
	// non-zero, per spec.md §4.B's find_near_duplicate(text, threshold)
	// taking the threshold as a parameter rather than a fixed constant.
	NearDuplicateThreshold float64
}

var _ toolregistry.Tool = (*SaveMemoryTool)(nil)

// NewSaveMemoryTool builds a save_memory tool using defaultNearDuplicateThreshold.
func NewSaveMemoryTool(store vectorstore.Store, embed embeddings.Provider) *SaveMemoryTool {
	return &SaveMemoryTool{store: store, embed: embed, NearDuplicateThreshold: defaultNearDuplicateThreshold}
}

func (t *SaveMemoryTool) threshold() float32 {
	if t.NearDuplicateThreshold <= 0 {
		return defaultNearDuplicateThreshold
	}
	return float32(t.NearDuplicateThreshold)
}

// Name implements toolregistry.Tool.
func (t *SaveMemoryTool) Name() string { return "save_memory" }

// Description implements toolregistry.Tool.
func (t *SaveMemoryTool) Description() string {
	return "Save a durable fact about the user for recall in future conversations."
}

// Schema implements toolregistry.Tool.
func (t *SaveMemoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string"},
			"agent_id": {"type": "string"}
		},
		"required": ["content", "agent_id"]
	}`)
}

// Execute implements toolregistry.Tool.
func (t *SaveMemoryTool) Execute(ctx context.Context, params json.RawMessage) (*toolregistry.ToolResult, error) {
	var p struct {
		Content string `json:"content"`
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Content == "" || p.AgentID == "" {
		return &toolregistry.ToolResult{Content: "missing required parameter: content and agent_id are both required", IsError: true}, nil
	}

	vec, err := t.embed.Embed(ctx, p.Content)
	if err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("embed failed: %v", err), IsError: true}, nil
	}

	existing, err := t.findNearDuplicate(ctx, p.AgentID, vec, t.threshold())
	if err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("near-duplicate lookup failed: %v", err), IsError: true}, nil
	}

	id := existing
	action := "updated"
	if id == "" {
		id = uuid.NewString()
		action = "created"
	}

	record := vectorstore.Record{
		ID:             id,
		Kind:           vectorstore.KindUserMemory,
		Text:           p.Content,
		Embedding:      vec,
		EmbeddingModel: t.embed.Name(),
		AgentID:        p.AgentID,
	}
	if err := t.store.Index(ctx, []vectorstore.Record{record}); err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("save failed: %v", err), IsError: true}, nil
	}

	payload, _ := json.Marshal(map[string]any{"memory_id": id, "action": action})
	return &toolregistry.ToolResult{Content: string(payload)}, nil
}

// findNearDuplicate returns the ID of an existing memory for this agent
// whose embedding (from the same model) is at or above threshold cosine
// similarity to vec, or "" if none qualifies.
func (t *SaveMemoryTool) findNearDuplicate(ctx context.Context, agentID string, vec []float32, threshold float32) (string, error) {
	hits, err := t.store.Search(ctx, vec, "", vectorstore.SearchOptions{
		Kind:           vectorstore.KindUserMemory,
		Mode:           vectorstore.SearchModeVector,
		EmbeddingModel: t.embed.Name(),
		AgentID:        agentID,
		Limit:          1,
	})
	if err != nil {
		return "", err
	}
	if len(hits) == 0 || hits[0].Score < threshold {
		return "", nil
	}
	return hits[0].Record.ID, nil
}

// QueryResearchMemoryTool implements query_research_memory: hybrid search
// over a single agent's saved memories.
type QueryResearchMemoryTool struct {
	store vectorstore.Store
	embed embeddings.Provider
}

var _ toolregistry.Tool = (*QueryResearchMemoryTool)(nil)

// NewQueryResearchMemoryTool builds a query_research_memory tool.
func NewQueryResearchMemoryTool(store vectorstore.Store, embed embeddings.Provider) *QueryResearchMemoryTool {
	return &QueryResearchMemoryTool{store: store, embed: embed}
}

// Name implements toolregistry.Tool.
func (t *QueryResearchMemoryTool) Name() string { return "query_research_memory" }

// Description implements toolregistry.Tool.
func (t *QueryResearchMemoryTool) Description() string {
	return "Search the user's saved memories for facts relevant to a query."
}

// Schema implements toolregistry.Tool.
func (t *QueryResearchMemoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"agent_id": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 50}
		},
		"required": ["query", "agent_id"]
	}`)
}

// Execute implements toolregistry.Tool.
func (t *QueryResearchMemoryTool) Execute(ctx context.Context, params json.RawMessage) (*toolregistry.ToolResult, error) {
	var p struct {
		Query   string `json:"query"`
		AgentID string `json:"agent_id"`
		Limit   int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Query == "" || p.AgentID == "" {
		return &toolregistry.ToolResult{Content: "missing required parameter: query and agent_id are both required", IsError: true}, nil
	}
	if p.Limit <= 0 {
		p.Limit = 5
	}

	vec, err := t.embed.Embed(ctx, p.Query)
	if err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("embed failed: %v", err), IsError: true}, nil
	}

	hits, err := t.store.Search(ctx, vec, p.Query, vectorstore.SearchOptions{
		Kind:           vectorstore.KindUserMemory,
		Mode:           vectorstore.SearchModeHybrid,
		EmbeddingModel: t.embed.Name(),
		AgentID:        p.AgentID,
		Limit:          p.Limit,
	})
	if err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("search failed: %v", err), IsError: true}, nil
	}

	memories := make([]map[string]any, len(hits))
	for i, h := range hits {
		memories[i] = map[string]any{"id": h.Record.ID, "content": h.Record.Text, "score": h.Score}
	}
	payload, _ := json.Marshal(map[string]any{"memories": memories, "queried_at": time.Now().UTC().Format(time.RFC3339)})
	return &toolregistry.ToolResult{Content: string(payload)}, nil
}
