package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/evrenesat/askygo/internal/embeddings"
	"github.com/evrenesat/askygo/internal/toolregistry"
	"github.com/evrenesat/askygo/internal/vectorstore"
)

// SaveFindingTool implements save_finding: record a durable research
// conclusion scoped to the current session, with the source URLs it drew
// from embedded in the stored text for later recall.
type SaveFindingTool struct {
	store vectorstore.Store
	embed embeddings.Provider
}

var _ toolregistry.Tool = (*SaveFindingTool)(nil)

// NewSaveFindingTool builds a save_finding tool.
func NewSaveFindingTool(store vectorstore.Store, embed embeddings.Provider) *SaveFindingTool {
	return &SaveFindingTool{store: store, embed: embed}
}

// Name implements toolregistry.Tool.
func (t *SaveFindingTool) Name() string { return "save_finding" }

// Description implements toolregistry.Tool.
func (t *SaveFindingTool) Description() string {
	return "Record a research conclusion for this session, citing the sources it came from."
}

// Schema implements toolregistry.Tool.
func (t *SaveFindingTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string"},
			"session_id": {"type": "string"},
			"source_urls": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["text", "session_id"]
	}`)
}

// Execute implements toolregistry.Tool.
func (t *SaveFindingTool) Execute(ctx context.Context, params json.RawMessage) (*toolregistry.ToolResult, error) {
	var p struct {
		Text       string   `json:"text"`
		SessionID  string   `json:"session_id"`
		SourceURLs []string `json:"source_urls"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Text == "" || p.SessionID == "" {
		return &toolregistry.ToolResult{Content: "missing required parameter: text and session_id are both required", IsError: true}, nil
	}

	vec, err := t.embed.Embed(ctx, p.Text)
	if err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("embed failed: %v", err), IsError: true}, nil
	}

	text := p.Text
	for _, u := range p.SourceURLs {
		text += "\nSource: " + u
	}

	id := uuid.NewString()
	record := vectorstore.Record{
		ID:             id,
		Kind:           vectorstore.KindFinding,
		Text:           text,
		Embedding:      vec,
		EmbeddingModel: t.embed.Name(),
		SessionID:      p.SessionID,
	}
	if err := t.store.Index(ctx, []vectorstore.Record{record}); err != nil {
		return &toolregistry.ToolResult{Content: fmt.Sprintf("save failed: %v", err), IsError: true}, nil
	}

	payload, _ := json.Marshal(map[string]any{"finding_id": id, "source_urls": p.SourceURLs})
	return &toolregistry.ToolResult{Content: string(payload)}, nil
}
