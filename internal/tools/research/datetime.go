// Package research implements the conversation engine's research-oriented
// tools: date/time, cached URL fetch/inspection, durable memory, and
// findings, all dispatched through the tool registry.
package research

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evrenesat/askygo/internal/toolregistry"
)

// DateTimeTool implements get_date_time, a no-argument tool that reports
// the current time so the model doesn't have to guess it.
type DateTimeTool struct {
	now func() time.Time
}

var _ toolregistry.Tool = (*DateTimeTool)(nil)

// NewDateTimeTool returns a get_date_time tool using time.Now.
func NewDateTimeTool() *DateTimeTool {
	return &DateTimeTool{now: time.Now}
}

// Name implements toolregistry.Tool.
func (t *DateTimeTool) Name() string { return "get_date_time" }

// Description implements toolregistry.Tool.
func (t *DateTimeTool) Description() string {
	return "Return the current date and time in UTC."
}

// Schema implements toolregistry.Tool.
func (t *DateTimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

// Execute implements toolregistry.Tool.
func (t *DateTimeTool) Execute(_ context.Context, _ json.RawMessage) (*toolregistry.ToolResult, error) {
	now := t.now().UTC()
	payload, _ := json.Marshal(map[string]string{
		"iso8601": now.Format(time.RFC3339),
		"weekday": now.Weekday().String(),
	})
	return &toolregistry.ToolResult{Content: string(payload)}, nil
}
