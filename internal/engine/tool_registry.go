package engine

import "github.com/evrenesat/askygo/internal/toolregistry"

// ToolRegistry, Tool, and ToolResult are aliases onto the toolregistry
// package so the executor can dispatch tool calls without maintaining a
// second registry implementation.
type (
	ToolRegistry = toolregistry.Registry
	Tool         = toolregistry.Tool
	ToolResult   = toolregistry.ToolResult
)

// NewToolRegistry returns an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return toolregistry.New()
}
