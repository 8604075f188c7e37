// Package toolregistry implements the thread-safe tool catalog consulted
// by the conversation engine on every turn: registration, JSON-Schema
// export for the LLM, and dispatch by name.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

const (
	// MaxToolNameLength bounds registered tool names.
	MaxToolNameLength = 256

	// MaxToolParamsSize bounds the raw JSON a tool call may carry, in bytes.
	MaxToolParamsSize = 10 << 20
)

// ToolResult is what a Tool.Execute call returns to the conversation engine.
type ToolResult struct {
	Content string
	IsError bool
}

// Tool is anything the conversation engine can dispatch a tool call to.
type Tool interface {
	// Name is the identifier the LLM uses to select this tool.
	Name() string
	// Description is shown to the LLM alongside Schema.
	Description() string
	// Schema is the JSON Schema for this tool's parameters.
	Schema() json.RawMessage
	// Execute runs the tool against the raw JSON parameters from a tool call.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// LLMTool is the JSON-Schema-shaped description sent to the model.
type LLMTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Registry is a thread-safe map of tool name to Tool implementation.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New creates an empty tool registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("toolregistry: tool name must not be empty")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("toolregistry: tool name %q exceeds %d characters", name, MaxToolNameLength)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool by name. A no-op if the name isn't registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute dispatches params to the named tool, enforcing the params size limit.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(params) > MaxToolParamsSize {
		return nil, fmt.Errorf("toolregistry: tool call params for %q exceed %d bytes", name, MaxToolParamsSize)
	}

	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	return tool.Execute(ctx, params)
}

// AsLLMTools exports the registry's contents as the schema list passed to
// the model, excluding anything named in disabled.
func (r *Registry) AsLLMTools(disabled []string) []LLMTool {
	skip := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		skip[name] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LLMTool, 0, len(r.tools))
	for name, tool := range r.tools {
		if skip[name] {
			continue
		}
		out = append(out, LLMTool{
			Name:        name,
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return out
}

// Names returns the currently registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
