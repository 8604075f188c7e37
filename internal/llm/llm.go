// Package llm provides the chat-completion client the conversation engine
// calls once per turn: a typed request/response shape independent of any
// particular model API, backed by go-openai for the real implementation and
// a scripted fake for tests.
package llm

import (
	"context"

	"github.com/evrenesat/askygo/internal/toolregistry"
	"github.com/evrenesat/askygo/pkg/models"
)

// Message is one entry in the conversation history sent to the model.
type Message struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// CompletionRequest is a single non-streaming chat-completion call.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []toolregistry.LLMTool
	MaxTokens int
}

// CompletionResponse is the model's answer for one turn: either a final
// text answer, or one or more tool calls it wants executed before it will
// produce one.
type CompletionResponse struct {
	Content          string
	ToolCalls        []models.ToolCall
	PromptTokens     int64
	CompletionTokens int64
}

// Provider generates chat completions for a single model family.
type Provider interface {
	// Complete sends a request and returns the model's response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the provider (e.g. "openai").
	Name() string
}

// EstimateTokens is the char/4 fallback used when a provider response
// doesn't report usage, matching the original's rough token accounting.
func EstimateTokens(text string) int64 {
	return int64(len(text)/4 + 1)
}
