package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/evrenesat/askygo/internal/llm"
	"github.com/evrenesat/askygo/pkg/models"
)

// textualToolCallName matches the "to=functions.<name>" marker a handful of
// models emit in plain content instead of a native tool_calls array.
var textualToolCallName = regexp.MustCompile(`to=functions\.([a-zA-Z0-9_]+)`)

// textualToolCallJSON grabs the span from the first "{" to the last "}"
// anywhere in the content (a greedy DOTALL match), mirroring the original's
// "(\{.*\})" match.
var textualToolCallJSON = regexp.MustCompile(`(?s)(\{.*\})`)

// extractToolCalls returns resp's native tool calls if present, otherwise
// falls back to parsing the textual "to=functions.<name>\n{...}" form a
// subset of models emit in content instead of a tool_calls array, matching
// spec.md §4.F's extraction contract. The textual form gets a synthetic id
// "textual_call_<turn>" since no provider-issued call id exists for it.
func extractToolCalls(resp *llm.CompletionResponse, turn int) []models.ToolCall {
	if len(resp.ToolCalls) > 0 {
		return resp.ToolCalls
	}
	name, args, ok := parseTextualToolCall(resp.Content)
	if !ok {
		return nil
	}
	return []models.ToolCall{{
		ID:    fmt.Sprintf("textual_call_%d", turn),
		Name:  name,
		Input: json.RawMessage(args),
	}}
}

// parseTextualToolCall implements the original's parse_textual_tool_call:
// find the "to=functions.<name>" marker, then the brace-delimited span
// textualToolCallJSON matches, and verify it actually parses as JSON before
// accepting it.
func parseTextualToolCall(content string) (name string, argsJSON string, ok bool) {
	if content == "" {
		return "", "", false
	}
	nameMatch := textualToolCallName.FindStringSubmatch(content)
	if nameMatch == nil {
		return "", "", false
	}
	jsonMatch := textualToolCallJSON.FindStringSubmatch(content)
	if jsonMatch == nil {
		return "", "", false
	}
	var probe any
	if err := json.Unmarshal([]byte(jsonMatch[1]), &probe); err != nil {
		return "", "", false
	}
	return nameMatch[1], jsonMatch[1], true
}

// LoopConfig bounds a single call to Loop.Run.
type LoopConfig struct {
	// MaxTurns is the maximum number of model round-trips before the loop
	// is forced to stop with HaltMaxTurns. Default: 15.
	MaxTurns int

	// MaxTokens is the max_tokens sent on every completion request.
	// Default: 4096.
	MaxTokens int

	// ContextWindowSize is used for the "[SYSTEM UPDATE]" usage-percentage
	// calculation. Default: 128000.
	ContextWindowSize int

	// DisabledTools names tools excluded from the tool list sent to the model.
	DisabledTools []string

	// Lean suppresses the per-turn "[SYSTEM UPDATE]" context/turns-remaining
	// injection (spec.md §4.F: "Lean mode: suppresses the SYSTEM UPDATE
	// injection").
	Lean bool
}

// DefaultLoopConfig returns the loop defaults used when config is nil.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{MaxTurns: 15, MaxTokens: 4096, ContextWindowSize: 128000}
}

func sanitizeLoopConfig(cfg *LoopConfig) *LoopConfig {
	if cfg == nil {
		return DefaultLoopConfig()
	}
	out := *cfg
	defaults := DefaultLoopConfig()
	if out.MaxTurns <= 0 {
		out.MaxTurns = defaults.MaxTurns
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaults.MaxTokens
	}
	if out.ContextWindowSize <= 0 {
		out.ContextWindowSize = defaults.ContextWindowSize
	}
	return &out
}

// Loop runs the bounded tool-calling conversation turn: call the model,
// execute any tool calls it requests in parallel, feed the results back,
// and repeat until the model answers without tool calls or MaxTurns is hit.
//
// State machine: Init -> Complete (model call) -> [tool calls present?] ->
// Execute Tools -> Continue (loop) | no tool calls -> Halt(final_answer).
type Loop struct {
	provider llm.Provider
	registry *ToolRegistry
	executor *Executor
	config   *LoopConfig
}

// NewLoop builds a Loop. If registry is nil, an empty one is created. If
// config is nil, DefaultLoopConfig is used.
func NewLoop(provider llm.Provider, registry *ToolRegistry, config *LoopConfig) *Loop {
	config = sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}
	return &Loop{
		provider: provider,
		registry: registry,
		executor: NewExecutor(registry, DefaultExecutorConfig()),
		config:   config,
	}
}

// Run executes the turn loop starting from system and the given history,
// which must end with the new user message.
func (l *Loop) Run(ctx context.Context, system string, history []llm.Message) *models.TurnResult {
	result := &models.TurnResult{}
	tools := l.registry.AsLLMTools(l.config.DisabledTools)

	messages := append([]llm.Message(nil), history...)

	for turn := 1; turn <= l.config.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			result.HaltReason = models.HaltCancelled
			result.Err = err.Error()
			result.TurnsUsed = turn - 1
			return result
		}

		turnSystem := system
		if !l.config.Lean {
			turnSystem = l.withSystemUpdate(system, messages, turn)
		}
		resp, err := l.provider.Complete(ctx, llm.CompletionRequest{
			System:    turnSystem,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: l.config.MaxTokens,
		})
		if err != nil {
			result.HaltReason = models.HaltError
			result.Err = err.Error()
			result.TurnsUsed = turn
			return result
		}

		result.Usage.Add(resp.PromptTokens, resp.CompletionTokens, 0)
		if resp.PromptTokens == 0 && resp.CompletionTokens == 0 {
			result.Usage.Add(llm.EstimateTokens(turnSystem), llm.EstimateTokens(resp.Content), 0)
		}

		calls := extractToolCalls(resp, turn)
		if len(calls) == 0 {
			result.FinalAnswer = resp.Content
			result.HaltReason = models.HaltFinalAnswer
			result.TurnsUsed = turn
			return result
		}

		result.ToolCalls = append(result.ToolCalls, calls...)
		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: calls})

		execResults := l.executor.ExecuteAll(ctx, calls)
		toolResults := ResultsToMessages(execResults)
		messages = append(messages, llm.Message{Role: "tool", ToolResults: toolResults})

		if turn == l.config.MaxTurns {
			return l.gracefulExit(ctx, system, messages, result, turn)
		}
	}

	return l.gracefulExit(ctx, system, messages, result, l.config.MaxTurns)
}

// gracefulExit makes one final, tool-less completion call after max_turns is
// reached so the model can summarize what it found instead of the caller
// seeing a bare halt. Total LLM calls for a run are therefore bounded by
// max_turns+1.
func (l *Loop) gracefulExit(ctx context.Context, system string, messages []llm.Message, result *models.TurnResult, turnsUsed int) *models.TurnResult {
	finalSystem := system + "\n\n[SYSTEM UPDATE] Tool calls are no longer available. " +
		"Provide your final answer now based on the information already gathered."

	resp, err := l.provider.Complete(ctx, llm.CompletionRequest{
		System:    finalSystem,
		Messages:  messages,
		MaxTokens: l.config.MaxTokens,
	})
	if err != nil {
		result.HaltReason = models.HaltMaxTurns
		result.TurnsUsed = turnsUsed
		result.Err = err.Error()
		return result
	}

	result.Usage.Add(resp.PromptTokens, resp.CompletionTokens, 0)
	if resp.PromptTokens == 0 && resp.CompletionTokens == 0 {
		result.Usage.Add(llm.EstimateTokens(finalSystem), llm.EstimateTokens(resp.Content), 0)
	}

	result.FinalAnswer = resp.Content
	result.HaltReason = models.HaltMaxTurns
	result.TurnsUsed = turnsUsed + 1
	return result
}

// withSystemUpdate appends the per-turn status line the original's
// core/engine.py injects ahead of every model call: how much of the
// configured context window is consumed so far, and how many turns remain.
func (l *Loop) withSystemUpdate(system string, messages []llm.Message, turn int) string {
	chars := len(system)
	for _, m := range messages {
		chars += len(m.Content)
		for _, tr := range m.ToolResults {
			chars += len(tr.Content)
		}
	}
	used := chars / 4
	pct := float64(used) / float64(l.config.ContextWindowSize) * 100
	remaining := l.config.MaxTurns - turn + 1
	return fmt.Sprintf("%s\n\n[SYSTEM UPDATE] Context Used: %.1f%% / Turns Remaining: %d (out of %d)",
		system, pct, remaining, l.config.MaxTurns)
}

