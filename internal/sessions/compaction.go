package sessions

import (
	"context"
	"fmt"
	"strings"

	"github.com/evrenesat/askygo/internal/llm"
	"github.com/evrenesat/askygo/pkg/models"
)

// Summarizer produces a bounded summary of session history for the
// "llm_summary" compaction strategy. llmSummarizer in cmd/askygo/main.go
// and researchcache.Summarizer share this shape.
type Summarizer interface {
	Summarize(ctx context.Context, title, content string) (string, error)
}

// StrategySummaries folds compacted messages into a rolling summary built
// by concatenating each message's own Summary field (or a truncated prefix
// of its content when no summary was recorded). No LLM call is made.
const StrategySummaries = "summaries"

// StrategyLLMSummary asks a Summarizer to produce a fresh rolling summary
// from the compacted window and the session's prior CompactedSummary.
const StrategyLLMSummary = "llm_summary"

// EstimateTokens is the same char/4 heuristic the engine and llm packages
// use, applied to a session's full message history.
func EstimateTokens(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += int(llm.EstimateTokens(m.Content))
		for _, tc := range m.ToolCalls {
			total += int(llm.EstimateTokens(string(tc.Input)))
		}
		for _, tr := range m.ToolResults {
			total += int(llm.EstimateTokens(tr.Content))
		}
	}
	return total
}

// Compact folds messages[:len(messages)-keepLastN] into sess.CompactedSummary
// according to strategy, leaving the most recent keepLastN messages
// untouched. It does not delete rows from the store; callers needing space
// reclamation do that separately.
func Compact(ctx context.Context, strategy string, sess *models.Session, messages []*models.Message, keepLastN int, summarizer Summarizer) (string, error) {
	if keepLastN < 0 {
		keepLastN = 0
	}
	if keepLastN >= len(messages) {
		return sess.CompactedSummary, nil
	}
	toFold := messages[:len(messages)-keepLastN]

	switch strategy {
	case StrategyLLMSummary:
		return compactLLMSummary(ctx, sess, toFold, summarizer)
	case StrategySummaries, "":
		return compactSummaries(sess, toFold), nil
	default:
		return "", fmt.Errorf("sessions: unknown compaction strategy %q", strategy)
	}
}

func compactSummaries(sess *models.Session, toFold []*models.Message) string {
	var b strings.Builder
	if sess.CompactedSummary != "" {
		b.WriteString(sess.CompactedSummary)
		b.WriteString("\n")
	}
	for _, m := range toFold {
		line := m.Summary
		if line == "" {
			line = truncate(m.Content, 200)
		}
		if line == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("[%s] %s\n", m.Role, line))
	}
	return strings.TrimSpace(b.String())
}

func compactLLMSummary(ctx context.Context, sess *models.Session, toFold []*models.Message, summarizer Summarizer) (string, error) {
	if summarizer == nil {
		return "", fmt.Errorf("sessions: llm_summary strategy requires a Summarizer")
	}
	var b strings.Builder
	for _, m := range toFold {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	summary, err := summarizer.Summarize(ctx, "Conversation so far", sess.CompactedSummary+"\n"+b.String())
	if err != nil {
		return "", fmt.Errorf("sessions: llm_summary: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
