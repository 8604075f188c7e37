// Package turnclient implements the top-level run_turn orchestrator: it
// resolves a session, runs the preload pipeline, assembles the system
// prompt and initial message list, picks the tool registry, invokes the
// conversation engine, persists the turn, and optionally kicks off
// background memory extraction.
package turnclient

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/evrenesat/askygo/internal/engine"
	"github.com/evrenesat/askygo/internal/llm"
	"github.com/evrenesat/askygo/internal/models"
	"github.com/evrenesat/askygo/internal/preload"
	"github.com/evrenesat/askygo/internal/sessions"
	"github.com/evrenesat/askygo/internal/toolregistry"
	"github.com/evrenesat/askygo/internal/usage"
	appmodels "github.com/evrenesat/askygo/pkg/models"
)

// retrievalTools are disabled for a turn once the preload pipeline already
// produced a direct-answer-ready seed fetch, since the model already has
// the full answer in context (spec.md §4.H step 6).
var retrievalTools = []string{"web_search", "get_url_content", "get_url_details"}

// Request is one call to Run.
type Request struct {
	// SessionName, ResumeTerm, and ShellSticky mirror sessions.ResolveRequest.
	SessionName string
	ResumeTerm  string
	ShellSticky bool

	Query string

	ResearchMode     bool
	LocalCorpusPaths []string
	SeedURLs         []string
	SubQueries       []string
	Search           preload.SearchExecutor

	// Lean suppresses the engine's per-turn SYSTEM UPDATE injection and the
	// background memory-extraction task, for callers that want a quiet,
	// minimal-overhead turn (e.g. scripted batch use).
	Lean bool

	DisabledTools []string
}

// Result is what Run returns, matching spec.md §4.H step 11.
type Result struct {
	FinalAnswer string
	Halted      bool
	HaltReason  appmodels.HaltReason
	Notices     []string
	Messages    []llm.Message
	Preload     *appmodels.PreloadResolution
	SessionID   string
	Session     *appmodels.Session
	TurnsUsed   int
	Usage       appmodels.UsageTracker

	// CostUSD and CostFormatted are populated when Catalog carries pricing
	// for the session's model; zero/empty otherwise.
	CostUSD       float64
	CostFormatted string
}

// MemoryExtractor asks an LLM to pull durable facts out of a finished turn
// and persists each via the save_memory tool, for "elephant mode" sessions.
type MemoryExtractor interface {
	ExtractAndSave(ctx context.Context, sessionID, query, answer string) error
}

// Client wires together the components a turn needs. Built once at process
// startup and reused across turns.
type Client struct {
	Sessions        *sessions.Manager
	Preload         *preload.Pipeline
	DefaultRegistry *toolregistry.Registry
	ResearchRegistry *toolregistry.Registry
	LoopConfig      *engine.LoopConfig
	Provider        llm.Provider
	BasePrompt      string
	MemoryExtractor MemoryExtractor
	Logger          *slog.Logger

	// Catalog resolves a session's model alias to its pricing and
	// capability metadata. UsageTracker, if set, accumulates a running
	// cost/token ledger across turns; both are optional.
	Catalog      *models.Catalog
	UsageTracker *usage.Tracker
}

var localTargetPattern = regexp.MustCompile(`\b(?:local|file)://\S+`)

// redactLocalTargets strips local-target tokens from the query text so
// they never leak to the model, returning the cleaned query and the
// extracted paths for local corpus ingestion.
func redactLocalTargets(query string) (string, []string) {
	matches := localTargetPattern.FindAllString(query, -1)
	if len(matches) == 0 {
		return query, nil
	}
	cleaned := localTargetPattern.ReplaceAllString(query, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, strings.TrimPrefix(strings.TrimPrefix(m, "local://"), "file://"))
	}
	return cleaned, paths
}

// Run executes a single turn end to end.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return &Result{Halted: true, HaltReason: appmodels.HaltInvalidInput, Notices: []string{"empty query"}}, nil
	}

	resolution, err := c.Sessions.Resolve(ctx, sessions.ResolveRequest{
		Name:        req.SessionName,
		ResumeTerm:  req.ResumeTerm,
		ShellSticky: req.ShellSticky,
	})
	if err != nil {
		return nil, fmt.Errorf("turnclient: resolve session: %w", err)
	}
	if resolution.Halted {
		notices := []string{}
		if resolution.HaltReason == appmodels.HaltSessionAmbiguous {
			names := make([]string, 0, len(resolution.Candidates))
			for _, s := range resolution.Candidates {
				names = append(names, s.Name)
			}
			notices = append(notices, "matched sessions: "+strings.Join(names, ", "))
		}
		return &Result{Halted: true, HaltReason: resolution.HaltReason, Notices: notices}, nil
	}
	sess := resolution.Session

	query, localPaths := redactLocalTargets(req.Query)
	localPaths = append(localPaths, req.LocalCorpusPaths...)
	localPaths = append(localPaths, sess.ResearchLocalCorpusPaths...)

	preloadRes, err := c.Preload.Resolve(ctx, preload.Options{
		Query:            query,
		SeedURLs:         req.SeedURLs,
		SubQueries:       req.SubQueries,
		Search:           req.Search,
		LocalCorpusPaths: localPaths,
	})
	if err != nil {
		return nil, fmt.Errorf("turnclient: preload: %w", err)
	}

	seedDirectAnswerReady := len(req.SeedURLs) == 1 && len(strings.Fields(query)) <= 12 && preloadRes.ContextText != ""

	systemPrompt := c.buildSystemPrompt(req.ResearchMode, preloadRes)

	disabled := append([]string(nil), req.DisabledTools...)
	if seedDirectAnswerReady && !req.ResearchMode {
		disabled = append(disabled, retrievalTools...)
	}

	registry := c.DefaultRegistry
	if req.ResearchMode && c.ResearchRegistry != nil {
		registry = c.ResearchRegistry
	}

	history, err := c.Sessions.BuildContextMessages(ctx, sess, query)
	if err != nil {
		return nil, fmt.Errorf("turnclient: build context: %w", err)
	}
	if preloadRes.ContextText != "" {
		history = insertBeforeLast(history, llm.Message{Role: "system", Content: "Retrieved context:\n" + preloadRes.ContextText})
	}

	loopCfg := *c.LoopConfig
	loopCfg.DisabledTools = disabled
	loopCfg.Lean = req.Lean
	if sess.MaxTurns > 0 {
		loopCfg.MaxTurns = sess.MaxTurns
	}

	loop := engine.NewLoop(c.Provider, registry, &loopCfg)
	turn := loop.Run(ctx, systemPrompt, history)

	result := &Result{
		FinalAnswer: turn.FinalAnswer,
		HaltReason:  turn.HaltReason,
		Messages:    history,
		Preload:     preloadRes,
		SessionID:   sess.ID,
		Session:     sess,
		TurnsUsed:   turn.TurnsUsed,
		Usage:       turn.Usage,
	}
	result.CostUSD, result.CostFormatted = c.recordUsage(sess, turn.Usage)
	if turn.HaltReason == appmodels.HaltError || turn.HaltReason == appmodels.HaltCancelled {
		result.Halted = true
		if turn.Err != "" {
			result.Notices = append(result.Notices, turn.Err)
		}
		return result, nil
	}

	if err := c.Sessions.SaveTurn(ctx, sess, query, turn.FinalAnswer, sess.Model); err != nil {
		if c.Logger != nil {
			c.Logger.Error("turnclient: save turn", "error", err, "session_id", sess.ID)
		}
	}

	if sess.MemoryAutoExtract && !req.Lean && c.MemoryExtractor != nil {
		go func() {
			bgCtx := context.Background()
			if err := c.MemoryExtractor.ExtractAndSave(bgCtx, sess.ID, query, turn.FinalAnswer); err != nil && c.Logger != nil {
				c.Logger.Error("turnclient: memory extraction", "error", err, "session_id", sess.ID)
			}
		}()
	}

	return result, nil
}

// recordUsage prices a turn's token usage against the session's model and,
// if a tracker is attached, folds it into the running ledger. Returns zero
// values when no catalog entry exists for the model (e.g. a local/unknown
// alias), since pricing is advisory, not required.
func (c *Client) recordUsage(sess *appmodels.Session, turnUsage appmodels.UsageTracker) (float64, string) {
	if c.Catalog == nil {
		return 0, ""
	}
	model, ok := c.Catalog.Get(sess.Model)
	if !ok {
		return 0, ""
	}

	tokens := usage.Usage{
		InputTokens:  turnUsage.PromptTokens,
		OutputTokens: turnUsage.CompletionTokens,
	}
	cost := usage.Cost{Input: model.InputPrice, Output: model.OutputPrice}
	estimate := cost.Estimate(&tokens)

	if c.UsageTracker != nil {
		c.UsageTracker.Record(usage.Record{
			Provider: string(model.Provider),
			Model:    model.ID,
			UserID:   sess.ID,
			Usage:    tokens,
			Cost:     estimate,
		})
	}

	return estimate, usage.FormatUSD(estimate)
}

func insertBeforeLast(messages []llm.Message, msg llm.Message) []llm.Message {
	if len(messages) == 0 {
		return append(messages, msg)
	}
	out := append([]llm.Message(nil), messages[:len(messages)-1]...)
	out = append(out, msg, messages[len(messages)-1])
	return out
}

const retrievalOnlyGuidance = "You have retrieved context available below. Prefer answering from it before reaching for a tool."

const researchModeGuidance = "Research mode is active: favor gathering and citing sources over speculation, and use save_finding for durable conclusions."

func (c *Client) buildSystemPrompt(researchMode bool, preloadRes *appmodels.PreloadResolution) string {
	prompt := c.BasePrompt
	if researchMode {
		prompt += "\n\n" + researchModeGuidance
	}
	isCorpusPreloaded := preloadRes != nil && len(preloadRes.Sources) > 0
	if isCorpusPreloaded && !researchMode {
		prompt += "\n\n" + retrievalOnlyGuidance
	}
	return prompt
}
