// Command askygo runs one turn of the conversation engine against a single
// prompt given on the command line, wiring together config, the research
// cache, the vector store, the tool registry, and the LLM client. Channel
// adapters (XMPP, CLI rendering, daemon transports) are out of scope per
// spec.md §1; this binary is the minimal host that exercises the core.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/evrenesat/askygo/internal/config"
	"github.com/evrenesat/askygo/internal/embeddings"
	"github.com/evrenesat/askygo/internal/engine"
	"github.com/evrenesat/askygo/internal/llm"
	modelcatalog "github.com/evrenesat/askygo/internal/models"
	"github.com/evrenesat/askygo/internal/preload"
	"github.com/evrenesat/askygo/internal/rag/chunker"
	"github.com/evrenesat/askygo/internal/researchcache"
	"github.com/evrenesat/askygo/internal/sessions"
	research "github.com/evrenesat/askygo/internal/tools/research"
	"github.com/evrenesat/askygo/internal/tools/websearch"
	"github.com/evrenesat/askygo/internal/toolregistry"
	"github.com/evrenesat/askygo/internal/turnclient"
	"github.com/evrenesat/askygo/internal/usage"
	"github.com/evrenesat/askygo/internal/vectorstore"
)

// llmSummarizer adapts an llm.Provider to researchcache.Summarizer and
// research.SummarizeSectionTool's dependency, both of which only require
// the Summarize method shape.
type llmSummarizer struct {
	provider llm.Provider
}

func (s llmSummarizer) Summarize(ctx context.Context, title, content string) (string, error) {
	prompt := content
	if title != "" {
		prompt = title + "\n\n" + content
	}
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		System:   "Summarize the following in three sentences or fewer.",
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func main() {
	configPath := flag.String("config", "", "path to the YAML config document")
	prompt := flag.String("prompt", "", "user message to run through the conversation engine")
	sessionName := flag.String("session", "", "named session to resume or create; empty uses the shell-sticky session")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if strings.TrimSpace(*prompt) == "" {
		logger.Error("missing required -prompt flag")
		os.Exit(1)
	}

	ctx := context.Background()
	result, tracker, err := run(ctx, cfg, logger, *sessionName, *prompt)
	if err != nil {
		logger.Error("run turn", "error", err)
		os.Exit(1)
	}

	if result.Halted {
		logger.Error("turn halted", "halt_reason", result.HaltReason, "notices", result.Notices)
		os.Exit(1)
	}

	fmt.Println(result.FinalAnswer)
	logger.Info("turn finished", "halt_reason", result.HaltReason, "turns_used", result.TurnsUsed, "session", result.Session.Name)
	if result.CostFormatted != "" {
		fmt.Printf("(estimated cost: %s, %s)\n", result.CostFormatted, usage.FormatUsageDetailed(&usage.Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		}))
	}
	for key, totals := range tracker.GetSummary() {
		logger.Debug("running usage total", "provider_model", key, "usage", usage.FormatUsage(totals))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, sessionName, prompt string) (*turnclient.Result, *usage.Tracker, error) {
	embedProvider, err := embeddings.New(cfg.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("embeddings.New: %w", err)
	}

	store, err := vectorstore.Open(vectorstore.Config{Path: cfg.VectorDB.Path})
	if err != nil {
		return nil, nil, fmt.Errorf("vectorstore.Open: %w", err)
	}
	defer store.Close()

	splitter := chunker.NewRecursiveCharacterTextSplitter(chunker.DefaultConfig())
	cache, err := researchcache.Open(researchcache.Config{TTL: cfg.Cache.TTL}, store, embedProvider, splitter)
	if err != nil {
		return nil, nil, fmt.Errorf("researchcache.Open: %w", err)
	}
	defer cache.Close()

	provider, err := buildLLMProvider(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("buildLLMProvider: %w", err)
	}

	fetcher := preload.NewHTTPFetcher(0)
	summarizer := researchcache.NewSummarizerPool(cache, llmSummarizer{provider: provider}, cfg.Cache.SummarizerConcurrency, logger)

	registry := toolregistry.New()
	registerTools(registry, cfg, store, embedProvider, cache, fetcher, summarizer, provider)

	sessionStore, err := sessions.Open(cfg.Session.StoreDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sessions.Open: %w", err)
	}
	defer sessionStore.Close()
	sessionMgr := sessions.NewManager(sessionStore, cfg.Session)

	preloadPipeline := preload.NewPipeline(cache, store, embedProvider, fetcher)
	usageTracker := usage.NewTracker(usage.DefaultTrackerConfig())

	client := &turnclient.Client{
		Sessions:        sessionMgr,
		Preload:         preloadPipeline,
		DefaultRegistry: registry,
		LoopConfig: &engine.LoopConfig{
			MaxTurns:          cfg.LLM.MaxTurns,
			ContextWindowSize: cfg.LLM.ContextWindowSize,
			DisabledTools:     cfg.Tools.DisabledTools,
		},
		Provider:        provider,
		BasePrompt:      "You are a helpful research assistant with access to tools.",
		MemoryExtractor: &toolMemoryExtractor{registry: registry, provider: provider},
		Logger:          logger,
		Catalog:         modelcatalog.DefaultCatalog,
		UsageTracker:    usageTracker,
	}

	req := turnclient.Request{Query: prompt}
	if sessionName != "" {
		req.SessionName = sessionName
	} else {
		req.ShellSticky = true
	}

	result, err := client.Run(ctx, req)
	return result, usageTracker, err
}

// toolMemoryExtractor implements turnclient.MemoryExtractor by asking the
// configured LLM provider to list durable facts from a finished turn and
// calling the registered save_memory tool once per fact.
type toolMemoryExtractor struct {
	registry *toolregistry.Registry
	provider llm.Provider
}

func (e *toolMemoryExtractor) ExtractAndSave(ctx context.Context, sessionID, query, answer string) error {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		System: "List any durable facts about the user worth remembering from this exchange, " +
			"one per line. Reply with nothing if there are none.",
		Messages: []llm.Message{{Role: "user", Content: "Q: " + query + "\nA: " + answer}},
	})
	if err != nil {
		return fmt.Errorf("extract facts: %w", err)
	}
	for _, line := range strings.Split(resp.Content, "\n") {
		fact := strings.TrimSpace(line)
		if fact == "" {
			continue
		}
		params, err := json.Marshal(map[string]string{"content": fact, "agent_id": sessionID})
		if err != nil {
			continue
		}
		if _, err := e.registry.Execute(ctx, "save_memory", params); err != nil {
			return fmt.Errorf("save_memory: %w", err)
		}
	}
	return nil
}

func registerTools(
	registry *toolregistry.Registry,
	cfg *config.Config,
	store vectorstore.Store,
	embed embeddings.Provider,
	cache *researchcache.Cache,
	fetcher researchcache.Fetcher,
	summarizer *researchcache.SummarizerPool,
	provider llm.Provider,
) {
	tools := []toolregistry.Tool{
		research.NewDateTimeTool(),
		research.NewURLContentTool(cache, fetcher, summarizer, 0),
		research.NewURLDetailsTool(cache),
		research.NewRelevantContentTool(store, embed),
		research.NewSaveMemoryTool(store, embed),
		research.NewQueryResearchMemoryTool(store, embed),
		research.NewSaveFindingTool(store, embed),
		research.NewSummarizeSectionTool(llmSummarizer{provider: provider}),
		websearch.NewWebFetchTool(nil),
		websearch.NewWebSearchTool(&websearch.Config{
			BraveAPIKey:        cfg.Tools.WebSearch.APIKey,
			DefaultResultCount: cfg.Tools.WebSearch.Count,
		}),
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			panic(fmt.Sprintf("registering tool %s: %v", t.Name(), err))
		}
	}
}

func buildLLMProvider(cfg *config.Config) (llm.Provider, error) {
	providerName := cfg.LLM.DefaultProvider
	if providerName == "" {
		providerName = "openai"
	}
	providerCfg, ok := cfg.LLM.Providers[providerName]
	if !ok {
		return nil, fmt.Errorf("no llm provider configured for %q", providerName)
	}
	return llm.NewOpenAIProvider(providerCfg)
}
