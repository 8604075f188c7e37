// Package config decodes the root YAML configuration document for the
// agent core: model aliases, tool registry composition, research defaults,
// and daemon allow-lists.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for the agent core.
type Config struct {
	Version    int              `yaml:"version"`
	Logging    LoggingConfig    `yaml:"logging"`
	LLM        LLMConfig        `yaml:"llm"`
	Session    SessionConfig    `yaml:"session"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	VectorDB   VectorDBConfig   `yaml:"vector_db"`
	Cache      CacheConfig      `yaml:"cache"`
	Research   ResearchConfig   `yaml:"research"`
	Tools      ToolsConfig      `yaml:"tools"`
	Daemon     DaemonConfig     `yaml:"daemon"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`
	// Format is "json" or "text". Default: text for CLI, json for daemon.
	Format string `yaml:"format"`
}

// LLMConfig configures chat-completion model access.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	// Aliases maps a short name (e.g. "fast", "smart") to a provider/model pair,
	// resolvable via Session.model_alias.
	Aliases map[string]ModelAlias `yaml:"aliases"`
	// MaxTurns bounds the conversation engine's tool-calling loop.
	// Default: 15.
	MaxTurns int `yaml:"max_turns"`
	// ContextWindowSize is used for the "[SYSTEM UPDATE]" usage-percentage
	// calculation when a provider/model doesn't report one. Default: 128000.
	ContextWindowSize int `yaml:"context_window_size"`
}

// ModelAlias resolves a named alias to a concrete provider/model.
type ModelAlias struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// LLMProviderConfig holds connection details for one LLM provider.
type LLMProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SessionConfig configures session storage and compaction defaults.
type SessionConfig struct {
	// StoreDSN is the SQLite DSN for session/message/transcript storage.
	StoreDSN string `yaml:"store_dsn"`
	// DefaultMaxTurns seeds Session.max_turns when unset on creation.
	DefaultMaxTurns int `yaml:"default_max_turns"`
	// Compaction configures the default compaction strategy.
	Compaction SessionCompactionConfig `yaml:"compaction"`
	// OverrideFilesDir holds per-session TOML profile override documents.
	OverrideFilesDir string `yaml:"override_files_dir"`
}

// SessionCompactionConfig configures when/how sessions are compacted.
type SessionCompactionConfig struct {
	// Strategy is "summaries" or "llm_summary". Default: "summaries".
	Strategy string `yaml:"strategy"`
	// TriggerTokens is the token budget above which compaction runs.
	TriggerTokens int `yaml:"trigger_tokens"`
	// KeepLastN is how many recent messages survive compaction verbatim.
	KeepLastN int `yaml:"keep_last_n"`
}

// EmbeddingsConfig configures the embedding client.
type EmbeddingsConfig struct {
	Provider     string `yaml:"provider"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	Dimension    int    `yaml:"dimension"`
	MaxBatchSize int    `yaml:"max_batch_size"`
}

// VectorDBConfig configures the chunk/link/finding/memory vector store.
type VectorDBConfig struct {
	Path string `yaml:"path"`
	// HybridDenseWeight is the default dense_weight for search_chunks_hybrid
	// when a caller doesn't specify one. Must be in [0, 1]. Default: 0.6.
	HybridDenseWeight float32 `yaml:"hybrid_dense_weight"`
}

// CacheConfig configures the content-addressed research cache.
type CacheConfig struct {
	// TTL is how long a cached source stays fresh before re-fetch. Default: 24h.
	TTL time.Duration `yaml:"ttl"`
	// SummarizerConcurrency bounds the background summarization worker pool.
	SummarizerConcurrency int `yaml:"summarizer_concurrency"`
	// CleanupSchedule is a cron expression for the expired-row sweep in daemon mode.
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

// ResearchConfig configures the preload pipeline's seed/shortlist behavior.
type ResearchConfig struct {
	SeedLinkMaxPages   int      `yaml:"seed_link_max_pages"`
	SeedLinksPerPage   int      `yaml:"seed_links_per_page"`
	SearchResultCount  int      `yaml:"search_result_count"`
	FetchConcurrency   int      `yaml:"fetch_concurrency"`
	FetchRatePerSecond float64  `yaml:"fetch_rate_per_second"`
	LocalCorpusPaths   []string `yaml:"local_corpus_paths"`
}

// ToolsConfig controls which default tools are registered and their limits.
type ToolsConfig struct {
	DisabledTools []string `yaml:"disabled_tools"`
	WebSearch     struct {
		APIKey string `yaml:"api_key"`
		Count  int    `yaml:"count"`
	} `yaml:"web_search"`
}

// DaemonConfig configures inbound message authorization for the router.
type DaemonConfig struct {
	// AllowFrom lists authorized senders per channel, e.g. {"xmpp": ["alice@example.com"]}.
	AllowFrom map[string][]string `yaml:"allow_from"`
	// CommandPrefix is checked before any interface planner (spec.md §9 resolution).
	CommandPrefix string `yaml:"command_prefix"`
	// BlockedCommands is a fixed policy blocklist rejected before dispatch.
	BlockedCommands []string `yaml:"blocked_commands"`
}

// Validate checks structural invariants that the YAML decoder can't express.
func (c *Config) Validate() error {
	if c.VectorDB.HybridDenseWeight < 0 || c.VectorDB.HybridDenseWeight > 1 {
		return fmt.Errorf("vector_db.hybrid_dense_weight must be in [0,1], got %f", c.VectorDB.HybridDenseWeight)
	}
	if c.LLM.MaxTurns < 0 {
		return fmt.Errorf("llm.max_turns must be non-negative, got %d", c.LLM.MaxTurns)
	}
	return nil
}

// Defaults returns a Config populated with documented defaults.
func Defaults() *Config {
	return &Config{
		Version: CurrentVersion,
		Logging: LoggingConfig{Level: "info", Format: "text"},
		LLM: LLMConfig{
			MaxTurns:          15,
			ContextWindowSize: 128000,
		},
		Session: SessionConfig{
			StoreDSN:        "askygo.db",
			DefaultMaxTurns: 15,
			Compaction: SessionCompactionConfig{
				Strategy:      "summaries",
				TriggerTokens: 100000,
				KeepLastN:     10,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:     "openai",
			Model:        "text-embedding-3-small",
			Dimension:    1536,
			MaxBatchSize: 96,
		},
		VectorDB: VectorDBConfig{
			Path:              "vectors.db",
			HybridDenseWeight: 0.6,
		},
		Cache: CacheConfig{
			TTL:                   24 * time.Hour,
			SummarizerConcurrency: 3,
			CleanupSchedule:       "0 */6 * * *",
		},
		Research: ResearchConfig{
			SeedLinkMaxPages:   3,
			SeedLinksPerPage:   5,
			SearchResultCount:  10,
			FetchConcurrency:   4,
			FetchRatePerSecond: 2,
		},
	}
}

// Load reads and decodes a config document at path, applying defaults to
// the fields the document leaves unset. The compaction, embeddings and
// research sections are replaced by their defaults as a whole, and only when
// their strategy, provider or seed-link page limit is unset; a partly filled
// section keeps zero values for its other fields.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg = mergeDefaults(cfg)
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeDefaults(cfg *Config) *Config {
	d := Defaults()
	if cfg.Version == 0 {
		cfg.Version = d.Version
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.LLM.MaxTurns == 0 {
		cfg.LLM.MaxTurns = d.LLM.MaxTurns
	}
	if cfg.LLM.ContextWindowSize == 0 {
		cfg.LLM.ContextWindowSize = d.LLM.ContextWindowSize
	}
	if cfg.Session.StoreDSN == "" {
		cfg.Session.StoreDSN = d.Session.StoreDSN
	}
	if cfg.Session.DefaultMaxTurns == 0 {
		cfg.Session.DefaultMaxTurns = d.Session.DefaultMaxTurns
	}
	if cfg.Session.Compaction.Strategy == "" {
		cfg.Session.Compaction = d.Session.Compaction
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings = d.Embeddings
	}
	if cfg.VectorDB.Path == "" {
		cfg.VectorDB.Path = d.VectorDB.Path
	}
	if cfg.VectorDB.HybridDenseWeight == 0 {
		cfg.VectorDB.HybridDenseWeight = d.VectorDB.HybridDenseWeight
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = d.Cache.TTL
	}
	if cfg.Cache.SummarizerConcurrency == 0 {
		cfg.Cache.SummarizerConcurrency = d.Cache.SummarizerConcurrency
	}
	if cfg.Cache.CleanupSchedule == "" {
		cfg.Cache.CleanupSchedule = d.Cache.CleanupSchedule
	}
	if cfg.Research.SeedLinkMaxPages == 0 {
		cfg.Research = d.Research
	}
	return cfg
}
