package models

import (
	"fmt"
	"time"
)

// CachedSource is a content-addressed fetch result keyed by url_hash
// (SHA-256 of the normalized URL). The Research Cache dedupes fetches of
// the same URL across sessions by this key.
type CachedSource struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	URLHash        string    `json:"url_hash"`
	ContentHash    string    `json:"content_hash"`
	Title          string    `json:"title,omitempty"`
	RawContent     string    `json:"raw_content"`
	Summary        string    `json:"summary,omitempty"`
	SummaryStatus  JobStatus `json:"summary_status"`
	FetchedAt      time.Time `json:"fetched_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Chunk is a single embedded window of a CachedSource's content, produced
// by the recursive character splitter.
type Chunk struct {
	ID             string    `json:"id"`
	CacheID        string    `json:"cache_id"`
	ChunkIndex     int       `json:"chunk_index"`
	ChunkText      string    `json:"chunk_text"`
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LinkEmbedding represents an outbound link discovered on a cached page,
// embedded so the preload pipeline can rank candidates for deep-dive expansion.
type LinkEmbedding struct {
	ID             string    `json:"id"`
	CacheID        string    `json:"cache_id"`
	URL            string    `json:"url"`
	AnchorText     string    `json:"anchor_text,omitempty"`
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Finding is a durable, embedded research conclusion saved via the
// save_finding tool, scoped to a session for later retrieval.
type Finding struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Text           string    `json:"text"`
	SourceURLs     []string  `json:"source_urls,omitempty"`
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UserMemory is a durable fact about a user, saved via save_memory and
// retrieved via query_research_memory. Near-duplicate detection only ever
// compares rows sharing EmbeddingModel; cross-model rows are never
// candidates for the UPDATE path.
type UserMemory struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TranscriptKind distinguishes what kind of media a TranscriptRecord holds.
// The spec names TranscriptRecord and ImageTranscriptRecord as separate
// tables with identical shape (§6); Kind merges them into one Go type since
// both only ever differ by this tag.
type TranscriptKind string

const (
	TranscriptKindAudio TranscriptKind = "audio"
	TranscriptKindImage TranscriptKind = "image"
)

// TranscriptStatus is the lifecycle state of a TranscriptRecord:
// pending -> completed | failed. From completed, Used is one-way
// false->true. From failed, the record is terminal.
type TranscriptStatus string

const (
	TranscriptPending   TranscriptStatus = "pending"
	TranscriptCompleted TranscriptStatus = "completed"
	TranscriptFailed    TranscriptStatus = "failed"
)

// TranscriptRecord stores a transcribed audio/image artifact so later turns
// can reference it with a short #at<id>/#it<id> token instead of resending
// the original content.
type TranscriptRecord struct {
	ID               string           `json:"id"`
	SessionID        string           `json:"session_id"`
	SessionScopedID  int              `json:"session_scoped_id"`
	JID              string           `json:"jid"`
	Kind             TranscriptKind   `json:"kind"`
	Status           TranscriptStatus `json:"status"`
	MediaURL         string           `json:"media_url,omitempty"`
	MediaPath        string           `json:"media_path,omitempty"`
	Text             string           `json:"transcript_text,omitempty"`
	Error            string           `json:"error,omitempty"`
	DurationSeconds  float64          `json:"duration_seconds,omitempty"`
	Used             bool             `json:"used"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Token returns the short in-chat reference for this transcript:
// "#at<id>" for audio, "#it<id>" for image.
func (t *TranscriptRecord) Token() string {
	prefix := "at"
	if t.Kind == TranscriptKindImage {
		prefix = "it"
	}
	return fmt.Sprintf("#%s%d", prefix, t.SessionScopedID)
}

// JobStatus is the lifecycle state of an asynchronous background job, used
// both by the conversation engine's async tools and the research cache's
// background summarizer.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// UsageTracker accumulates token usage for a single turn or run, mirroring
// the original's UsageTracker. The conversation engine adds prompt and
// completion tokens only; nothing in this module adds EmbeddingTokens.
type UsageTracker struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	EmbeddingTokens  int64 `json:"embedding_tokens"`
}

// Add accumulates counts from another tracker snapshot.
func (u *UsageTracker) Add(prompt, completion, embedding int64) {
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.EmbeddingTokens += embedding
}

// Total returns the sum of all tracked token categories.
func (u *UsageTracker) Total() int64 {
	return u.PromptTokens + u.CompletionTokens + u.EmbeddingTokens
}

// PreloadResolution is the context-assembly output of the preload pipeline:
// the excerpt text injected into the system prompt plus the sources it drew from.
type PreloadResolution struct {
	ContextText string       `json:"context_text"`
	Sources     []CachedSource `json:"sources"`
	Truncated   bool         `json:"truncated"`
}

// HaltReason explains why the conversation engine's turn loop stopped.
type HaltReason string

const (
	// HaltFinalAnswer means the model produced a response with no tool calls.
	HaltFinalAnswer HaltReason = "final_answer"
	// HaltMaxTurns means the loop reached max_turns+1 and was forced to stop.
	HaltMaxTurns HaltReason = "max_turns"
	// HaltError means an unrecoverable error terminated the loop early.
	HaltError HaltReason = "error"
	// HaltCancelled means the caller's context was cancelled mid-turn.
	HaltCancelled HaltReason = "cancelled"
	// HaltSessionAmbiguous means session resolution matched more than one
	// session and the turn client made no LLM call.
	HaltSessionAmbiguous HaltReason = "session_ambiguous"
	// HaltInvalidInput means the request failed validation before any
	// session resolution or LLM call was attempted.
	HaltInvalidInput HaltReason = "invalid_input"
	// HaltPolicyBlocked means the daemon router refused a message before
	// dispatch: the sender is not authorized, or the command is on its
	// fixed blocklist.
	HaltPolicyBlocked HaltReason = "policy_blocked"
	// HaltMaxRetriesExceeded means an HTTP call to the LLM or embedding
	// endpoint exhausted its retry budget.
	HaltMaxRetriesExceeded HaltReason = "max_retries_exceeded"
)

// TurnResult is what the Conversation Engine returns after running its
// tool-calling loop to completion.
type TurnResult struct {
	FinalAnswer  string       `json:"final_answer"`
	HaltReason   HaltReason   `json:"halt_reason"`
	TurnsUsed    int          `json:"turns_used"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	Usage        UsageTracker `json:"usage"`
	Err          string       `json:"error,omitempty"`
}
