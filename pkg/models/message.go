package models

import (
	"encoding/json"
	"time"
)

// Role is the author of a message in the wire format sent to the LLM and
// in the persisted session history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an LLM's request to invoke a named tool with JSON arguments.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a ToolCall, persisted as a
// tool-role message whose ToolCallID matches the originating ToolCall.ID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one entry of a session's stored history.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Summary     string         `json:"summary,omitempty"`
	Model       string         `json:"model,omitempty"`
	TokenCount  int            `json:"token_count,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ResearchSourceMode selects where the preload pipeline draws candidates
// from for a research-mode session.
type ResearchSourceMode string

const (
	ResearchSourceWebOnly   ResearchSourceMode = "web_only"
	ResearchSourceLocalOnly ResearchSourceMode = "local_only"
	ResearchSourceMixed     ResearchSourceMode = "mixed"
)

// Session is a named persistent conversation with stored message history
// and optional compacted summary. Created on first use of a name; never
// implicitly destroyed.
type Session struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Model  string `json:"model_alias"`

	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`

	// CompactedSummary holds the rolling summary produced by the session's
	// compaction strategy once older messages have been folded in.
	CompactedSummary string `json:"compacted_summary,omitempty"`

	// MemoryAutoExtract enables the turn client's "elephant mode": after a
	// successful turn, a background task extracts durable facts and calls
	// save_memory for each without an explicit tool call from the model.
	MemoryAutoExtract bool `json:"memory_auto_extract"`

	// MaxTurns bounds the conversation engine's tool-calling loop for this
	// session. Zero means fall back to config.LLMConfig.MaxTurns.
	MaxTurns int `json:"max_turns,omitempty"`

	ResearchMode           bool               `json:"research_mode"`
	ResearchSourceMode     ResearchSourceMode `json:"research_source_mode,omitempty"`
	ResearchLocalCorpusPaths []string         `json:"research_local_corpus_paths,omitempty"`
}

// RoomSessionBinding ties a multi-user chat room to the session the daemon
// router should resolve for messages arriving from that room.
type RoomSessionBinding struct {
	RoomJID   string    `json:"room_jid"`
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionOverrideFile is a per-session profile override document (e.g. an
// uploaded TOML fragment) that replaces, rather than merges with, any prior
// override under the same filename.
type SessionOverrideFile struct {
	SessionID string    `json:"session_id"`
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}
