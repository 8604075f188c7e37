// Package vectorstore indexes chunks, link embeddings, findings, and user
// memories and answers hybrid dense+lexical searches over them. The dense
// half is cosine similarity over stored vectors; the lexical half is a
// Bleve in-memory full-text index. Scores combine as
// dense_weight*dense + (1-dense_weight)*lexical.
package vectorstore

import (
	"context"
)

// Kind distinguishes which table a record belongs to, since chunks, link
// embeddings, findings, and user memories share no schema beyond an ID,
// text, and an embedding.
type Kind string

const (
	KindChunk      Kind = "chunk"
	KindLink       Kind = "link"
	KindFinding    Kind = "finding"
	KindUserMemory Kind = "user_memory"
)

// Record is one embeddable unit handed to Index, carrying whatever scoping
// fields the caller needs back out of a Search hit.
type Record struct {
	ID             string
	Kind           Kind
	Text           string
	Embedding      []float32
	EmbeddingModel string

	// Scope fields. Only the ones relevant to Kind are expected to be set;
	// Search filters on them when the matching SearchOptions field is non-empty.
	CacheID   string
	SessionID string
	AgentID   string
}

// SearchMode selects which half of the hybrid score to compute.
type SearchMode string

const (
	SearchModeVector SearchMode = "vector"
	SearchModeLexical SearchMode = "lexical"
	SearchModeHybrid  SearchMode = "hybrid"
)

// SearchOptions configures a Search call.
type SearchOptions struct {
	Kind  Kind
	Limit int

	// Scope filters, applied when non-empty.
	CacheID   string
	SessionID string
	AgentID   string

	// EmbeddingModel restricts the dense comparison to rows embedded by the
	// same model. Rows from a different model are never compared, since
	// their vector spaces aren't commensurable.
	EmbeddingModel string

	Mode Mode
	// HybridAlpha weights the dense half of the score in Hybrid mode:
	// dense_weight*dense + (1-dense_weight)*lexical. nil means "unset" and
	// falls back to the store's configured default; a non-nil 0.0 is an
	// explicit request for pure-lexical ranking and a non-nil 1.0 for pure
	// semantic ranking (spec.md §9). Values outside [0, 1] are clamped.
	HybridAlpha *float32
}

// Alpha is a convenience constructor for an explicit HybridAlpha value,
// since Go has no literal syntax for a pointer to a float constant.
func Alpha(v float32) *float32 { return &v }

// Mode is an alias kept for call-site readability; see SearchMode.
type Mode = SearchMode

// Hit is one Search result.
type Hit struct {
	Record Record
	Score  float32
}

// Store is the hybrid dense+lexical index over research records.
type Store interface {
	// Index upserts records, replacing any existing row with the same ID.
	Index(ctx context.Context, records []Record) error

	// Search runs a query embedding (for vector/hybrid modes) and/or raw
	// query text (for lexical/hybrid modes) against the store.
	Search(ctx context.Context, queryEmbedding []float32, queryText string, opts SearchOptions) ([]Hit, error)

	// Delete removes records by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed records of the given kind, scoped
	// by cacheID/sessionID/agentID when non-empty.
	Count(ctx context.Context, kind Kind, cacheID, sessionID, agentID string) (int64, error)

	// Compact reclaims space after deletions.
	Compact(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

// clampAlpha resolves a HybridAlpha to [0, 1], defaulting to def when v is
// nil (unset). An explicit 0.0 or 1.0 is honored as-is, satisfying spec.md
// §9's requirement that dense_weight=0.0/1.0 select pure lexical/semantic
// ranking rather than being coerced back to the default.
func clampAlpha(v *float32, def float32) float32 {
	if v == nil {
		return def
	}
	x := *v
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
