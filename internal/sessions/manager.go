package sessions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evrenesat/askygo/internal/config"
	"github.com/evrenesat/askygo/internal/llm"
	"github.com/evrenesat/askygo/pkg/models"
)

// Manager resolves session names to rows, assembles history into the wire
// format the conversation engine consumes, and triggers compaction once a
// session's history crosses its configured token budget.
type Manager struct {
	store *Store
	cfg   config.SessionConfig
}

// NewManager wires a Manager over an already-open Store.
func NewManager(store *Store, cfg config.SessionConfig) *Manager {
	return &Manager{store: store, cfg: cfg}
}

// ResolveRequest is the input to Resolve: an explicit name takes priority
// over a resume term, which in turn takes priority over falling back to
// the shell-sticky session recorded for the caller's parent process.
type ResolveRequest struct {
	// Name, if non-empty, resolves (or creates) the session with this exact
	// name.
	Name string
	// ResumeTerm, if non-empty and Name is empty, resolves the most recent
	// session whose name contains this term, case-insensitively. More than
	// one match yields HaltSessionAmbiguous.
	ResumeTerm string
	// ShellSticky, if true and both Name and ResumeTerm are empty, resolves
	// the session bound to the caller's shell via the lock file mechanism.
	ShellSticky bool
}

// ResolveResult is what Resolve returns: either a single resolved session,
// or a halt reason explaining why none was picked.
type ResolveResult struct {
	Session    *models.Session
	Halted     bool
	HaltReason models.HaltReason
	Candidates []*models.Session
}

// Resolve finds or creates the session a turn should run against.
func (m *Manager) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	switch {
	case req.Name != "":
		sess, err := m.store.GetByName(ctx, req.Name)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			sess, err = m.store.Create(ctx, req.Name, m.cfg.DefaultMaxTurns)
			if err != nil {
				return nil, err
			}
		}
		return &ResolveResult{Session: sess}, nil

	case req.ResumeTerm != "":
		matches, err := m.store.FindByPartialName(ctx, req.ResumeTerm, 5)
		if err != nil {
			return nil, err
		}
		switch len(matches) {
		case 0:
			return &ResolveResult{Halted: true, HaltReason: models.HaltInvalidInput}, nil
		case 1:
			return &ResolveResult{Session: matches[0]}, nil
		default:
			return &ResolveResult{Halted: true, HaltReason: models.HaltSessionAmbiguous, Candidates: matches}, nil
		}

	case req.ShellSticky:
		id, ok := readShellSession()
		if ok {
			sess, err := m.store.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if sess != nil {
				return &ResolveResult{Session: sess}, nil
			}
		}
		sess, err := m.store.Create(ctx, "", m.cfg.DefaultMaxTurns)
		if err != nil {
			return nil, err
		}
		writeShellSession(sess.ID)
		return &ResolveResult{Session: sess}, nil

	default:
		sess, err := m.store.Create(ctx, "", m.cfg.DefaultMaxTurns)
		if err != nil {
			return nil, err
		}
		return &ResolveResult{Session: sess}, nil
	}
}

// BuildContextMessages turns a session's compacted summary plus its
// uncompacted message tail into the wire-format history the conversation
// engine expects, ending with the caller's new query.
func (m *Manager) BuildContextMessages(ctx context.Context, sess *models.Session, query string) ([]llm.Message, error) {
	stored, err := m.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("sessions: build context: %w", err)
	}

	var out []llm.Message
	if sess.CompactedSummary != "" {
		out = append(out, llm.Message{
			Role:    "system",
			Content: "Summary of earlier conversation:\n" + sess.CompactedSummary,
		})
	}
	for _, msg := range stored {
		out = append(out, llm.Message{
			Role:        string(msg.Role),
			Content:     msg.Content,
			ToolCalls:   msg.ToolCalls,
			ToolResults: msg.ToolResults,
		})
	}
	out = append(out, llm.Message{Role: string(models.RoleUser), Content: query})
	return out, nil
}

// SaveTurn persists the user query and the assistant's final answer as one
// atomic append, then bumps the session's last-used timestamp.
func (m *Manager) SaveTurn(ctx context.Context, sess *models.Session, query, answer, modelName string) error {
	user := &models.Message{SessionID: sess.ID, Role: models.RoleUser, Content: query}
	assistant := &models.Message{SessionID: sess.ID, Role: models.RoleAssistant, Content: answer, Model: modelName}
	if err := m.store.AppendTurn(ctx, user, assistant); err != nil {
		return err
	}
	sess.LastUsedAt = time.Now().UTC()
	return m.store.Touch(ctx, sess.ID)
}

// CheckAndCompact compacts a session's history in place when its estimated
// token usage exceeds the configured trigger, persisting the resulting
// CompactedSummary. No-op when under budget.
func (m *Manager) CheckAndCompact(ctx context.Context, sess *models.Session, summarizer Summarizer) error {
	trigger := m.cfg.Compaction.TriggerTokens
	if trigger <= 0 {
		return nil
	}
	messages, err := m.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return err
	}
	if EstimateTokens(messages) < trigger {
		return nil
	}

	keep := m.cfg.Compaction.KeepLastN
	summary, err := Compact(ctx, m.cfg.Compaction.Strategy, sess, messages, keep, summarizer)
	if err != nil {
		return err
	}
	sess.CompactedSummary = summary
	return m.store.Update(ctx, sess)
}

// sessionNameStopwords are skipped when deriving a session's display name
// from its first query, so "can you find me" doesn't become the name.
var sessionNameStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "can": true, "you": true, "please": true,
	"me": true, "my": true, "i": true, "to": true, "for": true, "is": true,
	"of": true, "and": true, "or": true, "do": true, "does": true, "what": true,
	"how": true, "why": true, "find": true, "tell": true, "about": true,
}

// GenerateSessionName derives a short display name from a query's first two
// significant (non-stopword) words, e.g. "explain kubernetes operators" ->
// "explain-kubernetes".
func GenerateSessionName(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	var picked []string
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'")
		if f == "" || sessionNameStopwords[f] {
			continue
		}
		picked = append(picked, f)
		if len(picked) == 2 {
			break
		}
	}
	if len(picked) == 0 {
		return ""
	}
	return strings.Join(picked, "-")
}

// shellSessionLockPath returns the per-shell sticky session lock file,
// keyed by the calling process's parent pid so each interactive shell gets
// its own sticky session independent of other shells on the same machine.
func shellSessionLockPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("askygo-session-%d", os.Getppid()))
}

func readShellSession() (string, bool) {
	data, err := os.ReadFile(shellSessionLockPath())
	if err != nil {
		return "", false
	}
	id := strings.TrimSpace(string(data))
	return id, id != ""
}

func writeShellSession(id string) {
	_ = os.WriteFile(shellSessionLockPath(), []byte(id), 0o600)
}

// ClearShellSession removes the sticky session lock for the calling shell.
func ClearShellSession() {
	_ = os.Remove(shellSessionLockPath())
}
