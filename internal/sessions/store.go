// Package sessions implements the session manager: persistent named
// conversations with message history, token-budget-triggered compaction,
// and the supporting tables the daemon router needs (room bindings,
// per-session profile override files, transcript records).
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/evrenesat/askygo/pkg/models"
)

// Store is the SQLite-backed persistence layer for sessions, their message
// history, transcripts, room bindings, and profile override files.
type Store struct {
	db *sql.DB
	// scopedIDMu serializes TranscriptRecord.SessionScopedID allocation so
	// concurrent transcript creations for the same session never collide
	// (spec.md §5: "allocation is serialized").
	scopedIDMu sync.Mutex
}

// Open creates or attaches to a Store backed by SQLite at path ("" or
// ":memory:" for an in-process store).
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessions: open %q: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT,
			model TEXT,
			created_at DATETIME NOT NULL,
			last_used_at DATETIME,
			compacted_summary TEXT,
			memory_auto_extract INTEGER NOT NULL DEFAULT 0,
			max_turns INTEGER NOT NULL DEFAULT 0,
			research_mode INTEGER NOT NULL DEFAULT 0,
			research_source_mode TEXT,
			research_local_corpus_paths_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			summary TEXT,
			model TEXT,
			token_count INTEGER,
			tool_calls_json TEXT,
			tool_results_json TEXT,
			metadata_json TEXT,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			session_transcript_id INTEGER NOT NULL,
			jid TEXT,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			media_url TEXT,
			media_path TEXT,
			transcript_text TEXT,
			error TEXT,
			duration_seconds REAL,
			used INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, session_transcript_id)`,
		`CREATE TABLE IF NOT EXISTS room_session_bindings (
			room_jid TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_override_files (
			session_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			content TEXT,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, filename)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sessions: init schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new session row, disambiguating a duplicate name from
// legacy data by appending a numeric suffix (spec.md §3 Session invariant).
func (s *Store) Create(ctx context.Context, name string, maxTurns int) (*models.Session, error) {
	now := time.Now().UTC()
	finalName := name
	if finalName != "" {
		for suffix := 2; ; suffix++ {
			existing, err := s.GetByName(ctx, finalName)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				break
			}
			finalName = fmt.Sprintf("%s_%d", name, suffix)
		}
	}

	sess := &models.Session{
		ID:         uuid.NewString(),
		Name:       finalName,
		CreatedAt:  now,
		LastUsedAt: now,
		MaxTurns:   maxTurns,
	}
	if err := s.insert(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) insert(ctx context.Context, sess *models.Session) error {
	pathsJSON, err := json.Marshal(sess.ResearchLocalCorpusPaths)
	if err != nil {
		return fmt.Errorf("sessions: marshal corpus paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, model, created_at, last_used_at, compacted_summary,
			memory_auto_extract, max_turns, research_mode, research_source_mode, research_local_corpus_paths_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Name, sess.Model, sess.CreatedAt, sess.LastUsedAt, sess.CompactedSummary,
		boolToInt(sess.MemoryAutoExtract), sess.MaxTurns, boolToInt(sess.ResearchMode),
		string(sess.ResearchSourceMode), string(pathsJSON))
	if err != nil {
		return fmt.Errorf("sessions: insert: %w", err)
	}
	return nil
}

// Update persists all mutable fields of sess.
func (s *Store) Update(ctx context.Context, sess *models.Session) error {
	pathsJSON, err := json.Marshal(sess.ResearchLocalCorpusPaths)
	if err != nil {
		return fmt.Errorf("sessions: marshal corpus paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET name=?, model=?, last_used_at=?, compacted_summary=?,
			memory_auto_extract=?, max_turns=?, research_mode=?, research_source_mode=?,
			research_local_corpus_paths_json=?
		WHERE id=?
	`, sess.Name, sess.Model, sess.LastUsedAt, sess.CompactedSummary,
		boolToInt(sess.MemoryAutoExtract), sess.MaxTurns, boolToInt(sess.ResearchMode),
		string(sess.ResearchSourceMode), string(pathsJSON), sess.ID)
	if err != nil {
		return fmt.Errorf("sessions: update %s: %w", sess.ID, err)
	}
	return nil
}

// Touch bumps last_used_at to now.
func (s *Store) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_used_at=? WHERE id=?`, time.Now().UTC(), id)
	return err
}

// Get returns the session with the given id, or nil if none exists.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, baseSessionSelect+" WHERE id=?", id)
	return scanSession(row)
}

// GetByName returns the session with an exact name match, or nil.
func (s *Store) GetByName(ctx context.Context, name string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, baseSessionSelect+" WHERE name=?", name)
	return scanSession(row)
}

// FindByPartialName returns sessions (most-recently-used first, capped at
// limit) whose name case-insensitively contains term.
func (s *Store) FindByPartialName(ctx context.Context, term string, limit int) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, baseSessionSelect+`
		WHERE LOWER(name) LIKE ? ORDER BY last_used_at DESC LIMIT ?
	`, "%"+strings.ToLower(term)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("sessions: find by partial name: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

const baseSessionSelect = `
	SELECT id, name, model, created_at, last_used_at, compacted_summary,
		memory_auto_extract, max_turns, research_mode, research_source_mode, research_local_corpus_paths_json
	FROM sessions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*models.Session, error) {
	return scanSessionGeneric(row)
}

func scanSessionRows(rows *sql.Rows) (*models.Session, error) {
	return scanSessionGeneric(rows)
}

func scanSessionGeneric(r rowScanner) (*models.Session, error) {
	var sess models.Session
	var name, model, summary, sourceMode sql.NullString
	var lastUsed sql.NullTime
	var memAuto, research int
	var pathsJSON sql.NullString

	err := r.Scan(&sess.ID, &name, &model, &sess.CreatedAt, &lastUsed, &summary,
		&memAuto, &sess.MaxTurns, &research, &sourceMode, &pathsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: scan: %w", err)
	}

	sess.Name = name.String
	sess.Model = model.String
	sess.CompactedSummary = summary.String
	sess.MemoryAutoExtract = memAuto != 0
	sess.ResearchMode = research != 0
	sess.ResearchSourceMode = models.ResearchSourceMode(sourceMode.String)
	if lastUsed.Valid {
		sess.LastUsedAt = lastUsed.Time
	}
	if pathsJSON.Valid && pathsJSON.String != "" {
		_ = json.Unmarshal([]byte(pathsJSON.String), &sess.ResearchLocalCorpusPaths)
	}
	return &sess, nil
}

// AppendMessage persists a single message for a session.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	toolCallsJSON, _ := json.Marshal(msg.ToolCalls)
	toolResultsJSON, _ := json.Marshal(msg.ToolResults)
	metaJSON, _ := json.Marshal(msg.Metadata)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, summary, model, token_count,
			tool_calls_json, tool_results_json, metadata_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.Summary, msg.Model, msg.TokenCount,
		string(toolCallsJSON), string(toolResultsJSON), string(metaJSON), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("sessions: append message: %w", err)
	}
	return nil
}

// AppendTurn persists the user and assistant messages of one turn as a
// single transaction: readers either see both or neither (spec.md §5).
func (s *Store) AppendTurn(ctx context.Context, user, assistant *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessions: begin turn tx: %w", err)
	}
	defer tx.Rollback()

	for _, msg := range []*models.Message{user, assistant} {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		toolCallsJSON, _ := json.Marshal(msg.ToolCalls)
		toolResultsJSON, _ := json.Marshal(msg.ToolResults)
		metaJSON, _ := json.Marshal(msg.Metadata)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, role, content, summary, model, token_count,
				tool_calls_json, tool_results_json, metadata_json, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.Summary, msg.Model, msg.TokenCount,
			string(toolCallsJSON), string(toolResultsJSON), string(metaJSON), msg.CreatedAt); err != nil {
			return fmt.Errorf("sessions: append turn message: %w", err)
		}
	}
	return tx.Commit()
}

// ListMessages returns all messages for a session in chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, summary, model, token_count,
			tool_calls_json, tool_results_json, metadata_json, timestamp
		FROM messages WHERE session_id=? ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessions: list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var role string
		var summary, model, toolCallsJSON, toolResultsJSON, metaJSON sql.NullString
		var tokenCount sql.NullInt64
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &summary, &model, &tokenCount,
			&toolCallsJSON, &toolResultsJSON, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sessions: scan message: %w", err)
		}
		m.Role = models.Role(role)
		m.Summary = summary.String
		m.Model = model.String
		m.TokenCount = int(tokenCount.Int64)
		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			_ = json.Unmarshal([]byte(toolCallsJSON.String), &m.ToolCalls)
		}
		if toolResultsJSON.Valid && toolResultsJSON.String != "" {
			_ = json.Unmarshal([]byte(toolResultsJSON.String), &m.ToolResults)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CreateTranscript inserts a pending transcript record, allocating the next
// session_scoped_id for rec.SessionID under a process-wide lock so
// concurrent creations for the same session never collide.
func (s *Store) CreateTranscript(ctx context.Context, rec *models.TranscriptRecord) error {
	s.scopedIDMu.Lock()
	defer s.scopedIDMu.Unlock()

	var maxID sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(session_transcript_id) FROM transcripts WHERE session_id=?`, rec.SessionID)
	if err := row.Scan(&maxID); err != nil {
		return fmt.Errorf("sessions: max transcript id: %w", err)
	}
	rec.SessionScopedID = int(maxID.Int64) + 1
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = models.TranscriptPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, session_id, session_transcript_id, jid, kind, status,
			media_url, media_path, transcript_text, error, duration_seconds, used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.SessionID, rec.SessionScopedID, rec.JID, string(rec.Kind), string(rec.Status),
		rec.MediaURL, rec.MediaPath, rec.Text, rec.Error, rec.DurationSeconds, boolToInt(rec.Used), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("sessions: create transcript: %w", err)
	}
	return nil
}

// UpdateTranscript persists status/content changes for an existing record.
func (s *Store) UpdateTranscript(ctx context.Context, rec *models.TranscriptRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transcripts SET status=?, transcript_text=?, error=?, duration_seconds=?, used=?
		WHERE id=?
	`, string(rec.Status), rec.Text, rec.Error, rec.DurationSeconds, boolToInt(rec.Used), rec.ID)
	if err != nil {
		return fmt.Errorf("sessions: update transcript %s: %w", rec.ID, err)
	}
	return nil
}

// GetTranscript returns a transcript by id, or nil.
func (s *Store) GetTranscript(ctx context.Context, id string) (*models.TranscriptRecord, error) {
	row := s.db.QueryRowContext(ctx, transcriptSelect+` WHERE id=?`, id)
	return scanTranscript(row)
}

const transcriptSelect = `
	SELECT id, session_id, session_transcript_id, jid, kind, status,
		media_url, media_path, transcript_text, error, duration_seconds, used, created_at
	FROM transcripts
`

func scanTranscript(row *sql.Row) (*models.TranscriptRecord, error) {
	var rec models.TranscriptRecord
	var kind, status string
	var jid, mediaURL, mediaPath, text, errText sql.NullString
	var duration sql.NullFloat64
	var used int
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.SessionScopedID, &jid, &kind, &status,
		&mediaURL, &mediaPath, &text, &errText, &duration, &used, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: scan transcript: %w", err)
	}
	rec.JID = jid.String
	rec.Kind = models.TranscriptKind(kind)
	rec.Status = models.TranscriptStatus(status)
	rec.MediaURL = mediaURL.String
	rec.MediaPath = mediaPath.String
	rec.Text = text.String
	rec.Error = errText.String
	rec.DurationSeconds = duration.Float64
	rec.Used = used != 0
	return &rec, nil
}

// PruneTranscripts keeps the keep most-recent records for sessionID and
// deletes the rest, returning the number of deleted rows.
func (s *Store) PruneTranscripts(ctx context.Context, sessionID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM transcripts WHERE session_id=? AND id NOT IN (
			SELECT id FROM transcripts WHERE session_id=? ORDER BY session_transcript_id DESC LIMIT ?
		)
	`, sessionID, sessionID, keep)
	if err != nil {
		return 0, fmt.Errorf("sessions: prune transcripts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetRoomBinding upserts the session a multi-user chat room resolves to.
func (s *Store) SetRoomBinding(ctx context.Context, roomJID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_session_bindings (room_jid, session_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(room_jid) DO UPDATE SET session_id=excluded.session_id, updated_at=excluded.updated_at
	`, roomJID, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sessions: set room binding: %w", err)
	}
	return nil
}

// GetRoomBinding returns the session id bound to roomJID, or "" if unbound.
func (s *Store) GetRoomBinding(ctx context.Context, roomJID string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM room_session_bindings WHERE room_jid=?`, roomJID).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sessions: get room binding: %w", err)
	}
	return sessionID, nil
}

// SetOverrideFile stores a whole-file replacement for a per-session profile
// override document (spec.md §6: session_override_files).
func (s *Store) SetOverrideFile(ctx context.Context, sessionID, filename, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_override_files (session_id, filename, content, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, filename) DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at
	`, sessionID, filename, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sessions: set override file: %w", err)
	}
	return nil
}

// GetOverrideFile returns the stored override document content, or "" if none.
func (s *Store) GetOverrideFile(ctx context.Context, sessionID, filename string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM session_override_files WHERE session_id=? AND filename=?`,
		sessionID, filename).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sessions: get override file: %w", err)
	}
	return content, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
