package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/evrenesat/askygo/internal/embeddings"
)

// SQLiteStore implements Store over a SQLite table for the row data plus an
// in-memory Bleve index rebuilt from that table for the lexical half of
// hybrid search.
type SQLiteStore struct {
	db    *sql.DB
	index bleve.Index
}

var _ Store = (*SQLiteStore)(nil)

// Config configures a SQLiteStore.
type Config struct {
	// Path is the SQLite DSN. ":memory:" for an in-process store.
	Path string
}

// Open creates or attaches to a SQLiteStore at cfg.Path.
func Open(cfg Config) (*SQLiteStore, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open %q: %w", path, err)
	}

	idx, err := newBleveIndex()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorstore: create bleve index: %w", err)
	}

	s := &SQLiteStore{db: db, index: idx}
	if err := s.init(); err != nil {
		db.Close()
		idx.Close()
		return nil, err
	}
	if err := s.rebuildIndex(context.Background()); err != nil {
		db.Close()
		idx.Close()
		return nil, err
	}
	return s, nil
}

func newBleveIndex() (bleve.Index, error) {
	textField := mapping.NewTextFieldMapping()
	textField.Analyzer = "en"

	doc := mapping.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", textField)

	m := mapping.NewIndexMapping()
	m.DefaultMapping = doc
	return bleve.NewMemOnly(m)
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS vectorstore_records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding BLOB,
			embedding_model TEXT,
			cache_id TEXT,
			session_id TEXT,
			agent_id TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("vectorstore: create table: %w", err)
	}
	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_vectorstore_kind ON vectorstore_records(kind)",
		"CREATE INDEX IF NOT EXISTS idx_vectorstore_cache ON vectorstore_records(cache_id)",
		"CREATE INDEX IF NOT EXISTS idx_vectorstore_session ON vectorstore_records(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_vectorstore_agent ON vectorstore_records(agent_id)",
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("vectorstore: create index: %w", err)
		}
	}
	return nil
}

// rebuildIndex repopulates the in-memory Bleve index from the SQLite table,
// called once at startup since Bleve's memory-only index doesn't persist.
func (s *SQLiteStore) rebuildIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, text FROM vectorstore_records")
	if err != nil {
		return fmt.Errorf("vectorstore: rebuild index query: %w", err)
	}
	defer rows.Close()

	batch := s.index.NewBatch()
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return fmt.Errorf("vectorstore: rebuild index scan: %w", err)
		}
		if err := batch.Index(id, map[string]any{"text": text}); err != nil {
			return fmt.Errorf("vectorstore: rebuild index batch: %w", err)
		}
	}
	if batch.Size() > 0 {
		return s.index.Batch(batch)
	}
	return nil
}

// Index implements Store.
func (s *SQLiteStore) Index(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO vectorstore_records
			(id, kind, text, embedding, embedding_model, cache_id, session_id, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("vectorstore: prepare insert: %w", err)
	}
	defer stmt.Close()

	batch := s.index.NewBatch()
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		_, err := stmt.ExecContext(ctx,
			r.ID, string(r.Kind), r.Text, embeddings.EncodeVector(r.Embedding), r.EmbeddingModel,
			r.CacheID, r.SessionID, r.AgentID,
		)
		if err != nil {
			return fmt.Errorf("vectorstore: insert record %s: %w", r.ID, err)
		}
		if err := batch.Index(r.ID, map[string]any{"text": r.Text}); err != nil {
			return fmt.Errorf("vectorstore: index batch entry %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vectorstore: commit: %w", err)
	}
	return s.index.Batch(batch)
}

// Search implements Store.
func (s *SQLiteStore) Search(ctx context.Context, queryEmbedding []float32, queryText string, opts SearchOptions) ([]Hit, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Mode == "" {
		opts.Mode = SearchModeVector
	}

	candidates, err := s.loadCandidates(ctx, opts)
	if err != nil {
		return nil, err
	}

	var lexScores map[string]float32
	if opts.Mode == SearchModeLexical || opts.Mode == SearchModeHybrid {
		lexScores, err = s.lexicalScores(queryText, opts.Limit*4)
		if err != nil {
			return nil, err
		}
	}

	alpha := clampAlpha(opts.HybridAlpha, 0.6)

	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		var dense, lex float32
		switch opts.Mode {
		case SearchModeVector:
			dense = embeddings.CosineSimilarity(queryEmbedding, c.Embedding)
		case SearchModeLexical:
			lex = lexScores[c.ID]
		case SearchModeHybrid:
			dense = embeddings.CosineSimilarity(queryEmbedding, c.Embedding)
			lex = lexScores[c.ID]
		}

		var score float32
		switch opts.Mode {
		case SearchModeVector:
			score = dense
		case SearchModeLexical:
			score = lex
		case SearchModeHybrid:
			score = alpha*dense + (1-alpha)*lex
		}

		if score == 0 && opts.Mode != SearchModeHybrid {
			continue
		}
		hits = append(hits, Hit{Record: c, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

func (s *SQLiteStore) loadCandidates(ctx context.Context, opts SearchOptions) ([]Record, error) {
	query := `SELECT id, kind, text, embedding, embedding_model, cache_id, session_id, agent_id FROM vectorstore_records WHERE 1=1`
	var args []any

	if opts.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(opts.Kind))
	}
	if opts.CacheID != "" {
		query += " AND cache_id = ?"
		args = append(args, opts.CacheID)
	}
	if opts.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, opts.AgentID)
	}
	if opts.EmbeddingModel != "" {
		query += " AND embedding_model = ?"
		args = append(args, opts.EmbeddingModel)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var kind string
		var embBlob []byte
		var model, cacheID, sessionID, agentID sql.NullString
		if err := rows.Scan(&r.ID, &kind, &r.Text, &embBlob, &model, &cacheID, &sessionID, &agentID); err != nil {
			return nil, fmt.Errorf("vectorstore: scan candidate: %w", err)
		}
		r.Kind = Kind(kind)
		r.EmbeddingModel = model.String
		r.CacheID = cacheID.String
		r.SessionID = sessionID.String
		r.AgentID = agentID.String
		if len(embBlob) > 0 {
			vec, err := embeddings.DecodeVector(embBlob)
			if err != nil {
				return nil, fmt.Errorf("vectorstore: decode embedding for %s: %w", r.ID, err)
			}
			r.Embedding = vec
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLiteStore) lexicalScores(queryText string, limit int) (map[string]float32, error) {
	scores := make(map[string]float32)
	if queryText == "" {
		return scores, nil
	}

	q := bleve.NewMatchQuery(queryText)
	q.SetField("text")

	req := bleve.NewSearchRequest(q)
	req.Size = limit

	result, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: bleve search: %w", err)
	}

	var maxScore float64
	for _, hit := range result.Hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}
	for _, hit := range result.Hits {
		if maxScore > 0 {
			scores[hit.ID] = float32(hit.Score / maxScore)
		}
	}
	return scores, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorstore: begin delete tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM vectorstore_records WHERE id = ?")
	if err != nil {
		return fmt.Errorf("vectorstore: prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("vectorstore: delete %s: %w", id, err)
		}
		if err := s.index.Delete(id); err != nil {
			return fmt.Errorf("vectorstore: bleve delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context, kind Kind, cacheID, sessionID, agentID string) (int64, error) {
	query := "SELECT COUNT(*) FROM vectorstore_records WHERE 1=1"
	var args []any
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}
	if cacheID != "" {
		query += " AND cache_id = ?"
		args = append(args, cacheID)
	}
	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}

	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// Compact implements Store.
func (s *SQLiteStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	idxErr := s.index.Close()
	dbErr := s.db.Close()
	if dbErr != nil {
		return dbErr
	}
	return idxErr
}
