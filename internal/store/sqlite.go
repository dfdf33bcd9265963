package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	title TEXT,
	version TEXT,
	extraction_date TEXT NOT NULL,
	approval_status TEXT NOT NULL DEFAULT 'pending',
	page_count INTEGER NOT NULL DEFAULT 0,
	raw_payload TEXT
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL,
	content TEXT NOT NULL,
	contextualized_text TEXT NOT NULL,
	chunk_type TEXT NOT NULL,
	page_number INTEGER,
	category TEXT NOT NULL DEFAULT 'content',
	FOREIGN KEY (doc_id) REFERENCES documents(doc_id)
);

CREATE TABLE IF NOT EXISTS chunk_metadata (
	chunk_id TEXT PRIMARY KEY,
	headings_json TEXT,
	bbox_json TEXT,
	element_label TEXT,
	FOREIGN KEY (chunk_id) REFERENCES chunks(chunk_id)
);

CREATE TABLE IF NOT EXISTS embeddings (
	chunk_id TEXT PRIMARY KEY,
	dim INTEGER NOT NULL,
	vector BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS high_risk_terms (
	term_id INTEGER PRIMARY KEY AUTOINCREMENT,
	term TEXT NOT NULL UNIQUE,
	category TEXT,
	severity TEXT NOT NULL DEFAULT 'High'
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_chunks_category ON chunks(category);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(approval_status);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	chunk_id UNINDEXED,
	content,
	tokenize='porter unicode61'
);
`

// SQLiteStore implements CorpusStore over a single embedded SQLite
// file, grounded on the teacher's SQLiteBM25Index (WAL mode,
// integrity-check-before-open, modernc.org/sqlite) merged with its
// MetadataStore shape (documents/chunks tables, transactional batch
// writes). The vector index is an in-process HNSW graph rebuilt from
// the `embeddings` table at open.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	lock   *flock.Flock
	vec    *vectorIndex
	closed bool
	log    *slog.Logger
}

var _ CorpusStore = (*SQLiteStore)(nil)

// Open opens or creates the store at path, running schema creation
// idempotently, then rebuilds the in-memory vector index from the
// `embeddings` table. Pass an empty path for an in-memory store
// (testing only — no file locking, no vector persistence).
func Open(path string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}

	var dsn string
	var fileLock *flock.Flock
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, fmt.Errorf("store file is unreadable or corrupt: %w", err)
		}
		fileLock = flock.New(path + ".lock")
		acquired, err := fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire store lock %s: %w", fileLock.Path(), err)
		}
		if !acquired {
			return nil, fmt.Errorf("store %s is locked by another process (single-writer ingestion in progress)", path)
		}
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		unlockOnFailure(fileLock)
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer; reads and writes share the one connection
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			unlockOnFailure(fileLock)
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		unlockOnFailure(fileLock)
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		path: path,
		lock: fileLock,
		vec:  newVectorIndex(),
		log:  log,
	}

	if err := s.rebuildVectorIndex(context.Background()); err != nil {
		_ = db.Close()
		unlockOnFailure(fileLock)
		return nil, fmt.Errorf("rebuild vector index: %w", err)
	}

	return s, nil
}

// unlockOnFailure releases a just-acquired store lock when Open fails
// after TryLock but before returning a usable *SQLiteStore, so a
// construction failure doesn't leave the lock file held forever.
func unlockOnFailure(fileLock *flock.Flock) {
	if fileLock == nil {
		return
	}
	_ = fileLock.Unlock()
}

// validateIntegrity checks an existing store file before opening.
// A missing file is not an error — it will be created.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("store file corrupted: %s", result)
	}
	return nil
}

// rebuildVectorIndex loads every row from `embeddings` into the
// in-memory HNSW graph. Called once at Open.
func (s *SQLiteStore) rebuildVectorIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, dim, vector FROM embeddings`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var ids []string
	var vecs [][]float32
	for rows.Next() {
		var id string
		var dim int
		var blob []byte
		if err := rows.Scan(&id, &dim, &blob); err != nil {
			return err
		}
		vec, err := decodeVector(blob, dim)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return s.vec.add(ids, vecs)
}

func newID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// InsertDocument returns a new doc_id and initializes approval_status
// to pending.
func (s *SQLiteStore) InsertDocument(ctx context.Context, doc *Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.ID
	if id == "" {
		id = newID()
	}
	extraction := doc.ExtractionDate
	if extraction.IsZero() {
		extraction = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, filename, title, version, extraction_date, approval_status, page_count, raw_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, doc.Filename, doc.Title, doc.Version, extraction.Format(time.RFC3339),
		string(ApprovalPending), doc.PageCount, doc.RawPayload)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// InsertChunk requires the referenced document to exist and persists
// the chunk row plus its sidecar metadata row atomically.
func (s *SQLiteStore) InsertChunk(ctx context.Context, docID string, chunk *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE doc_id = ?`, docID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("document %s does not exist", docID)
	}

	id := chunk.ID
	if id == "" {
		id = newID()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunks (chunk_id, doc_id, content, contextualized_text, chunk_type, page_number, category)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, docID, chunk.Content, chunk.ContextualizedText, string(chunk.ChunkType),
		nullableInt(chunk.PageNumber), string(chunk.Category))
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}

	headingsJSON, err := json.Marshal(chunk.Headings)
	if err != nil {
		return err
	}
	var bboxJSON []byte
	if chunk.BBox != nil {
		bboxJSON, err = json.Marshal(chunk.BBox)
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunk_metadata (chunk_id, headings_json, bbox_json, element_label)
		VALUES (?, ?, ?, ?)`,
		id, string(headingsJSON), string(bboxJSON), chunk.ElementLabel)
	if err != nil {
		return fmt.Errorf("insert chunk metadata: %w", err)
	}

	return tx.Commit()
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// InsertEmbedding rejects vectors of the wrong dimension and keeps the
// persisted row and the in-memory vector index in lockstep.
func (s *SQLiteStore) InsertEmbedding(ctx context.Context, chunkID string, vec []float32) error {
	return s.InsertEmbeddingsBatch(ctx, []string{chunkID}, [][]float32{vec})
}

// InsertEmbeddingsBatch is the batched form used by ingestion.
func (s *SQLiteStore) InsertEmbeddingsBatch(ctx context.Context, chunkIDs []string, vecs [][]float32) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if len(chunkIDs) != len(vecs) {
		return fmt.Errorf("chunk ids and vectors length mismatch: %d vs %d", len(chunkIDs), len(vecs))
	}
	for _, v := range vecs {
		if len(v) != VectorDimensions {
			return ErrDimensionMismatch{Expected: VectorDimensions, Got: len(v)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO embeddings (chunk_id, dim, vector) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, id := range chunkIDs {
		blob := encodeVector(vecs[i])
		if _, err := stmt.ExecContext(ctx, id, len(vecs[i]), blob); err != nil {
			return fmt.Errorf("insert embedding for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return s.vec.add(chunkIDs, vecs)
}

// PopulateFTS atomically clears and rebuilds the FTS index from
// current chunk content. Idempotent.
func (s *SQLiteStore) PopulateFTS(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts`); err != nil {
		return fmt.Errorf("clear fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO chunks_fts (chunk_id, content) SELECT chunk_id, content FROM chunks`); err != nil {
		return fmt.Errorf("populate fts: %w", err)
	}
	return tx.Commit()
}

// PopulateHighRiskLexicon atomically clears and reloads the curated
// term set, lowercase-normalizing each term.
func (s *SQLiteStore) PopulateHighRiskLexicon(ctx context.Context, terms []HighRiskTerm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM high_risk_terms`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO high_risk_terms (term, category, severity) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range terms {
		if _, err := stmt.ExecContext(ctx, strings.ToLower(t.Term), t.Category, t.Severity); err != nil {
			return fmt.Errorf("insert term %q: %w", t.Term, err)
		}
	}

	return tx.Commit()
}

// UpdateApproval transitions across states freely; no state-machine
// constraint is enforced.
func (s *SQLiteStore) UpdateApproval(ctx context.Context, docID string, status ApprovalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE documents SET approval_status = ? WHERE doc_id = ?`, string(status), docID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s not found", docID)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, filename, title, version, extraction_date, approval_status, page_count, raw_payload
		FROM documents WHERE doc_id = ?`, docID)
	return scanDocument(row)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, status *ApprovalStatus) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT doc_id, filename, title, version, extraction_date, approval_status, page_count, raw_payload FROM documents`
	args := []any{}
	if status != nil {
		query += ` WHERE approval_status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY extraction_date ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	var version, rawPayload sql.NullString
	var extraction string
	var status string
	if err := row.Scan(&d.ID, &d.Filename, &d.Title, &version, &extraction, &status, &d.PageCount, &rawPayload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	d.Version = version.String
	d.RawPayload = rawPayload.String
	d.ApprovalStatus = ApprovalStatus(status)
	if t, err := time.Parse(time.RFC3339, extraction); err == nil {
		d.ExtractionDate = t
	}
	return &d, nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, docID string, category *Category) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT c.chunk_id, c.doc_id, c.content, c.contextualized_text, c.chunk_type, c.page_number, c.category,
		       m.headings_json, m.bbox_json, m.element_label
		FROM chunks c LEFT JOIN chunk_metadata m ON c.chunk_id = m.chunk_id
		WHERE c.doc_id = ?`
	args := []any{docID}
	if category != nil {
		query += ` AND c.category = ?`
		args = append(args, string(*category))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (s *SQLiteStore) GetChunksByID(ctx context.Context, chunkIDs []string) ([]*Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT c.chunk_id, c.doc_id, c.content, c.contextualized_text, c.chunk_type, c.page_number, c.category,
		       m.headings_json, m.bbox_json, m.element_label
		FROM chunks c LEFT JOIN chunk_metadata m ON c.chunk_id = m.chunk_id
		WHERE c.chunk_id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var pageNumber sql.NullInt64
	var category, chunkType string
	var headingsJSON, bboxJSON, elementLabel sql.NullString

	if err := row.Scan(&c.ID, &c.DocID, &c.Content, &c.ContextualizedText, &chunkType,
		&pageNumber, &category, &headingsJSON, &bboxJSON, &elementLabel); err != nil {
		return nil, err
	}

	c.ChunkType = ChunkType(chunkType)
	c.Category = Category(category)
	c.ElementLabel = elementLabel.String
	if pageNumber.Valid {
		n := int(pageNumber.Int64)
		c.PageNumber = &n
	}
	if headingsJSON.Valid && headingsJSON.String != "" {
		_ = json.Unmarshal([]byte(headingsJSON.String), &c.Headings)
	}
	if bboxJSON.Valid && bboxJSON.String != "" {
		var bb BoundingBox
		if err := json.Unmarshal([]byte(bboxJSON.String), &bb); err == nil {
			c.BBox = &bb
		}
	}
	return &c, nil
}

func (s *SQLiteStore) ChunkCount(ctx context.Context, docID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE doc_id = ?`, docID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Lexicon(ctx context.Context) ([]HighRiskTerm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT term, category, severity FROM high_risk_terms ORDER BY term`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terms []HighRiskTerm
	for rows.Next() {
		var t HighRiskTerm
		if err := rows.Scan(&t.Term, &t.Category, &t.Severity); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// KNN answers nearest-neighbor queries from the in-memory vector
// index; it never itself applies a category/length filter — that is
// the Retriever's job (§4.2 Filter policy).
func (s *SQLiteStore) KNN(ctx context.Context, queryVec []float32, k int) ([]VectorResult, error) {
	return s.vec.search(ctx, queryVec, k)
}

// BM25 builds the disjunctive phrase query described in §4.3:
// whitespace-split, phrase-quote each term, OR-join. An empty query
// short-circuits without touching the index.
func (s *SQLiteStore) BM25(ctx context.Context, queryTokens []string, k int, contentOnly bool) ([]BM25Result, error) {
	if len(queryTokens) == 0 || k <= 0 {
		return []BM25Result{}, nil
	}

	terms := make([]string, 0, len(queryTokens))
	for _, t := range queryTokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		terms = append(terms, fmt.Sprintf(`"%s"`, strings.ReplaceAll(t, `"`, `""`)))
	}
	if len(terms) == 0 {
		return []BM25Result{}, nil
	}
	ftsQuery := strings.Join(terms, " OR ")

	query := `
		SELECT c.chunk_id, bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.chunk_id = chunks_fts.chunk_id
		WHERE chunks_fts MATCH ?`
	args := []any{ftsQuery}
	if contentOnly {
		query += ` AND c.category = ?`
		args = append(args, string(CategoryContent))
	}
	query += ` ORDER BY bm25(chunks_fts) LIMIT ?`
	args = append(args, k)

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.mu.RUnlock()
	if err != nil {
		// Lexical query parse error: escape malformed input, never
		// propagate raw — return empty results with a diagnostic (§7.3).
		s.log.Warn("bm25_query_failed", slog.String("error", err.Error()))
		return []BM25Result{}, nil
	}
	defer rows.Close()

	var results []BM25Result
	for rows.Next() {
		var r BM25Result
		if err := rows.Scan(&r.ChunkID, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return s.db.Close()
}
