package store

import (
	"context"
	"log/slog"
	"time"
)

// InconsistencyType categorizes a detected cross-table issue.
type InconsistencyType int

const (
	// InconsistencyMissingEmbedding indicates a chunk with no row in `embeddings`.
	InconsistencyMissingEmbedding InconsistencyType = iota
	// InconsistencyMissingFTS indicates a chunk with no row in `chunks_fts`.
	InconsistencyMissingFTS
	// InconsistencyOrphanEmbedding indicates an `embeddings` row with no owning chunk.
	InconsistencyOrphanEmbedding
	// InconsistencyOrphanFTS indicates a `chunks_fts` row with no owning chunk.
	InconsistencyOrphanFTS
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissingEmbedding:
		return "missing_embedding"
	case InconsistencyMissingFTS:
		return "missing_fts"
	case InconsistencyOrphanEmbedding:
		return "orphan_embedding"
	case InconsistencyOrphanFTS:
		return "orphan_fts"
	default:
		return "unknown"
	}
}

// Inconsistency is a single detected issue.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID string
	Details string
}

// CheckResult is the outcome of a consistency pass.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// CheckConsistency verifies I1 — every persisted chunk has exactly one
// embedding row and one chunks_fts row, and neither of those tables
// carries rows for chunks that no longer exist. Since all three live
// in the same SQLite file, this is three set-difference queries rather
// than a cross-store reconciliation.
func (s *SQLiteStore) CheckConsistency(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var issues []Inconsistency

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id FROM chunks c
		LEFT JOIN embeddings e ON c.chunk_id = e.chunk_id
		WHERE e.chunk_id IS NULL`)
	if err != nil {
		return nil, err
	}
	if err := collectInconsistencies(rows, InconsistencyMissingEmbedding, "chunk has no embedding row", &issues); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT c.chunk_id FROM chunks c
		LEFT JOIN chunks_fts f ON c.chunk_id = f.chunk_id
		WHERE f.chunk_id IS NULL`)
	if err != nil {
		return nil, err
	}
	if err := collectInconsistencies(rows, InconsistencyMissingFTS, "chunk has no fts row", &issues); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT e.chunk_id FROM embeddings e
		LEFT JOIN chunks c ON c.chunk_id = e.chunk_id
		WHERE c.chunk_id IS NULL`)
	if err != nil {
		return nil, err
	}
	if err := collectInconsistencies(rows, InconsistencyOrphanEmbedding, "embedding without owning chunk", &issues); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT f.chunk_id FROM chunks_fts f
		LEFT JOIN chunks c ON c.chunk_id = f.chunk_id
		WHERE c.chunk_id IS NULL`)
	if err != nil {
		return nil, err
	}
	if err := collectInconsistencies(rows, InconsistencyOrphanFTS, "fts row without owning chunk", &issues); err != nil {
		return nil, err
	}

	return &CheckResult{
		Checked:         total,
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

func collectInconsistencies(rows rowsIface, kind InconsistencyType, details string, out *[]Inconsistency) error {
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		*out = append(*out, Inconsistency{Type: kind, ChunkID: id, Details: details})
	}
	return rows.Err()
}

type rowsIface interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close() error
}

// QuickCheck reports whether chunk, embedding and FTS row counts agree,
// without enumerating individual offending IDs.
func (s *SQLiteStore) QuickCheck(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make([]int, 3)
	queries := []string{
		`SELECT COUNT(*) FROM chunks`,
		`SELECT COUNT(*) FROM embeddings`,
		`SELECT COUNT(*) FROM chunks_fts`,
	}
	for i, q := range queries {
		if err := s.db.QueryRowContext(ctx, q).Scan(&counts[i]); err != nil {
			return false, err
		}
	}

	consistent := counts[0] == counts[1] && counts[0] == counts[2]
	if !consistent {
		s.log.Debug("store counts mismatch",
			slog.Int("chunks", counts[0]),
			slog.Int("embeddings", counts[1]),
			slog.Int("chunks_fts", counts[2]))
	}
	return consistent, nil
}
