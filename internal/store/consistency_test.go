package store

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open("", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustVector(seed float32) []float32 {
	v := make([]float32, VectorDimensions)
	for i := range v {
		v[i] = seed
	}
	return v
}

func insertChunkFixture(t *testing.T, s *SQLiteStore, docID, chunkID string) {
	t.Helper()
	ctx := context.Background()
	err := s.InsertChunk(ctx, docID, &Chunk{
		ID:                 chunkID,
		Content:            "danger signs include convulsions",
		ContextualizedText: "Guideline > Danger Signs: danger signs include convulsions",
		ChunkType:          ChunkTypeText,
		Category:           CategoryContent,
	})
	require.NoError(t, err)
}

func TestCheckConsistency_AllConsistent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.InsertDocument(ctx, &Document{Filename: "guideline.pdf"})
	require.NoError(t, err)

	insertChunkFixture(t, s, docID, "chunk1")
	insertChunkFixture(t, s, docID, "chunk2")

	require.NoError(t, s.InsertEmbeddingsBatch(ctx, []string{"chunk1", "chunk2"}, [][]float32{mustVector(0.1), mustVector(0.2)}))
	require.NoError(t, s.PopulateFTS(ctx))

	result, err := s.CheckConsistency(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Checked)
	require.Empty(t, result.Inconsistencies)

	consistent, err := s.QuickCheck(ctx)
	require.NoError(t, err)
	require.True(t, consistent)
}

func TestCheckConsistency_MissingEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.InsertDocument(ctx, &Document{Filename: "guideline.pdf"})
	require.NoError(t, err)

	insertChunkFixture(t, s, docID, "chunk1")
	insertChunkFixture(t, s, docID, "chunk2")
	require.NoError(t, s.InsertEmbeddingsBatch(ctx, []string{"chunk1"}, [][]float32{mustVector(0.1)}))
	require.NoError(t, s.PopulateFTS(ctx))

	result, err := s.CheckConsistency(ctx)
	require.NoError(t, err)

	found := false
	for _, issue := range result.Inconsistencies {
		if issue.Type == InconsistencyMissingEmbedding && issue.ChunkID == "chunk2" {
			found = true
		}
	}
	require.True(t, found, "expected missing_embedding for chunk2, got %+v", result.Inconsistencies)

	consistent, err := s.QuickCheck(ctx)
	require.NoError(t, err)
	require.False(t, consistent)
}

func TestCheckConsistency_MissingFTS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID, err := s.InsertDocument(ctx, &Document{Filename: "guideline.pdf"})
	require.NoError(t, err)

	insertChunkFixture(t, s, docID, "chunk1")
	require.NoError(t, s.InsertEmbeddingsBatch(ctx, []string{"chunk1"}, [][]float32{mustVector(0.1)}))
	// deliberately skip PopulateFTS

	result, err := s.CheckConsistency(ctx)
	require.NoError(t, err)

	found := false
	for _, issue := range result.Inconsistencies {
		if issue.Type == InconsistencyMissingFTS && issue.ChunkID == "chunk1" {
			found = true
		}
	}
	require.True(t, found, "expected missing_fts for chunk1, got %+v", result.Inconsistencies)
}

func TestInconsistencyType_String(t *testing.T) {
	tests := []struct {
		t    InconsistencyType
		want string
	}{
		{InconsistencyMissingEmbedding, "missing_embedding"},
		{InconsistencyMissingFTS, "missing_fts"},
		{InconsistencyOrphanEmbedding, "orphan_embedding"},
		{InconsistencyOrphanFTS, "orphan_fts"},
		{InconsistencyType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, tt.t.String())
		})
	}
}
