package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chw-health/clinicalrag/internal/store"
)

// fakeStore implements store.CorpusStore with in-memory fixtures, just
// enough surface for the retriever's read paths.
type fakeStore struct {
	chunks     map[string]*store.Chunk
	knnResult  []store.VectorResult
	bm25Result []store.BM25Result
}

func (f *fakeStore) InsertDocument(context.Context, *store.Document) (string, error)    { return "", nil }
func (f *fakeStore) InsertChunk(context.Context, string, *store.Chunk) error            { return nil }
func (f *fakeStore) InsertEmbedding(context.Context, string, []float32) error           { return nil }
func (f *fakeStore) InsertEmbeddingsBatch(context.Context, []string, [][]float32) error { return nil }
func (f *fakeStore) PopulateFTS(context.Context) error                                  { return nil }
func (f *fakeStore) PopulateHighRiskLexicon(context.Context, []store.HighRiskTerm) error {
	return nil
}
func (f *fakeStore) UpdateApproval(context.Context, string, store.ApprovalStatus) error { return nil }
func (f *fakeStore) GetDocument(context.Context, string) (*store.Document, error)       { return nil, nil }
func (f *fakeStore) ListDocuments(context.Context, *store.ApprovalStatus) ([]*store.Document, error) {
	return nil, nil
}
func (f *fakeStore) GetChunks(context.Context, string, *store.Category) ([]*store.Chunk, error) {
	return nil, nil
}
func (f *fakeStore) GetChunksByID(_ context.Context, ids []string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeStore) ChunkCount(context.Context, string) (int, error)       { return len(f.chunks), nil }
func (f *fakeStore) Lexicon(context.Context) ([]store.HighRiskTerm, error) { return nil, nil }
func (f *fakeStore) KNN(context.Context, []float32, int) ([]store.VectorResult, error) {
	return f.knnResult, nil
}
func (f *fakeStore) BM25(context.Context, []string, int, bool) ([]store.BM25Result, error) {
	return f.bm25Result, nil
}
func (f *fakeStore) Close() error { return nil }

// fakeEmbedder returns a fixed vector regardless of input.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, store.VectorDimensions), nil
}
func (fakeEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) { return nil, nil }
func (fakeEmbedder) Dimensions() int                                          { return store.VectorDimensions }
func (fakeEmbedder) ModelName() string                                        { return "fake" }
func (fakeEmbedder) Available(context.Context) bool                          { return true }
func (fakeEmbedder) Close() error                                            { return nil }
func (fakeEmbedder) SetBatchIndex(int)                                       {}
func (fakeEmbedder) SetFinalBatch(bool)                                      {}

const longContentText = "Danger signs include convulsions, lethargy, and persistent high fever lasting more than three days."
const otherLongContentText = "General guidance on follow-up care, hydration, and when to refer a patient to the nearest clinic."

func TestSearchVector_FiltersOutMetadataAndShortChunks(t *testing.T) {
	s := &fakeStore{
		chunks: map[string]*store.Chunk{
			"content1":  {ID: "content1", Content: longContentText, Category: store.CategoryContent},
			"metadata1": {ID: "metadata1", Content: otherLongContentText, Category: store.CategoryMetadata},
			"short1":    {ID: "short1", Content: "n/a", Category: store.CategoryContent},
		},
		knnResult: []store.VectorResult{
			{ChunkID: "content1", Distance: 0.1},
			{ChunkID: "metadata1", Distance: 0.2},
			{ChunkID: "short1", Distance: 0.3},
		},
	}
	r := New(s, fakeEmbedder{})

	results, err := r.SearchVector(context.Background(), "danger signs", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "content1", results[0].Chunk.ID)
	require.Equal(t, SourceVector, results[0].Source)
	require.InDelta(t, 0.9, results[0].Score, 1e-6)
}

func TestSearchKeyword_PreservesStoreOrderAndUsesAbsoluteScore(t *testing.T) {
	s := &fakeStore{
		chunks: map[string]*store.Chunk{
			"a": {ID: "a", Content: longContentText, Category: store.CategoryContent},
			"b": {ID: "b", Content: otherLongContentText, Category: store.CategoryContent},
		},
		bm25Result: []store.BM25Result{
			{ChunkID: "b", Score: -9.0},
			{ChunkID: "a", Score: -5.0},
		},
	}
	r := New(s, fakeEmbedder{})

	results, err := r.SearchKeyword(context.Background(), "convulsions", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "b", results[0].Chunk.ID)
	require.InDelta(t, 9.0, results[0].Score, 1e-6)
	require.Equal(t, "a", results[1].Chunk.ID)
	require.Equal(t, SourceKeyword, results[1].Source)
}

func TestSearchKeyword_ZeroLimitReturnsNil(t *testing.T) {
	r := New(&fakeStore{}, fakeEmbedder{})
	results, err := r.SearchKeyword(context.Background(), "x", 0)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestSearchHybrid_FusesBothLanes(t *testing.T) {
	s := &fakeStore{
		chunks: map[string]*store.Chunk{
			"both": {ID: "both", Content: longContentText, Category: store.CategoryContent},
			"vec":  {ID: "vec", Content: otherLongContentText, Category: store.CategoryContent},
		},
		knnResult: []store.VectorResult{
			{ChunkID: "both", Distance: 0.1},
			{ChunkID: "vec", Distance: 0.2},
		},
		bm25Result: []store.BM25Result{
			{ChunkID: "both", Score: -9.0},
		},
	}
	r := New(s, fakeEmbedder{})

	results, err := r.SearchHybrid(context.Background(), "convulsions", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "both", results[0].Chunk.ID)
	require.Equal(t, SourceHybrid, results[0].Source)
}

func TestSearchHybrid_EachChunkAppearsAtMostOnce(t *testing.T) {
	s := &fakeStore{
		chunks: map[string]*store.Chunk{
			"both": {ID: "both", Content: longContentText, Category: store.CategoryContent},
		},
		knnResult:  []store.VectorResult{{ChunkID: "both", Distance: 0.1}},
		bm25Result: []store.BM25Result{{ChunkID: "both", Score: -9.0}},
	}
	r := New(s, fakeEmbedder{})

	results, err := r.SearchHybrid(context.Background(), "convulsions", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchVector_ZeroLimitReturnsNil(t *testing.T) {
	r := New(&fakeStore{}, fakeEmbedder{})
	results, err := r.SearchVector(context.Background(), "x", 0)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestSearchHybrid_ZeroTopKReturnsNil(t *testing.T) {
	r := New(&fakeStore{}, fakeEmbedder{})
	results, err := r.SearchHybrid(context.Background(), "x", 0)
	require.NoError(t, err)
	require.Nil(t, results)
}
