package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chw-health/clinicalrag/internal/alert"
	"github.com/chw-health/clinicalrag/internal/generate"
	"github.com/chw-health/clinicalrag/internal/retrieve"
	"github.com/chw-health/clinicalrag/internal/store"
	"github.com/chw-health/clinicalrag/internal/synth"
)

// fakeStore implements store.CorpusStore with just enough surface for
// the retriever's read paths, grounded on internal/retrieve's own
// fakeStore fixture.
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

const dangerContent = "Patient presents with convulsions and a severe headache that has lasted three days."

func newTestPipeline(t *testing.T, backendURL string, runGuardrail bool) *Pipeline {
	t.Helper()
	s := &fakeStore{
		chunks: map[string]*store.Chunk{
			"c1": {ID: "c1", Content: dangerContent, Category: store.CategoryContent, Headings: []string{"Danger Signs"}},
		},
		knnResult: []store.VectorResult{{ChunkID: "c1", Distance: 0.1}},
	}
	retriever := retrieve.New(s, fakeEmbedder{})
	alerter := alert.New([]store.HighRiskTerm{
		{Term: "convulsions", Category: "Neurological", Severity: "High"},
		{Term: "severe headache", Category: "Neurological", Severity: "Medium"},
	})
	client := generate.New(generate.Config{URL: backendURL, Model: "llama3"})
	synthesizer := synth.NewSynthesizer(client, 0)
	var guardrail *synth.Guardrail
	if runGuardrail {
		guardrail = synth.NewGuardrail(client, 0)
	}
	return New(retriever, alerter, synthesizer, guardrail, 1)
}

func TestQuery_HappyPathReachesDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":"Danger signs: convulsions. [p.?]","done":true}`)
	}))
	defer srv.Close()

	p := newTestPipeline(t, srv.URL, false)

	result, err := p.Query(context.Background(), "what are the danger signs", 5, false)

	require.NoError(t, err)
	require.Equal(t, StateDone, result.State)
	require.Len(t, result.Alerts, 2)
	require.Equal(t, "convulsions", result.Alerts[0].Term)
	require.Contains(t, result.Summary, "convulsions")
}

func TestQuery_WithGuardrailReachesValidPass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "GROUNDING") {
			fmt.Fprint(w, `{"response":"OVERALL: PASS","done":true}`)
			return
		}
		fmt.Fprint(w, `{"response":"summary text","done":true}`)
	}))
	defer srv.Close()

	p := newTestPipeline(t, srv.URL, true)

	result, err := p.Query(context.Background(), "q", 5, true)

	require.NoError(t, err)
	require.Equal(t, StateDone, result.State)
	require.NotNil(t, result.Verdict)
	require.True(t, result.Verdict.Passed)
}

func TestQuery_SearchEmpty_SkipsSynthesis(t *testing.T) {
	s := &fakeStore{chunks: map[string]*store.Chunk{}}
	retriever := retrieve.New(s, fakeEmbedder{})
	alerter := alert.New(nil)
	client := generate.New(generate.Config{URL: "http://127.0.0.1:1", Model: "llama3"})
	synthesizer := synth.NewSynthesizer(client, 0)
	p := New(retriever, alerter, synthesizer, nil, 1)

	result, err := p.Query(context.Background(), "no matches", 5, false)

	require.NoError(t, err)
	require.Equal(t, StateDone, result.State)
	require.Empty(t, result.Results)
	require.NotEmpty(t, result.Summary)
}

func TestQuery_SynthFail_SurfacedWithoutGuardrail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	retriever := retrieve.New(&fakeStore{
		chunks:    map[string]*store.Chunk{"c1": {ID: "c1", Content: dangerContent, Category: store.CategoryContent}},
		knnResult: []store.VectorResult{{ChunkID: "c1", Distance: 0.1}},
	}, fakeEmbedder{})
	alerter := alert.New(nil)
	client := generate.New(generate.Config{URL: srv.URL, Model: "llama3", MaxRetries: 1})
	synthesizer := synth.NewSynthesizer(client, 0)
	p := New(retriever, alerter, synthesizer, synth.NewGuardrail(client, 0), 1)

	result, err := p.Query(context.Background(), "q", 5, true)

	require.Error(t, err)
	require.Equal(t, StateSynthFail, result.State)
	require.Nil(t, result.Verdict)
}

func TestQuerySearchOnly_NeverInvokesBackend(t *testing.T) {
	retriever := retrieve.New(&fakeStore{
		chunks:    map[string]*store.Chunk{"c1": {ID: "c1", Content: dangerContent, Category: store.CategoryContent}},
		knnResult: []store.VectorResult{{ChunkID: "c1", Distance: 0.1}},
	}, fakeEmbedder{})
	alerter := alert.New([]store.HighRiskTerm{{Term: "convulsions", Category: "Neurological", Severity: "High"}})
	client := generate.New(generate.Config{URL: "http://127.0.0.1:1", Model: "llama3"})
	synthesizer := synth.NewSynthesizer(client, 0)
	p := New(retriever, alerter, synthesizer, nil, 1)

	result, err := p.QuerySearchOnly(context.Background(), "q", 5)

	require.NoError(t, err)
	require.Equal(t, StateDone, result.State)
	require.NotEmpty(t, result.Alerts)
}
