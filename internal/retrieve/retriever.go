package retrieve

import (
	"context"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chw-health/clinicalrag/internal/embed"
	"github.com/chw-health/clinicalrag/internal/errors"
	"github.com/chw-health/clinicalrag/internal/store"
)

// vectorCandidateMultiplier controls how many extra candidates the
// vector lane over-fetches before the metadata/length filter is
// applied, so the filter doesn't starve the final top-k.
const vectorCandidateMultiplier = 3

// minContentChars rejects degenerate chunks (stray headers, page
// numbers) that should never surface as a retrieval hit.
const minContentChars = 50

// hybridLaneSize is the fixed candidate-list width each lane
// contributes to fusion, independent of the caller's requested top_k.
const hybridLaneSize = 15

// Source identifies which lane produced a Result.
type Source string

const (
	SourceVector  Source = "vector"
	SourceKeyword Source = "keyword"
	SourceHybrid  Source = "hybrid"
)

// Result is a single retrieved chunk plus the score and lane that
// produced it.
type Result struct {
	Chunk  *store.Chunk
	Score  float32
	Source Source
}

// Retriever executes dense, lexical, and fused hybrid search against
// the corpus store, grounded on the teacher's SearchEngine but
// simplified to the spec's single fixed-K RRF algorithm.
type Retriever struct {
	corpus   store.CorpusStore
	embedder embed.Embedder
}

// New builds a Retriever over the given store and embedder.
func New(corpus store.CorpusStore, embedder embed.Embedder) *Retriever {
	return &Retriever{corpus: corpus, embedder: embedder}
}

// SearchVector runs dense retrieval: embed the query, over-fetch 3k
// candidates from the vector index, then drop chunks that are
// metadata (front/back matter) or shorter than 50 characters before
// trimming to k. No retry is attempted if filtering leaves fewer than
// k survivors.
func (r *Retriever) SearchVector(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
	}

	candidates, err := r.corpus.KNN(ctx, queryVec, k*vectorCandidateMultiplier)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	chunks, err := r.fetchChunkMap(ctx, candidateIDs(candidates))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, k)
	for _, c := range candidates {
		chunk, ok := chunks[c.ChunkID]
		if !ok || !passesContentFilter(chunk) {
			continue
		}
		results = append(results, Result{
			Chunk:  chunk,
			Score:  1 - c.Distance,
			Source: SourceVector,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// SearchKeyword runs lexical retrieval: whitespace-tokenize the query
// and run it against chunks_fts, restricted to content chunks (front
// matter is never a useful lexical hit).
func (r *Retriever) SearchKeyword(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	tokens := strings.Fields(query)
	bm25Results, err := r.corpus.BM25(ctx, tokens, k, true)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	if len(bm25Results) == 0 {
		return []Result{}, nil
	}

	chunks, err := r.fetchChunkMap(ctx, bm25CandidateIDs(bm25Results))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(bm25Results))
	for _, b := range bm25Results {
		chunk, ok := chunks[b.ChunkID]
		if !ok {
			continue
		}
		results = append(results, Result{
			Chunk:  chunk,
			Score:  float32(math.Abs(float64(b.Score))),
			Source: SourceKeyword,
		})
	}
	return results, nil
}

// SearchHybrid runs both lanes at a fixed width of 15 (per §4.5,
// independent of top_k), fuses them with RRF, and returns the top_k
// fused results. Each lane has already applied its own filter
// (metadata/length for vector, content-only for keyword), so fusion
// here only ranks — it never re-filters.
func (r *Retriever) SearchHybrid(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}

	var vecResults, bm25Results []Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vr, err := r.SearchVector(gctx, query, hybridLaneSize)
		if err != nil {
			return err
		}
		vecResults = vr
		return nil
	})
	g.Go(func() error {
		br, err := r.SearchKeyword(gctx, query, hybridLaneSize)
		if err != nil {
			return err
		}
		bm25Results = br
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	chunkByID := make(map[string]*store.Chunk, len(vecResults)+len(bm25Results))
	for _, r := range vecResults {
		chunkByID[r.Chunk.ID] = r.Chunk
	}
	for _, r := range bm25Results {
		if _, ok := chunkByID[r.Chunk.ID]; !ok {
			chunkByID[r.Chunk.ID] = r.Chunk
		}
	}

	fused := Fuse(vecResults, bm25Results)

	results := make([]Result, 0, topK)
	for _, f := range fused {
		chunk, ok := chunkByID[f.ChunkID]
		if !ok {
			continue
		}
		results = append(results, Result{
			Chunk:  chunk,
			Score:  float32(f.RRFScore),
			Source: SourceHybrid,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func passesContentFilter(c *store.Chunk) bool {
	return c.Category == store.CategoryContent && len(strings.TrimSpace(c.Content)) >= minContentChars
}

func candidateIDs(results []store.VectorResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func bm25CandidateIDs(results []store.BM25Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func (r *Retriever) fetchChunkMap(ctx context.Context, ids []string) (map[string]*store.Chunk, error) {
	if len(ids) == 0 {
		return map[string]*store.Chunk{}, nil
	}
	chunks, err := r.corpus.GetChunksByID(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSearchFailed, err)
	}
	m := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		m[c.ID] = c
	}
	return m, nil
}
