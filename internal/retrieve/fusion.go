// Package retrieve implements hybrid dense+lexical search over the
// corpus store, fused with Reciprocal Rank Fusion, grounded on the
// teacher's search package.
package retrieve

import "sort"

// RRFConstant is the fixed RRF smoothing constant. Unlike the
// teacher's configurable k, this is not a tunable: k=60 is the
// contractual value both search lanes must match exactly.
const RRFConstant = 60

// FusedResult is a single chunk after fusion of its dense and lexical
// ranks. VecRank/BM25Rank are 1-indexed; 0 means absent from that lane.
type FusedResult struct {
	ChunkID  string
	RRFScore float64
	VecRank  int
	BM25Rank int
}

// Fuse combines the vector and keyword lane results (each already
// filtered and ranked by its own search, per §4.5) into a single
// RRF-scored list. A chunk's score is the sum of 1/(K+rank+1) over
// only the lanes it appears in — there is no credited "missing rank"
// contribution for a lane it's absent from.
//
// Ties are broken by order of first observation: the vector lane is
// visited before the keyword lane, so a vector-only or vector-first
// chunk sorts ahead of an equal-scoring keyword-only chunk. Go's
// stable sort preserves that insertion order for exact score ties.
func Fuse(vec []Result, bm25 []Result) []FusedResult {
	if len(vec) == 0 && len(bm25) == 0 {
		return []FusedResult{}
	}

	order := make([]string, 0, len(vec)+len(bm25))
	seen := make(map[string]*FusedResult, len(vec)+len(bm25))

	observe := func(id string, rank int, isVec bool) {
		fr, ok := seen[id]
		if !ok {
			fr = &FusedResult{ChunkID: id}
			seen[id] = fr
			order = append(order, id)
		}
		if isVec {
			fr.VecRank = rank + 1
		} else {
			fr.BM25Rank = rank + 1
		}
		fr.RRFScore += 1.0 / float64(RRFConstant+rank+1)
	}

	for rank, r := range vec {
		observe(r.Chunk.ID, rank, true)
	}
	for rank, r := range bm25 {
		observe(r.Chunk.ID, rank, false)
	}

	results := make([]FusedResult, 0, len(order))
	for _, id := range order {
		results = append(results, *seen[id])
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RRFScore > results[j].RRFScore
	})

	return results
}
