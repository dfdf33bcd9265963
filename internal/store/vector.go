package store

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// vectorIndex is an in-memory HNSW graph over unit-scaled cosine
// vectors, grounded on the teacher's HNSWStore. coder/hnsw has no
// durable format of its own, so the graph is rebuilt at
// CorpusStore.Open() from the persisted `embeddings` table; the id
// mappings are derived in the same pass, so there is nothing left to
// persist separately.
type vectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

func newVectorIndex() *vectorIndex {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.Ml = 0.25
	g.EfSearch = 20
	return &vectorIndex{
		graph:  g,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func normalizeInPlace(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	mag := math.Sqrt(sumSq)
	if mag == 0 {
		return
	}
	for i, x := range v {
		v[i] = float32(float64(x) / mag)
	}
}

// add inserts or replaces vectors for the given chunk IDs. Replacement
// uses lazy deletion (orphan the old key) to avoid a known coder/hnsw
// issue deleting the graph's last node.
func (v *vectorIndex) add(ids []string, vecs [][]float32) error {
	if len(ids) != len(vecs) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vecs))
	}
	for _, vec := range vecs {
		if len(vec) != VectorDimensions {
			return ErrDimensionMismatch{Expected: VectorDimensions, Got: len(vec)}
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for i, id := range ids {
		if existing, ok := v.idMap[id]; ok {
			delete(v.keyMap, existing)
			delete(v.idMap, id)
		}

		vec := make([]float32, len(vecs[i]))
		copy(vec, vecs[i])
		normalizeInPlace(vec)

		key := v.nextKey
		v.nextKey++
		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idMap[id] = key
		v.keyMap[key] = id
	}
	return nil
}

// search returns up to k nearest neighbors ordered by ascending cosine
// distance.
func (v *vectorIndex) search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	if len(query) != VectorDimensions {
		return nil, ErrDimensionMismatch{Expected: VectorDimensions, Got: len(query)}
	}
	if k <= 0 {
		return []VectorResult{}, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 {
		return []VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := v.graph.Search(normalized, k)
	results := make([]VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue // orphaned by lazy deletion
		}
		distance := v.graph.Distance(normalized, node.Value)
		results = append(results, VectorResult{ChunkID: id, Distance: distance})
	}
	return results, nil
}
