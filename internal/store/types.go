// Package store provides the corpus store: a single embedded SQLite
// file holding documents, chunks, chunk metadata, the high-risk
// lexicon, a full-text (BM25) index, and an in-memory vector index
// rebuilt from the persisted embedding rows at open time.
package store

import (
	"context"
	"fmt"
	"time"
)

// VectorDimensions is the fixed embedding dimension the store and the
// configured embedder must agree on (I2).
const VectorDimensions = 384

// ApprovalStatus tracks the review state of an ingested document.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ChunkType classifies the structural origin of a chunk's content.
type ChunkType string

const (
	ChunkTypeText   ChunkType = "text"
	ChunkTypeTable  ChunkType = "table"
	ChunkTypeList   ChunkType = "list"
	ChunkTypeFigure ChunkType = "figure"
)

// Category classifies a chunk as clinical content or front/back matter.
// It is derived purely from headings and the metadata pattern set (I3);
// nothing else ever sets it.
type Category string

const (
	CategoryContent  Category = "content"
	CategoryMetadata Category = "metadata"
)

// Document is the root entity owning a set of chunks. ApprovalStatus
// is the only field mutated after ingestion.
type Document struct {
	ID             string
	Filename       string
	Title          string
	Version        string
	ExtractionDate time.Time
	PageCount      int
	ApprovalStatus ApprovalStatus
	RawPayload     string // optional raw extraction payload (e.g. source JSON)
}

// BoundingBox is the optional page-layout location of a chunk.
type BoundingBox struct {
	Left, Top, Right, Bottom float64
}

// Chunk is the retrieval unit: a contiguous passage of a guideline
// document. It is immutable once ingested.
type Chunk struct {
	ID                 string
	DocID              string
	Content            string
	ContextualizedText string // content prefixed with heading path; the canonical embedding input (I4)
	ChunkType          ChunkType
	PageNumber         *int
	Category           Category
	Headings           []string // root -> leaf, possibly empty, never nil-vs-absent ambiguous
	BBox               *BoundingBox
	ElementLabel       string
}

// HighRiskTerm is one entry of the curated, process-wide danger-sign
// lexicon. Term is stored lowercase-normalized.
type HighRiskTerm struct {
	Term     string
	Category string
	Severity string // "High" or "Medium"
}

// ErrDimensionMismatch is returned when a vector's length doesn't match
// the store's configured embedding dimension (I2).
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// VectorResult is a single nearest-neighbor hit: smaller distance is
// better.
type VectorResult struct {
	ChunkID  string
	Distance float32
}

// BM25Result is a single lexical hit. Score is the raw (negative)
// BM25 statistic SQLite's fts5 bm25() function returns; callers take
// its absolute value per §4.5.
type BM25Result struct {
	ChunkID string
	Score   float64
}

// CorpusStore is the durable, embedded store described in the design:
// transactional writes during ingestion, read-only queries at serving
// time, many concurrent readers.
type CorpusStore interface {
	InsertDocument(ctx context.Context, doc *Document) (string, error)
	InsertChunk(ctx context.Context, docID string, chunk *Chunk) error
	InsertEmbedding(ctx context.Context, chunkID string, vec []float32) error
	InsertEmbeddingsBatch(ctx context.Context, chunkIDs []string, vecs [][]float32) error
	PopulateFTS(ctx context.Context) error
	PopulateHighRiskLexicon(ctx context.Context, terms []HighRiskTerm) error
	UpdateApproval(ctx context.Context, docID string, status ApprovalStatus) error

	GetDocument(ctx context.Context, docID string) (*Document, error)
	ListDocuments(ctx context.Context, status *ApprovalStatus) ([]*Document, error)
	GetChunks(ctx context.Context, docID string, category *Category) ([]*Chunk, error)
	GetChunksByID(ctx context.Context, chunkIDs []string) ([]*Chunk, error)
	ChunkCount(ctx context.Context, docID string) (int, error)
	Lexicon(ctx context.Context) ([]HighRiskTerm, error)

	KNN(ctx context.Context, queryVec []float32, k int) ([]VectorResult, error)
	BM25(ctx context.Context, queryTokens []string, k int, contentOnly bool) ([]BM25Result, error)

	Close() error
}
