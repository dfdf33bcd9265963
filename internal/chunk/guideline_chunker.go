package chunk

import (
	"strings"

	"github.com/chw-health/clinicalrag/internal/extract"
	"github.com/chw-health/clinicalrag/internal/store"
)

// DefaultMaxGuidelineTokens is the default token budget per guideline
// chunk. Clinical guideline sections carry more self-contained context
// than a source-code symbol, so the budget is a wide one.
const DefaultMaxGuidelineTokens = 1024

// metadataHeadingPatterns is the fixed set of heading substrings (case
// insensitive) that mark a chunk as front/back matter rather than
// clinical content (I3).
var metadataHeadingPatterns = []string{
	"contents", "table of contents", "abbreviations", "acronyms",
	"foreword", "preface", "acknowledgements", "acknowledgments",
	"credits", "contributors", "editorial", "index", "glossary",
	"references", "bibliography",
}

// GuidelineChunker converts extraction output into content-addressed,
// heading-contextualized store.Chunk values. Grounded on the teacher's
// markdown chunker's header-stack and token-budget-paragraph-splitting
// shape, but built
// over extract.ExtractedItem instead of raw markdown text: the PDF
// converter has already done the header/section segmentation, so this
// chunker's job is budget-splitting oversized text items and deriving
// category, not re-discovering structure.
type GuidelineChunker struct {
	maxTokens int
}

// NewGuidelineChunker builds a chunker with the given per-chunk token
// budget; <= 0 falls back to DefaultMaxGuidelineTokens.
func NewGuidelineChunker(maxTokens int) *GuidelineChunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxGuidelineTokens
	}
	return &GuidelineChunker{maxTokens: maxTokens}
}

// Chunk converts every extracted item belonging to docID into one or
// more store.Chunk values, in document order.
func (g *GuidelineChunker) Chunk(docID string, items []extract.ExtractedItem) []*store.Chunk {
	var chunks []*store.Chunk
	for _, item := range items {
		chunks = append(chunks, g.chunkItem(docID, item)...)
	}
	return chunks
}

func (g *GuidelineChunker) chunkItem(docID string, item extract.ExtractedItem) []*store.Chunk {
	switch v := item.(type) {
	case extract.TextItem:
		return g.chunkText(docID, v.Text, v.Headings, v.Prov)
	case extract.TableItem:
		// Tables are atomic: never split mid-row.
		return g.atomicChunk(docID, v.Markdown, v.Headings, v.Prov, store.ChunkTypeTable)
	case extract.FigureItem:
		return g.atomicChunk(docID, v.Caption, v.Headings, v.Prov, store.ChunkTypeFigure)
	case extract.ListItem:
		return g.atomicChunk(docID, strings.Join(v.Items, "\n"), v.Headings, v.Prov, store.ChunkTypeList)
	default:
		return nil
	}
}

// chunkText splits a text item into one or more chunks by paragraph,
// accumulating paragraphs and flushing before one that would push the
// chunk past the token budget. Paragraphs are never split, so a single
// paragraph larger than the budget becomes one oversized chunk.
func (g *GuidelineChunker) chunkText(docID, text string, headings []string, prov extract.Provenance) []*store.Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if estimateTokens(trimmed) <= g.maxTokens {
		return []*store.Chunk{g.buildChunk(docID, trimmed, headings, prov, store.ChunkTypeText)}
	}

	paragraphs := strings.Split(trimmed, "\n\n")
	var chunks []*store.Chunk
	var current strings.Builder
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && estimateTokens(current.String())+estimateTokens(para) > g.maxTokens {
			chunks = append(chunks, g.buildChunk(docID, strings.TrimSpace(current.String()), headings, prov, store.ChunkTypeText))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		chunks = append(chunks, g.buildChunk(docID, strings.TrimSpace(current.String()), headings, prov, store.ChunkTypeText))
	}
	return chunks
}

// atomicChunk builds a single chunk regardless of size: tables, figure
// captions, and lists are never mid-split.
func (g *GuidelineChunker) atomicChunk(docID, content string, headings []string, prov extract.Provenance, ct store.ChunkType) []*store.Chunk {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	return []*store.Chunk{g.buildChunk(docID, trimmed, headings, prov, ct)}
}

func (g *GuidelineChunker) buildChunk(docID, content string, headings []string, prov extract.Provenance, ct store.ChunkType) *store.Chunk {
	headingPath := strings.Join(headings, " > ")
	contextualized := content
	if headingPath != "" {
		contextualized = headingPath + "\n" + content
	}

	var bbox *store.BoundingBox
	if prov.BBox != nil {
		bbox = &store.BoundingBox{
			Left: prov.BBox.Left, Top: prov.BBox.Top,
			Right: prov.BBox.Right, Bottom: prov.BBox.Bottom,
		}
	}

	return &store.Chunk{
		ID:                 generateChunkID(docID, content),
		DocID:              docID,
		Content:            content,
		ContextualizedText: contextualized,
		ChunkType:          ct,
		PageNumber:         prov.Page,
		Category:           deriveCategory(headings),
		Headings:           headings,
		BBox:               bbox,
	}
}

// deriveCategory classifies a chunk as metadata iff any heading in its
// path matches (case-insensitively, as a substring) the metadata
// pattern set; otherwise it is clinical content (I3).
func deriveCategory(headings []string) store.Category {
	for _, h := range headings {
		lower := strings.ToLower(h)
		for _, pattern := range metadataHeadingPatterns {
			if strings.Contains(lower, pattern) {
				return store.CategoryMetadata
			}
		}
	}
	return store.CategoryContent
}
