// Package extract defines the boundary between whatever shape a PDF
// layout converter produces and the rest of the retrieval core. It is
// the only place that ever branches on extraction-specific structure;
// everything downstream deals exclusively in store.Chunk.
package extract

import "context"

// BoundingBox is a page-layout location, carried through from the
// converter when available.
type BoundingBox struct {
	Left, Top, Right, Bottom float64
}

// Provenance locates an extracted item within its source document.
type Provenance struct {
	Page *int
	BBox *BoundingBox
}

// ExtractedItem is the tagged union of everything a converter can
// produce from a document. Each variant implements isExtractedItem so
// the set is closed and exhaustive switches are checkable at compile
// time.
type ExtractedItem interface {
	isExtractedItem()
}

// TextItem is a contiguous run of body text under a heading path.
type TextItem struct {
	Prov     Provenance
	Text     string
	Headings []string
}

// TableItem is a table rendered to Markdown by the converter.
type TableItem struct {
	Prov     Provenance
	Markdown string
	Headings []string
}

// FigureItem is an image's caption text (the image itself is out of
// scope — only text the converter extracted from or about it matters
// to retrieval).
type FigureItem struct {
	Prov     Provenance
	Caption  string
	Headings []string
}

// ListItem is an ordered or unordered list rendered as discrete items.
type ListItem struct {
	Prov     Provenance
	Items    []string
	Headings []string
}

func (TextItem) isExtractedItem()   {}
func (TableItem) isExtractedItem()  {}
func (FigureItem) isExtractedItem() {}
func (ListItem) isExtractedItem()   {}

// DocumentMeta is the document-level metadata a converter produces
// alongside its extracted items.
type DocumentMeta struct {
	Filename  string
	Title     string
	Version   string
	PageCount int
}

// ConvertResult is everything a Converter produces from one source
// file: document metadata plus its extracted items in document order.
type ConvertResult struct {
	Meta  DocumentMeta
	Items []ExtractedItem
}

// Converter turns a source file into structured extraction output.
// Real PDF layout conversion (OCR, table detection, figure
// extraction) is explicitly out of scope; callers inject whichever
// implementation they have, with NoopConverter as a placeholder for
// development and tests.
type Converter interface {
	Convert(ctx context.Context, path string, enableOCR bool) (*ConvertResult, error)
}

// NoopConverter always fails. It exists so cmd/chwrag has a concrete
// Converter to wire without depending on a real PDF pipeline; swap it
// for a real implementation to make ingestion functional.
type NoopConverter struct{}

// ErrConversionUnavailable is returned by NoopConverter.Convert.
type ErrConversionUnavailable struct{ Path string }

func (e ErrConversionUnavailable) Error() string {
	return "no PDF converter wired for " + e.Path + "; inject a real extract.Converter implementation"
}

func (NoopConverter) Convert(_ context.Context, path string, _ bool) (*ConvertResult, error) {
	return nil, ErrConversionUnavailable{Path: path}
}
