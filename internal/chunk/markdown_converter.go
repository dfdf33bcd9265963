package chunk

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/chw-health/clinicalrag/internal/extract"
)

// Regex patterns for markdown section parsing.
var (
	// headerPattern matches ATX headers: # Title, ## Title, etc.
	headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

	// tablePattern matches a GFM table block (header row + separator +
	// body rows), used to split tables into their own atomic item
	// instead of leaving them embedded in a TextItem.
	tablePattern = regexp.MustCompile(`(?m)^\|.+\|$(\n^\|[-:|]+\|$)?(\n^\|.+\|$)*`)
)

// MarkdownConverter implements extract.Converter for guideline documents
// already available as flat Markdown (e.g. a WHO/MOH guideline
// published or pre-converted to Markdown, bypassing PDF layout
// extraction entirely). It is grounded on the header-stack section
// parser the teacher used for its own Markdown chunker: walk lines,
// track a 6-level header stack, and cut a new section at every header
// line. Unlike the teacher's version, it does not itself enforce a
// token budget or emit chunks directly — it hands each section to
// internal/chunk.GuidelineChunker as a TextItem (or TableItem, for an
// embedded table) with the section's heading path, and the budget
// splitting, category derivation, and content-addressing happen there,
// uniformly with PDF-derived input.
type MarkdownConverter struct{}

// NewMarkdownConverter returns a converter for flat Markdown documents.
func NewMarkdownConverter() *MarkdownConverter {
	return &MarkdownConverter{}
}

// Convert reads the file at path and splits it into extraction items by
// header section. OCR is not meaningful for already-textual Markdown
// and enableOCR is ignored.
func (c *MarkdownConverter) Convert(_ context.Context, path string, _ bool) (*extract.ConvertResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(stripFrontmatter(string(raw)))
	filename := filepath.Base(path)

	meta := extract.DocumentMeta{
		Filename:  filename,
		Title:     titleFromFirstHeading(content, filename),
		PageCount: 0,
	}
	if content == "" {
		return &extract.ConvertResult{Meta: meta, Items: nil}, nil
	}

	sections := parseMarkdownSections(content)
	items := make([]extract.ExtractedItem, 0, len(sections))
	for _, sec := range sections {
		items = append(items, sectionToItems(sec)...)
	}
	return &extract.ConvertResult{Meta: meta, Items: items}, nil
}

// mdSection is one header-delimited run of Markdown content together
// with the heading path (root -> leaf) active at that point.
type mdSection struct {
	headings []string
	content  string
}

// stripFrontmatter removes a single leading YAML frontmatter block
// (--- ... ---), if present, since it carries document metadata rather
// than clinical content.
func stripFrontmatter(content string) string {
	if !strings.HasPrefix(content, "---\n") {
		return content
	}
	end := strings.Index(content[4:], "\n---")
	if end == -1 {
		return content
	}
	rest := content[4+end+4:]
	return strings.TrimPrefix(rest, "\n")
}

// titleFromFirstHeading returns the text of the first level-1 heading,
// falling back to the filename when none exists.
func titleFromFirstHeading(content, filename string) string {
	for _, line := range strings.Split(content, "\n") {
		if m := headerPattern.FindStringSubmatch(line); m != nil && len(m[1]) == 1 {
			return strings.TrimSpace(m[2])
		}
	}
	return filename
}

// parseMarkdownSections walks content line by line, maintaining a
// 6-level header stack, and emits one section per header (content
// before the first header, if any, is its own headless section).
func parseMarkdownSections(content string) []mdSection {
	lines := strings.Split(content, "\n")
	headerStack := make([]string, 6)

	var sections []mdSection
	var headings []string
	var body strings.Builder

	flush := func() {
		text := strings.TrimSpace(body.String())
		if text != "" {
			hs := make([]string, len(headings))
			copy(hs, headings)
			sections = append(sections, mdSection{headings: hs, content: text})
		}
		body.Reset()
	}

	for _, line := range lines {
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			headerStack[level-1] = title
			for i := level; i < 6; i++ {
				headerStack[i] = ""
			}
			headings = headings[:0]
			for i := 0; i < level; i++ {
				if headerStack[i] != "" {
					headings = append(headings, headerStack[i])
				}
			}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}

// sectionToItems splits a section's body into a leading TextItem and
// any embedded tables as their own TableItem, all carrying the
// section's heading path. Tables are pulled out atomically so
// GuidelineChunker never mid-splits one.
func sectionToItems(sec mdSection) []extract.ExtractedItem {
	locs := tablePattern.FindAllStringIndex(sec.content, -1)
	if len(locs) == 0 {
		return []extract.ExtractedItem{
			extract.TextItem{Text: sec.content, Headings: sec.headings},
		}
	}

	var items []extract.ExtractedItem
	pos := 0
	for _, loc := range locs {
		if before := strings.TrimSpace(sec.content[pos:loc[0]]); before != "" {
			items = append(items, extract.TextItem{Text: before, Headings: sec.headings})
		}
		table := strings.TrimSpace(sec.content[loc[0]:loc[1]])
		items = append(items, extract.TableItem{Markdown: table, Headings: sec.headings})
		pos = loc[1]
	}
	if after := strings.TrimSpace(sec.content[pos:]); after != "" {
		items = append(items, extract.TextItem{Text: after, Headings: sec.headings})
	}
	return items
}
