package chunk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chw-health/clinicalrag/internal/extract"
)

func writeTempMarkdown(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "guideline.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMarkdownConverter_Convert_SplitsByHeaderPath(t *testing.T) {
	content := `# Malaria Guidelines

## Diagnosis

Suspect malaria in any febrile patient.

## Treatment

### First-line

Give AL for uncomplicated malaria.
`
	path := writeTempMarkdown(t, content)

	conv := NewMarkdownConverter()
	result, err := conv.Convert(context.Background(), path, false)
	require.NoError(t, err)
	require.Equal(t, "Malaria Guidelines", result.Meta.Title)
	require.Len(t, result.Items, 2)

	first := result.Items[0].(extract.TextItem)
	require.Equal(t, []string{"Malaria Guidelines", "Diagnosis"}, first.Headings)
	require.Contains(t, first.Text, "febrile patient")

	second := result.Items[1].(extract.TextItem)
	require.Equal(t, []string{"Malaria Guidelines", "Treatment", "First-line"}, second.Headings)
	require.Contains(t, second.Text, "AL for uncomplicated malaria")
}

func TestMarkdownConverter_Convert_ExtractsEmbeddedTable(t *testing.T) {
	content := `# Dosing

## Pediatric Dosage

Weight-based dosing below.

| Weight | Dose |
|---|---|
| 5-10kg | 1 tablet |
| 10-20kg | 2 tablets |

Give with food.
`
	path := writeTempMarkdown(t, content)

	conv := NewMarkdownConverter()
	result, err := conv.Convert(context.Background(), path, false)
	require.NoError(t, err)
	require.Len(t, result.Items, 3)

	require.IsType(t, extract.TextItem{}, result.Items[0])
	table, ok := result.Items[1].(extract.TableItem)
	require.True(t, ok, "expected a TableItem for the embedded table")
	require.Contains(t, table.Markdown, "Weight")
	require.Equal(t, []string{"Dosing", "Pediatric Dosage"}, table.Headings)

	last := result.Items[2].(extract.TextItem)
	require.Contains(t, last.Text, "Give with food")
}

func TestMarkdownConverter_Convert_StripsFrontmatterAndFallsBackTitle(t *testing.T) {
	content := "---\nauthor: MOH\n---\nNo headings here, just body text.\n"
	path := writeTempMarkdown(t, content)

	conv := NewMarkdownConverter()
	result, err := conv.Convert(context.Background(), path, false)
	require.NoError(t, err)
	require.Equal(t, "guideline.md", result.Meta.Title)
	require.Len(t, result.Items, 1)
	text := result.Items[0].(extract.TextItem)
	require.Empty(t, text.Headings)
	require.Contains(t, text.Text, "No headings here")
}

func TestMarkdownConverter_Convert_EmptyFileYieldsNoItems(t *testing.T) {
	path := writeTempMarkdown(t, "   \n\n  ")

	conv := NewMarkdownConverter()
	result, err := conv.Convert(context.Background(), path, false)
	require.NoError(t, err)
	require.Empty(t, result.Items)
}

func TestMarkdownConverter_Convert_MissingFileReturnsError(t *testing.T) {
	conv := NewMarkdownConverter()
	_, err := conv.Convert(context.Background(), filepath.Join(t.TempDir(), "missing.md"), false)
	require.Error(t, err)
}
