package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusInfo_Zero(t *testing.T) {
	// Given: zero-valued status info
	info := StatusInfo{}

	// Then: all fields are zero/empty
	assert.Empty(t, info.StorePath)
	assert.Equal(t, 0, info.TotalDocs)
	assert.Equal(t, 0, info.TotalChunks)
	assert.Equal(t, 0, info.Approval.Pending)
	assert.True(t, info.LastIndexed.IsZero())
}

func TestStatusInfo_JSONSerialization(t *testing.T) {
	// Given: populated status info
	info := StatusInfo{
		StorePath:      "corpus.db",
		TotalDocs:      12,
		Approval:       ApprovalBreakdown{Pending: 3, Approved: 8, Rejected: 1},
		TotalChunks:    500,
		LastIndexed:    time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
		StoreSize:      13 * 1024 * 1024,
		LexiconSize:    53,
		EmbedderType:   "ollama",
		EmbedderStatus: "ready",
		EmbedderModel:  "nomic-embed-text",
	}

	// When: serializing to JSON
	data, err := json.Marshal(info)
	require.NoError(t, err)

	// Then: JSON is valid and contains expected fields
	var parsed map[string]any
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "corpus.db", parsed["store_path"])
	assert.Equal(t, float64(12), parsed["total_docs"])
	assert.Equal(t, float64(500), parsed["total_chunks"])
	assert.Equal(t, "ollama", parsed["embedder_type"])
	assert.Equal(t, float64(53), parsed["lexicon_size"])

	approval, ok := parsed["approval"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), approval["pending"])
	assert.Equal(t, float64(8), approval["approved"])
	assert.Equal(t, float64(1), approval["rejected"])
}

func TestStatusRenderer_Render_Basic(t *testing.T) {
	// Given: status renderer
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, false)

	// When: rendering status info
	info := StatusInfo{
		StorePath:      "my-corpus.db",
		TotalDocs:      50,
		Approval:       ApprovalBreakdown{Pending: 10, Approved: 38, Rejected: 2},
		TotalChunks:    250,
		LastIndexed:    time.Now(),
		StoreSize:      6*1024*1024 + 512*1024,
		LexiconSize:    53,
		EmbedderType:   "ollama",
		EmbedderStatus: "ready",
		EmbedderModel:  "nomic-embed-text",
	}

	err := r.Render(info)
	require.NoError(t, err)

	// Then: output contains key information
	output := buf.String()
	assert.Contains(t, output, "my-corpus.db")
	assert.Contains(t, output, "50")
	assert.Contains(t, output, "250")
	assert.Contains(t, output, "ollama")
	assert.Contains(t, output, "ready")
}

func TestStatusRenderer_Render_ApprovalBreakdown(t *testing.T) {
	// Given: status renderer
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	// When: rendering status info with a mixed approval breakdown
	info := StatusInfo{
		StorePath: "corpus.db",
		TotalDocs: 6,
		Approval:  ApprovalBreakdown{Pending: 1, Approved: 4, Rejected: 1},
	}

	err := r.Render(info)
	require.NoError(t, err)

	// Then: counts for each approval state are shown
	output := buf.String()
	assert.Contains(t, output, "pending:    1")
	assert.Contains(t, output, "approved:   4")
	assert.Contains(t, output, "rejected:   1")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	// Given: status renderer
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, false)

	// When: rendering as JSON
	info := StatusInfo{
		StorePath:   "json-corpus.db",
		TotalDocs:   25,
		TotalChunks: 100,
	}

	err := r.RenderJSON(info)
	require.NoError(t, err)

	// Then: output is valid JSON
	var parsed StatusInfo
	err = json.Unmarshal(buf.Bytes(), &parsed)
	require.NoError(t, err)
	assert.Equal(t, "json-corpus.db", parsed.StorePath)
	assert.Equal(t, 25, parsed.TotalDocs)
}

func TestStatusRenderer_NoColor(t *testing.T) {
	// Given: status renderer with noColor
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	// When: rendering
	info := StatusInfo{
		StorePath:      "nocolor-corpus.db",
		EmbedderStatus: "ready",
	}

	err := r.Render(info)
	require.NoError(t, err)

	// Then: no ANSI codes in output
	output := buf.String()
	assert.NotContains(t, output, "\x1b[")
	assert.NotContains(t, output, "\033[")
}

func TestStatusRenderer_EmbedderOffline(t *testing.T) {
	// Given: status renderer
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, false)

	// When: rendering with offline embedder
	info := StatusInfo{
		StorePath:      "offline-corpus.db",
		EmbedderType:   "static",
		EmbedderStatus: "offline",
	}

	err := r.Render(info)
	require.NoError(t, err)

	// Then: shows offline status
	output := buf.String()
	assert.Contains(t, output, "offline")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{1024 * 1024 * 1024, "1.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := FormatBytes(tt.bytes)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestStatusRenderer_StoreSize(t *testing.T) {
	// Given: status renderer
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true) // noColor for easier assertion

	// When: rendering with a store size
	info := StatusInfo{
		StorePath: "storage-corpus.db",
		StoreSize: 12*1024*1024 + 512*1024,
	}

	err := r.Render(info)
	require.NoError(t, err)

	// Then: size is human-readable
	output := buf.String()
	assert.Contains(t, output, "MB")
}
