package synth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chw-health/clinicalrag/internal/alert"
	"github.com/chw-health/clinicalrag/internal/generate"
	"github.com/chw-health/clinicalrag/internal/retrieve"
	"github.com/chw-health/clinicalrag/internal/store"
)

func intPtr(i int) *int { return &i }

func resultWith(headings []string, page int, content string) retrieve.Result {
	return retrieve.Result{Chunk: &store.Chunk{
		Headings:   headings,
		PageNumber: intPtr(page),
		Content:    content,
	}}
}

func TestBuildPrompt_EnumeratesChunksInOrder(t *testing.T) {
	s := NewSynthesizer(nil, 0)
	results := []retrieve.Result{
		resultWith([]string{"Malaria", "Treatment"}, 12, "Give AL twice daily for 3 days."),
		resultWith([]string{"Malaria", "Diagnosis"}, 8, "Confirm with RDT before treating."),
	}

	prompt := s.BuildPrompt("How do I treat malaria?", results, nil)

	assert.Contains(t, prompt, "[0] Malaria > Treatment (p.12)\nGive AL twice daily for 3 days.")
	assert.Contains(t, prompt, "[1] Malaria > Diagnosis (p.8)\nConfirm with RDT before treating.")
	assert.True(t, strings.Index(prompt, "[0]") < strings.Index(prompt, "[1]"))
	assert.Contains(t, prompt, "Question: How do I treat malaria?")
	assert.Contains(t, prompt, "150-300 words")
}

func TestBuildPrompt_WholeChunkTruncation(t *testing.T) {
	s := NewSynthesizer(nil, 30)
	long := strings.Repeat("x", 50)
	results := []retrieve.Result{
		resultWith([]string{"A"}, 1, "short"),
		resultWith([]string{"B"}, 2, long),
	}

	prompt := s.BuildPrompt("q", results, nil)

	assert.Contains(t, prompt, "[0] A (p.1)\nshort")
	assert.NotContains(t, prompt, long, "second chunk should be dropped, not split, once budget is exceeded")
}

func TestBuildPrompt_FirstChunkOverBudget_IsExcluded(t *testing.T) {
	s := NewSynthesizer(nil, 10)
	results := []retrieve.Result{
		resultWith([]string{"A"}, 1, strings.Repeat("x", 50)),
	}

	prompt := s.BuildPrompt("q", results, nil)

	assert.NotContains(t, prompt, "[0]", "a chunk that alone exceeds the budget must not be included, even as the first one")
}

func TestBuildPrompt_NoAlerts_OmitsSafetyBlock(t *testing.T) {
	s := NewSynthesizer(nil, 0)
	prompt := s.BuildPrompt("q", nil, nil)

	assert.NotContains(t, prompt, "DANGER SIGNS")
	assert.NotContains(t, prompt, "Caution terms")
}

func TestBuildPrompt_HighAndMediumAlerts(t *testing.T) {
	s := NewSynthesizer(nil, 0)
	alerts := []alert.HighRiskAlert{
		{Term: "convulsions", Severity: "High"},
		{Term: "severe headache", Severity: "Medium"},
	}

	prompt := s.BuildPrompt("q", nil, alerts)

	assert.Contains(t, prompt, "DANGER SIGNS DETECTED: convulsions")
	assert.Contains(t, prompt, "Caution terms found: severe headache")
}

func TestBuildPrompt_MissingPageNumber_RendersQuestionMark(t *testing.T) {
	s := NewSynthesizer(nil, 0)
	results := []retrieve.Result{{Chunk: &store.Chunk{Headings: []string{"A"}, Content: "text"}}}

	prompt := s.BuildPrompt("q", results, nil)

	assert.Contains(t, prompt, "(p.?)")
}

func TestSynthesize_CallsBackendWithAssembledPrompt(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotPrompt = string(body)
		fmt.Fprint(w, `{"response":"synthesized","done":true}`)
	}))
	defer srv.Close()

	client := generate.New(generate.Config{URL: srv.URL, Model: "llama3"})
	s := NewSynthesizer(client, 0)
	results := []retrieve.Result{resultWith([]string{"Malaria"}, 1, "content")}

	text, err := s.Synthesize(context.Background(), "how to treat malaria", results, nil)

	require.NoError(t, err)
	assert.Equal(t, "synthesized", text)
	assert.Contains(t, gotPrompt, "how to treat malaria")
}
