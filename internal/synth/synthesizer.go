// Package synth assembles grounded prompts from retrieved chunks and
// drives the two-stage generation: a Synthesizer that produces a
// candidate summary, and a Guardrail that independently validates it.
// Both are thin prompt-assembly layers over internal/generate.Client,
// grounded on the teacher's clinical_prompts-style fixed instruction
// blocks (see original_source/maybenotconnor's synthesis module).
package synth

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chw-health/clinicalrag/internal/alert"
	"github.com/chw-health/clinicalrag/internal/generate"
	"github.com/chw-health/clinicalrag/internal/retrieve"
)

// DefaultPromptCharBudget is the default whole-chunk truncation budget
// for the synthesis prompt's excerpt block (spec.md §4.7).
const DefaultPromptCharBudget = 4000

const instructionBlock = `Instructions:
- Answer only using the excerpts above; do not use outside knowledge.
- Include any medication dosages and patient ages exactly as written in the excerpts.
- If any danger signs were detected, list them prominently near the top of your answer.
- Cite the page of every claim you make as [p.X], using the page numbers shown above.
- If the excerpts do not contain enough information to answer safely, say so explicitly and refuse to guess.
- Never invent information that is not present in the excerpts above.
- Target a length of 150-300 words.`

// Synthesizer builds grounded prompts and submits them to a
// generation backend.
type Synthesizer struct {
	client     *generate.Client
	charBudget int
}

// NewSynthesizer builds a Synthesizer over the given generation
// client. A charBudget <= 0 falls back to DefaultPromptCharBudget.
func NewSynthesizer(client *generate.Client, charBudget int) *Synthesizer {
	if charBudget <= 0 {
		charBudget = DefaultPromptCharBudget
	}
	return &Synthesizer{client: client, charBudget: charBudget}
}

// BuildPrompt assembles the synthesis prompt per spec.md §4.7: an
// enumerated, whole-chunk-truncated excerpt block, an optional safety
// block when alerts are present, the query, and the fixed instruction
// block.
func (s *Synthesizer) BuildPrompt(query string, results []retrieve.Result, alerts []alert.HighRiskAlert) string {
	return buildExcerptPrompt(query, results, alerts, s.charBudget, instructionBlock)
}

// Synthesize submits the assembled prompt to the generation backend
// and returns the candidate summary text.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, results []retrieve.Result, alerts []alert.HighRiskAlert) (string, error) {
	prompt := s.BuildPrompt(query, results, alerts)
	return s.client.Generate(ctx, prompt)
}

// buildExcerptPrompt is shared by the Synthesizer and the Guardrail:
// both enumerate the same retrieved chunks, truncated whole-chunk at
// a (possibly different) character budget, with an optional safety
// block ahead of the caller-supplied tail.
func buildExcerptPrompt(query string, results []retrieve.Result, alerts []alert.HighRiskAlert, charBudget int, tail string) string {
	var excerpts strings.Builder
	used := 0
	for i, r := range results {
		entry := formatChunkEntry(i, r)
		if used+len(entry) > charBudget {
			break
		}
		if used > 0 {
			excerpts.WriteString("\n\n")
		}
		excerpts.WriteString(entry)
		used += len(entry)
	}

	var sb strings.Builder
	sb.WriteString("Excerpts:\n")
	sb.WriteString(excerpts.String())
	sb.WriteString("\n\n")

	if safety := buildSafetyBlock(alerts); safety != "" {
		sb.WriteString(safety)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString(tail)

	return sb.String()
}

// formatChunkEntry renders a single retrieval result as
// "[i] <heading-path> (p.<page>)\n<content>".
func formatChunkEntry(i int, r retrieve.Result) string {
	headingPath := strings.Join(r.Chunk.Headings, " > ")
	page := "?"
	if r.Chunk.PageNumber != nil {
		page = strconv.Itoa(*r.Chunk.PageNumber)
	}
	return fmt.Sprintf("[%d] %s (p.%s)\n%s", i, headingPath, page, r.Chunk.Content)
}

// buildSafetyBlock renders the High/Medium alert lists per spec.md
// §4.7. Returns "" when there are no alerts.
func buildSafetyBlock(alerts []alert.HighRiskAlert) string {
	if len(alerts) == 0 {
		return ""
	}

	var high, medium []string
	for _, a := range alerts {
		if a.Severity == "High" {
			high = append(high, a.Term)
		} else {
			medium = append(medium, a.Term)
		}
	}

	var sb strings.Builder
	if len(high) > 0 {
		sb.WriteString("DANGER SIGNS DETECTED: ")
		sb.WriteString(strings.Join(high, ", "))
	}
	if len(medium) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Caution terms found: ")
		sb.WriteString(strings.Join(medium, ", "))
	}
	return sb.String()
}
