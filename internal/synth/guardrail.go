package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/chw-health/clinicalrag/internal/alert"
	"github.com/chw-health/clinicalrag/internal/generate"
	"github.com/chw-health/clinicalrag/internal/retrieve"
)

// DefaultGuardrailCharBudget is the default re-truncation budget for
// the guardrail's excerpt block (spec.md §4.8) — independent of, and
// smaller than, the synthesizer's budget.
const DefaultGuardrailCharBudget = 3000

const guardrailTail = `Candidate summary to validate:
%s

Evaluate the candidate summary against the excerpts above on each of the following
five criteria. For each, respond on its own line in the exact format
"CRITERION: [PASS/FAIL] - [explanation]":

GROUNDING: is every claim traceable to the excerpts?
ACCURACY: are dosages, ages, and clinical facts stated correctly?
COMPLETENESS: are any detected danger signs mentioned?
NO_FABRICATION: does the summary avoid inventing anything not in the excerpts?
APPROPRIATE_SCOPE: does the summary stay within a community health worker's scope of practice?

Then give a final line "OVERALL: [PASS/FAIL]" and, if FAIL, a line "REASON: ...".`

// Verdict is the parsed result of a guardrail validation.
type Verdict struct {
	Passed  bool
	RawText string
}

// Guardrail independently validates a candidate summary against the
// same retrieved context, grounded on the Synthesizer's prompt
// assembly but re-truncated at its own, smaller, budget.
type Guardrail struct {
	client     *generate.Client
	charBudget int
}

// NewGuardrail builds a Guardrail over the given generation client. A
// charBudget <= 0 falls back to DefaultGuardrailCharBudget.
func NewGuardrail(client *generate.Client, charBudget int) *Guardrail {
	if charBudget <= 0 {
		charBudget = DefaultGuardrailCharBudget
	}
	return &Guardrail{client: client, charBudget: charBudget}
}

// BuildPrompt assembles the validator prompt carrying the re-truncated
// chunk context, the original query, and the candidate summary.
func (g *Guardrail) BuildPrompt(query string, results []retrieve.Result, alerts []alert.HighRiskAlert, candidate string) string {
	tail := fmt.Sprintf(guardrailTail, candidate)
	return buildExcerptPrompt(query, results, alerts, g.charBudget, tail)
}

// Validate submits the validator prompt to the generation backend and
// parses the verdict. A malformed response does not error: per
// spec.md §7.5, a guardrail parse failure yields passed=false and the
// full response text, never a propagated error.
func (g *Guardrail) Validate(ctx context.Context, query string, results []retrieve.Result, alerts []alert.HighRiskAlert, candidate string) (Verdict, error) {
	prompt := g.BuildPrompt(query, results, alerts, candidate)
	resp, err := g.client.Generate(ctx, prompt)
	if err != nil {
		return Verdict{}, err
	}
	return ParseVerdict(resp), nil
}

// ParseVerdict implements spec.md §4.8's contractual parsing rule:
// passed iff "OVERALL: PASS" appears as a substring of the upper-cased
// response. This is deliberately permissive ("OVERALL: PASS_WITH_WARNINGS"
// counts as a pass) and conservative about whitespace (a double space
// before PASS does not match) — both behaviors are load-bearing and
// must not be "improved".
func ParseVerdict(response string) Verdict {
	upper := strings.ToUpper(response)
	return Verdict{
		Passed:  strings.Contains(upper, "OVERALL: PASS"),
		RawText: response,
	}
}
