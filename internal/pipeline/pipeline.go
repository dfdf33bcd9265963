// Package pipeline orchestrates a single query end to end: retrieval,
// high-risk alerting, synthesis, and optional guardrail validation,
// implementing the state machine in spec.md §4.9. It is the serving
// entry point the cmd/chwrag "synthesis" command drives.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chw-health/clinicalrag/internal/alert"
	"github.com/chw-health/clinicalrag/internal/errors"
	"github.com/chw-health/clinicalrag/internal/retrieve"
	"github.com/chw-health/clinicalrag/internal/synth"
)

// State names the pipeline's current position in the state machine
// described by spec.md §4.9.
type State string

const (
	StateInit         State = "INIT"
	StateSearching    State = "SEARCHING"
	StateSearchOK     State = "SEARCH_OK"
	StateSearchEmpty  State = "SEARCH_EMPTY"
	StateSynthesizing State = "SYNTHESIZING"
	StateSynthOK      State = "SYNTH_OK"
	StateSynthFail    State = "SYNTH_FAIL"
	StateValidating   State = "VALIDATING"
	StateValidPass    State = "VALID_PASS"
	StateValidFail    State = "VALID_FAIL"
	StateDone         State = "DONE"
)

// emptySummaryNote is the explanatory note returned in place of a
// summary when retrieval yields nothing to synthesize from.
const emptySummaryNote = "No relevant guidance was found for this query."

// SynthesisResult is the outcome of a single Query call.
type SynthesisResult struct {
	State    State
	Query    string
	Results  []retrieve.Result
	Alerts   []alert.HighRiskAlert
	Summary  string
	Verdict  *synth.Verdict
	SearchMS int64
	SynthMS  int64
	TotalMS  int64
}

// Pipeline wires together a Retriever, an Alerter, a Synthesizer, and
// a Guardrail, bounding in-flight generation requests with a
// semaphore per spec.md §5's backpressure requirement.
type Pipeline struct {
	retriever   *retrieve.Retriever
	alerter     *alert.Alerter
	synthesizer *synth.Synthesizer
	guardrail   *synth.Guardrail
	genSem      *semaphore.Weighted
}

// New builds a Pipeline. maxInFlight bounds concurrent generation
// requests (synthesis + guardrail share the same budget); values <= 0
// default to 1, matching internal/config.NewConfig's default.
func New(retriever *retrieve.Retriever, alerter *alert.Alerter, synthesizer *synth.Synthesizer, guardrail *synth.Guardrail, maxInFlight int) *Pipeline {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Pipeline{
		retriever:   retriever,
		alerter:     alerter,
		synthesizer: synthesizer,
		guardrail:   guardrail,
		genSem:      semaphore.NewWeighted(int64(maxInFlight)),
	}
}

// Query runs the full pipeline: search, alert, synthesize, and
// (if runGuardrail) validate. Retrieval completes before synthesis
// begins, and synthesis completes before validation, per spec.md §5's
// ordering guarantee.
func (p *Pipeline) Query(ctx context.Context, query string, topK int, runGuardrail bool) (*SynthesisResult, error) {
	start := time.Now()
	result := &SynthesisResult{State: StateInit, Query: query}

	result.State = StateSearching
	searchStart := time.Now()
	results, err := p.retriever.SearchHybrid(ctx, query, topK)
	result.SearchMS = time.Since(searchStart).Milliseconds()
	if err != nil {
		return nil, err
	}
	result.Results = results

	if len(results) == 0 {
		result.State = StateSearchEmpty
		result.Summary = emptySummaryNote
		result.State = StateDone
		result.TotalMS = time.Since(start).Milliseconds()
		return result, nil
	}
	result.State = StateSearchOK

	result.Alerts = p.alerter.Detect(results)

	result.State = StateSynthesizing
	if err := p.genSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	synthStart := time.Now()
	summary, err := p.synthesizer.Synthesize(ctx, query, results, result.Alerts)
	p.genSem.Release(1)
	result.SynthMS = time.Since(synthStart).Milliseconds()
	if err != nil {
		// SYNTH_FAIL is surfaced to the caller; guardrail is never
		// attempted (spec.md §4.9, §7.4).
		result.State = StateSynthFail
		result.TotalMS = time.Since(start).Milliseconds()
		return result, errors.Wrap(errors.ErrCodeGenerationFailed, err)
	}
	result.State = StateSynthOK
	result.Summary = summary

	if runGuardrail {
		result.State = StateValidating
		if err := p.genSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		verdict, err := p.guardrail.Validate(ctx, query, results, result.Alerts, summary)
		p.genSem.Release(1)
		if err != nil {
			result.TotalMS = time.Since(start).Milliseconds()
			return result, errors.Wrap(errors.ErrCodeGenerationFailed, err)
		}
		result.Verdict = &verdict
		if verdict.Passed {
			result.State = StateValidPass
		} else {
			result.State = StateValidFail
		}
	}

	result.State = StateDone
	result.TotalMS = time.Since(start).Milliseconds()
	return result, nil
}

// QuerySearchOnly runs retrieval and alerting only, with a sentinel
// summary in place of synthesis — used when the generation backend is
// unavailable (spec.md §4.9).
func (p *Pipeline) QuerySearchOnly(ctx context.Context, query string, topK int) (*SynthesisResult, error) {
	start := time.Now()
	result := &SynthesisResult{State: StateSearching, Query: query}

	results, err := p.retriever.SearchHybrid(ctx, query, topK)
	result.SearchMS = time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}
	result.Results = results

	if len(results) == 0 {
		result.State = StateDone
		result.Summary = emptySummaryNote
		result.TotalMS = time.Since(start).Milliseconds()
		return result, nil
	}

	result.Alerts = p.alerter.Detect(results)
	result.Summary = "(search-only mode: generation backend not invoked)"
	result.State = StateDone
	result.TotalMS = time.Since(start).Milliseconds()
	return result, nil
}
