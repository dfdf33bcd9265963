package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/chw-health/clinicalrag/internal/alert"
	"github.com/chw-health/clinicalrag/internal/config"
	"github.com/chw-health/clinicalrag/internal/embed"
	clinerrors "github.com/chw-health/clinicalrag/internal/errors"
	"github.com/chw-health/clinicalrag/internal/generate"
	"github.com/chw-health/clinicalrag/internal/logging"
	"github.com/chw-health/clinicalrag/internal/pipeline"
	"github.com/chw-health/clinicalrag/internal/retrieve"
	"github.com/chw-health/clinicalrag/internal/store"
	"github.com/chw-health/clinicalrag/internal/synth"
)

// synthesisOptions holds the CLI flags for `chwrag synthesis`, matching
// spec.md §6's command surface and the original pipeline's argparse
// flags.
type synthesisOptions struct {
	query          string
	searchOnly     bool
	noGuardrail    bool
	all            bool
	ablation       bool
	ablationOutput string
	dbPath         string
	model          string
	url            string
	device         string
}

func newSynthesisCmd() *cobra.Command {
	var opts synthesisOptions

	cmd := &cobra.Command{
		Use:   "synthesis",
		Short: "Serve or evaluate clinical queries against an ingested corpus",
		Long: `Runs one or more clinical questions through retrieval, high-risk
alerting, grounded synthesis, and the guardrail validation pass.

With --ablation, no LLM is needed: it compares vector-only,
keyword-only, and hybrid RRF retrieval across a fixed set of clinical
scenarios and writes a markdown report.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSynthesis(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.query, "query", "", "Single query to run")
	cmd.Flags().BoolVar(&opts.searchOnly, "search-only", false, "Retrieval and alerting only, skip generation")
	cmd.Flags().BoolVar(&opts.noGuardrail, "no-guardrail", false, "Skip the guardrail validation pass")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Run all built-in test queries instead of the default sample")
	cmd.Flags().BoolVar(&opts.ablation, "ablation", false, "Run an ablation study comparing search modes (no LLM needed)")
	cmd.Flags().StringVar(&opts.ablationOutput, "ablation-output", "", "Path to write the ablation markdown report")
	cmd.Flags().StringVar(&opts.dbPath, "db", "corpus.db", "Corpus store file")
	cmd.Flags().StringVar(&opts.model, "model", "", "Generation model name (defaults to config)")
	cmd.Flags().StringVar(&opts.url, "url", "", "Generation backend URL (defaults to config)")
	cmd.Flags().StringVar(&opts.device, "device", "cpu", "Device for embedding inference: cpu, cuda, mps")

	return cmd
}

func runSynthesis(ctx context.Context, cmd *cobra.Command, opts synthesisOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}
	slog.Debug("synthesis_device_requested", slog.String("device", opts.device))

	if _, err := os.Stat(opts.dbPath); err != nil {
		return err
	}

	cfg := config.NewConfig()
	if opts.model != "" {
		cfg.Generation.Model = opts.model
	}
	if opts.url != "" {
		cfg.Generation.URL = opts.url
	}

	corpus, err := store.Open(opts.dbPath, slog.Default())
	if err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeCorruptStore, err)
	}
	defer corpus.Close()

	terms, err := corpus.Lexicon(ctx)
	if err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeInternal, err)
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ProviderOllama, cfg.Embedding.Model)
	if err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeEmbedderMismatch, err)
	}
	defer embedder.Close()

	retriever := retrieve.New(corpus, embedder)
	alerter := alert.New(terms)
	out := cmd.OutOrStdout()

	if opts.ablation {
		outputPath := opts.ablationOutput
		if outputPath == "" {
			outputPath = filepath.Join(filepath.Dir(opts.dbPath), "evaluation_results.md")
		}
		return runAblation(ctx, out, retriever, alerter, defaultTestQueries, outputPath)
	}

	client := generate.New(generate.Config{
		URL:           cfg.Generation.URL,
		Model:         cfg.Generation.Model,
		Temperature:   cfg.Generation.Temperature,
		TopP:          cfg.Generation.TopP,
		RepeatPenalty: cfg.Generation.RepeatPenalty,
		NumPredict:    cfg.Generation.NumPredict,
		Timeout:       cfg.Generation.Timeout,
		MaxRetries:    cfg.Generation.MaxRetries,
	})
	defer client.Close()

	searchOnly := opts.searchOnly
	if !searchOnly && !client.Available(ctx) {
		fmt.Fprintf(out, "generation backend (%s @ %s) not available; falling back to --search-only\n", cfg.Generation.Model, cfg.Generation.URL)
		searchOnly = true
	}

	synthesizer := synth.NewSynthesizer(client, cfg.Search.PromptCharBudget)
	guardrail := synth.NewGuardrail(client, cfg.Search.GuardrailCharBudget)
	pl := pipeline.New(retriever, alerter, synthesizer, guardrail, cfg.Generation.MaxInFlight)

	queries := queriesFor(opts)
	for _, q := range queries {
		var (
			result *pipeline.SynthesisResult
			err    error
		)
		if searchOnly {
			result, err = pl.QuerySearchOnly(ctx, q, cfg.Search.DefaultTopK)
		} else {
			result, err = pl.Query(ctx, q, cfg.Search.DefaultTopK, !opts.noGuardrail)
		}
		if err != nil {
			return clinerrors.Wrap(clinerrors.ErrCodeGenerationFailed, err)
		}
		printSynthesisResult(out, result)
	}

	return nil
}

func queriesFor(opts synthesisOptions) []string {
	switch {
	case opts.query != "":
		return []string{opts.query}
	case opts.all:
		return defaultTestQueries
	default:
		n := 3
		if len(defaultTestQueries) < n {
			n = len(defaultTestQueries)
		}
		return defaultTestQueries[:n]
	}
}

func printSynthesisResult(w io.Writer, r *pipeline.SynthesisResult) {
	fmt.Fprintf(w, "\n=== %s ===\n", r.Query)
	fmt.Fprintf(w, "state: %s | search: %dms synth: %dms total: %dms\n", r.State, r.SearchMS, r.SynthMS, r.TotalMS)
	fmt.Fprintf(w, "retrieved %d chunk(s)\n", len(r.Results))
	if len(r.Alerts) > 0 {
		fmt.Fprintf(w, "high-risk alerts:\n")
		for _, a := range r.Alerts {
			fmt.Fprintf(w, "  [%s] %s (%s)\n", a.Severity, a.Term, a.Category)
		}
	}
	fmt.Fprintf(w, "\n%s\n", r.Summary)
	if r.Verdict != nil {
		fmt.Fprintf(w, "\nguardrail: passed=%v\n%s\n", r.Verdict.Passed, r.Verdict.RawText)
	}
}

// ablationRow is one query's per-mode comparison, grounded on the
// original run_ablation's per-query record.
type ablationRow struct {
	query                                       string
	vectorHeading, keywordHeading, hybridHeading string
	vectorMS, keywordMS, hybridMS                int64
	vectorAlerts, keywordAlerts, hybridAlerts    int
	hybridDiverse                                bool
}

func runAblation(ctx context.Context, w io.Writer, retriever *retrieve.Retriever, alerter *alert.Alerter, queries []string, outputPath string) error {
	fmt.Fprintln(w, "ABLATION STUDY: Vector-Only vs Keyword-Only vs Hybrid RRF")

	var rows []ablationRow
	for i, q := range queries {
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(queries), q)

		t0 := time.Now()
		vecResults, err := retriever.SearchVector(ctx, q, 10)
		if err != nil {
			return clinerrors.Wrap(clinerrors.ErrCodeSearchFailed, err)
		}
		vectorMS := time.Since(t0).Milliseconds()

		t0 = time.Now()
		kwResults, err := retriever.SearchKeyword(ctx, q, 10)
		if err != nil {
			return clinerrors.Wrap(clinerrors.ErrCodeSearchFailed, err)
		}
		keywordMS := time.Since(t0).Milliseconds()

		t0 = time.Now()
		hybridResults, err := retriever.SearchHybrid(ctx, q, 10)
		if err != nil {
			return clinerrors.Wrap(clinerrors.ErrCodeSearchFailed, err)
		}
		hybridMS := time.Since(t0).Milliseconds()

		vectorIDs := idSet(vecResults, 5)
		keywordIDs := idSet(kwResults, 5)
		hybridIDs := idSet(hybridResults, 5)
		hybridDiverse := intersects(hybridIDs, vectorIDs) && intersects(hybridIDs, keywordIDs)

		row := ablationRow{
			query:          q,
			vectorHeading:  topHeading(vecResults),
			keywordHeading: topHeading(kwResults),
			hybridHeading:  topHeading(hybridResults),
			vectorMS:       vectorMS,
			keywordMS:      keywordMS,
			hybridMS:       hybridMS,
			vectorAlerts:   len(alerter.Detect(vecResults)),
			keywordAlerts:  len(alerter.Detect(kwResults)),
			hybridAlerts:   len(alerter.Detect(hybridResults)),
			hybridDiverse:  hybridDiverse,
		}
		rows = append(rows, row)

		fmt.Fprintf(w, "  Vector:  %s (%dms, %d alerts)\n", row.vectorHeading, row.vectorMS, row.vectorAlerts)
		fmt.Fprintf(w, "  Keyword: %s (%dms, %d alerts)\n", row.keywordHeading, row.keywordMS, row.keywordAlerts)
		fmt.Fprintf(w, "  Hybrid:  %s (%dms, %d alerts, diverse=%v)\n\n", row.hybridHeading, row.hybridMS, row.hybridAlerts, row.hybridDiverse)
	}

	printAblationSummary(w, rows)

	if outputPath != "" {
		if err := writeAblationMarkdown(rows, outputPath); err != nil {
			return clinerrors.Wrap(clinerrors.ErrCodeInternal, err)
		}
		fmt.Fprintf(w, "\nAblation results written to: %s\n", outputPath)
	}
	return nil
}

func idSet(results []retrieve.Result, limit int) map[string]bool {
	set := make(map[string]bool, limit)
	for i, r := range results {
		if i >= limit {
			break
		}
		set[r.Chunk.ID] = true
	}
	return set
}

func intersects(a, b map[string]bool) bool {
	for id := range a {
		if b[id] {
			return true
		}
	}
	return false
}

func topHeading(results []retrieve.Result) string {
	if len(results) == 0 || len(results[0].Chunk.Headings) == 0 {
		return "(no heading)"
	}
	h := results[0].Chunk.Headings
	start := 0
	if len(h) > 2 {
		start = len(h) - 2
	}
	path := ""
	for i := start; i < len(h); i++ {
		if path != "" {
			path += " > "
		}
		path += h[i]
	}
	return path
}

func printAblationSummary(w io.Writer, rows []ablationRow) {
	total := len(rows)
	if total == 0 {
		fmt.Fprintln(w, "no queries evaluated")
		return
	}
	var diverse int
	var sumVector, sumKeyword, sumHybrid int64
	for _, r := range rows {
		if r.hybridDiverse {
			diverse++
		}
		sumVector += r.vectorMS
		sumKeyword += r.keywordMS
		sumHybrid += r.hybridMS
	}
	fmt.Fprintln(w, "ABLATION SUMMARY")
	fmt.Fprintf(w, "Queries evaluated: %d\n", total)
	fmt.Fprintf(w, "Hybrid retrieved from BOTH sources: %d/%d (%d%%)\n", diverse, total, diverse*100/total)
	fmt.Fprintf(w, "Avg latency - Vector: %dms | Keyword: %dms | Hybrid: %dms\n",
		sumVector/int64(total), sumKeyword/int64(total), sumHybrid/int64(total))
}

func writeAblationMarkdown(rows []ablationRow, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	var b []byte
	b = append(b, "# Evaluation Results: Ablation Study & Per-Query Analysis\n\n"...)
	b = append(b, "| Query | Vector heading | Keyword heading | Hybrid heading | Diverse |\n"...)
	b = append(b, "|---|---|---|---|---|\n"...)
	for _, r := range rows { // document order, not alphabetical, for readability
		b = append(b, fmt.Sprintf("| %s | %s | %s | %s | %v |\n",
			r.query, r.vectorHeading, r.keywordHeading, r.hybridHeading, r.hybridDiverse)...)
	}
	return os.WriteFile(outputPath, b, 0o644)
}
