package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chw-health/clinicalrag/internal/chunk"
	"github.com/chw-health/clinicalrag/internal/embed"
	clinerrors "github.com/chw-health/clinicalrag/internal/errors"
	"github.com/chw-health/clinicalrag/internal/extract"
	"github.com/chw-health/clinicalrag/internal/lexicon"
	"github.com/chw-health/clinicalrag/internal/logging"
	"github.com/chw-health/clinicalrag/internal/store"
	"github.com/chw-health/clinicalrag/internal/ui"
)

// pipelineOptions holds the CLI flags for offline ingestion, matching
// spec.md §6's "pipeline" command surface.
type pipelineOptions struct {
	output    string
	noOCR     bool
	batchSize int
	device    string
	maxTokens int
}

func newPipelineCmd() *cobra.Command {
	var opts pipelineOptions

	cmd := &cobra.Command{
		Use:   "pipeline <document>",
		Short: "Ingest a clinical guideline document into the corpus store",
		Long: `Converts a guideline document into content-addressed, heading-
contextualized chunks, embeds them, and writes everything into a
single corpus store file ready for serving.

Real PDF layout conversion (OCR, table detection) is an external
collaborator per the design; when the input is already Markdown it is
chunked directly, and document formats with no converter wired return
a clear error rather than silently skipping the document.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.output, "output", "corpus.db", "Corpus store file to ingest into")
	cmd.Flags().BoolVar(&opts.noOCR, "no-ocr", false, "Disable OCR during document conversion")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", embed.DefaultBatchSize, "Embedding batch size")
	cmd.Flags().StringVar(&opts.device, "device", "cpu", "Device for embedding inference: cpu, cuda, mps")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", chunk.DefaultMaxGuidelineTokens, "Max tokens per guideline chunk")

	return cmd
}

func runPipeline(ctx context.Context, cmd *cobra.Command, path string, opts pipelineOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	if _, err := os.Stat(path); err != nil {
		return err
	}

	// The embedding backend is an HTTP service (Ollama), not a local
	// accelerator process, so --device has no runtime effect here; it
	// is surfaced in logs for operator visibility and forward
	// compatibility with a future in-process embedder.
	slog.Debug("pipeline_device_requested", slog.String("device", opts.device))

	out := cmd.OutOrStdout()
	renderer := ui.NewRenderer(ui.NewConfig(out))
	if err := renderer.Start(ctx); err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeInternal, err)
	}
	defer renderer.Stop()

	start := time.Now()
	var stages ui.StageTimings
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, CurrentFile: path, Message: "reading document"})

	scanStart := time.Now()
	converter := converterFor(path)
	result, err := converter.Convert(ctx, path, !opts.noOCR)
	if err != nil {
		renderer.AddError(ui.ErrorEvent{File: path, Err: err})
		return clinerrors.Wrap(clinerrors.ErrCodeInternal, err)
	}
	stages.Scan = time.Since(scanStart)

	corpus, err := store.Open(opts.output, slog.Default())
	if err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeCorruptStore, err)
	}
	defer corpus.Close()

	docID, err := corpus.InsertDocument(ctx, &store.Document{
		Filename:       result.Meta.Filename,
		Title:          result.Meta.Title,
		Version:        result.Meta.Version,
		ExtractionDate: time.Now(),
		PageCount:      result.Meta.PageCount,
	})
	if err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeInternal, err)
	}

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageChunking, Message: "segmenting into chunks"})
	chunkStart := time.Now()
	chunker := chunk.NewGuidelineChunker(opts.maxTokens)
	chunks := chunker.Chunk(docID, result.Items)
	for _, c := range chunks {
		if err := corpus.InsertChunk(ctx, docID, c); err != nil {
			return clinerrors.Wrap(clinerrors.ErrCodeInternal, err)
		}
	}
	stages.Chunk = time.Since(chunkStart)

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Total: len(chunks), Message: "embedding chunks"})
	embedStart := time.Now()
	embedder, err := embed.NewEmbedder(ctx, embed.ProviderOllama, "")
	if err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeEmbedderMismatch, err)
	}
	defer embedder.Close()

	if err := embedChunksInBatches(ctx, corpus, embedder, chunks, opts.batchSize, renderer); err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeEmbeddingFailed, err)
	}
	stages.Embed = time.Since(embedStart)

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Message: "rebuilding FTS and high-risk lexicon"})
	indexStart := time.Now()
	if err := corpus.PopulateFTS(ctx); err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeInternal, err)
	}
	if err := corpus.PopulateHighRiskLexicon(ctx, lexicon.HighRiskTerms); err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeInternal, err)
	}
	if err := corpus.UpdateApproval(ctx, docID, store.ApprovalPending); err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeInternal, err)
	}
	stages.Index = time.Since(indexStart)

	renderer.Complete(ui.CompletionStats{
		Files:    1,
		Chunks:   len(chunks),
		Duration: time.Since(start),
		Stages:   stages,
		Embedder: ui.EmbedderInfo{
			Backend:    "ollama",
			Model:      embedder.ModelName(),
			Dimensions: embedder.Dimensions(),
		},
	})
	fmt.Fprintf(out, "Ingested %q as document %s (%d chunks, pending approval)\n", path, docID, len(chunks))
	return nil
}

// converterFor picks the extract.Converter for path. Markdown is
// chunked directly; every other format requires a real PDF layout
// converter, which is out of scope per spec.md §1 — NoopConverter
// reports that clearly instead of silently producing nothing.
func converterFor(path string) extract.Converter {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return chunk.NewMarkdownConverter()
	default:
		return extract.NoopConverter{}
	}
}

func embedChunksInBatches(ctx context.Context, corpus store.CorpusStore, embedder embed.Embedder, chunks []*store.Chunk, batchSize int, renderer ui.Renderer) error {
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.ContextualizedText
			ids[i] = c.ID
		}
		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if err := corpus.InsertEmbeddingsBatch(ctx, ids, vecs); err != nil {
			return err
		}
		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Current: end, Total: len(chunks)})
	}
	return nil
}
