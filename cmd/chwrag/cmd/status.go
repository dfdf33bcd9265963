package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	clinerrors "github.com/chw-health/clinicalrag/internal/errors"
	"github.com/chw-health/clinicalrag/internal/store"
	"github.com/chw-health/clinicalrag/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		dbPath     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show corpus store health and document counts",
		Long: `Display information about an ingested corpus store:
  - Number of documents and their approval status
  - Total chunk count
  - High-risk lexicon size
  - Store file size`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, dbPath, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "corpus.db", "Corpus store file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, dbPath string, jsonOutput bool) error {
	if _, err := os.Stat(dbPath); err != nil {
		return err
	}

	corpus, err := store.Open(dbPath, slog.Default())
	if err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeCorruptStore, err)
	}
	defer corpus.Close()

	info, err := collectStatus(ctx, corpus, dbPath)
	if err != nil {
		return clinerrors.Wrap(clinerrors.ErrCodeInternal, err)
	}

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, corpus store.CorpusStore, dbPath string) (ui.StatusInfo, error) {
	info := ui.StatusInfo{StorePath: dbPath}

	docs, err := corpus.ListDocuments(ctx, nil)
	if err != nil {
		return info, fmt.Errorf("list documents: %w", err)
	}
	info.TotalDocs = len(docs)

	var totalChunks int
	var lastIndexed = info.LastIndexed
	for _, d := range docs {
		n, err := corpus.ChunkCount(ctx, d.ID)
		if err != nil {
			return info, fmt.Errorf("count chunks for %s: %w", d.ID, err)
		}
		totalChunks += n
		if d.ExtractionDate.After(lastIndexed) {
			lastIndexed = d.ExtractionDate
		}

		switch d.ApprovalStatus {
		case store.ApprovalPending:
			info.Approval.Pending++
		case store.ApprovalApproved:
			info.Approval.Approved++
		case store.ApprovalRejected:
			info.Approval.Rejected++
		}
	}
	info.TotalChunks = totalChunks
	info.LastIndexed = lastIndexed

	if fi, err := os.Stat(dbPath); err == nil {
		info.StoreSize = fi.Size()
	}

	terms, err := corpus.Lexicon(ctx)
	if err == nil {
		info.LexiconSize = len(terms)
	}

	info.EmbedderType = "ollama"
	info.EmbedderStatus = "n/a"

	return info, nil
}
