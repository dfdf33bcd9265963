package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chw-health/clinicalrag/internal/config"
	"github.com/chw-health/clinicalrag/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements before ingesting or serving",
		Long: `Run system diagnostics to confirm chwrag can operate correctly.

Checks:
  - Disk space (100MB minimum)
  - Memory availability
  - Write permissions
  - File descriptor limits
  - Embedding model status (downloaded/missing)
  - Embedding model disk space

Embedder checks are non-critical: their warnings do not fail the
diagnostics. Ingestion always uses the Ollama embedder and does not
fall back to the static embedder.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	results := checker.RunAll(ctx, root)

	if jsonOutput {
		if err := outputDoctorJSON(cmd, checker, results); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)

		dataDir := filepath.Join(root, ".chwrag")
		if !preflight.NeedsCheck(dataDir) {
			if age := preflight.MarkerAge(dataDir); age > 0 {
				cmd.Printf("\nLast successful check: %s ago\n", age.Round(time.Minute))
			}
		}
	}

	if checker.HasCriticalFailures(results) {
		dataDir := filepath.Join(root, ".chwrag")
		_ = preflight.ClearMarker(dataDir)
		return &doctorError{message: "system check failed"}
	}

	dataDir := filepath.Join(root, ".chwrag")
	_ = preflight.MarkPassed(dataDir)
	return nil
}

// doctorError reports a preflight failure without wrapping it as a
// *clinerrors.ClinicalError: it is purely a local diagnostic, not a
// pipeline or validation failure, so it maps to the generic
// ExitPipelineFail exit code via exitCodeFor's default case.
type doctorError struct {
	message string
}

func (e *doctorError) Error() string {
	return e.message
}

type doctorJSONOutput struct {
	Status   string            `json:"status"`
	Checks   []doctorJSONCheck `json:"checks"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

type doctorJSONCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func outputDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	output := doctorJSONOutput{
		Status: checker.SummaryStatus(results),
		Checks: make([]doctorJSONCheck, len(results)),
	}

	for i, r := range results {
		output.Checks[i] = doctorJSONCheck{
			Name:     r.Name,
			Status:   strings.ToLower(r.Status.String()),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}
		if r.IsCritical() {
			output.Errors = append(output.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			output.Warnings = append(output.Warnings, r.Name+": "+r.Message)
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
