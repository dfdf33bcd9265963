// Package cmd provides the chwrag CLI commands: offline guideline
// ingestion ("pipeline"), query serving/evaluation ("synthesis"), and
// the "doctor", "status" and "version" utilities. Grounded on the
// teacher's cmd/amanmcp/cmd root/RunE wiring, adapted to this core's
// §6/§7 exit-code contract.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	clinerrors "github.com/chw-health/clinicalrag/internal/errors"
	"github.com/chw-health/clinicalrag/pkg/version"
)

// Exit codes per spec.md §6.
const (
	ExitSuccess      = 0
	ExitInvalidInput = 1
	ExitPipelineFail = 2
)

// NewRootCmd builds the root chwrag command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chwrag",
		Short:         "Clinical retrieval and synthesis core for Community Health Workers",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("chwrag version {{.Version}}\n")

	root.AddCommand(newPipelineCmd())
	root.AddCommand(newSynthesisCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the root command and returns the process exit code
// per spec.md §6: 0 success, 1 invalid input / file not found, 2
// pipeline failure (with the error printed to stderr).
func Execute() int {
	root := NewRootCmd()
	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintln(os.Stderr, "chwrag:", err)
	return exitCodeFor(err)
}

// exitCodeFor classifies err into the §6 exit-code contract.
func exitCodeFor(err error) int {
	if os.IsNotExist(err) {
		return ExitInvalidInput
	}
	var ce *clinerrors.ClinicalError
	if errors.As(err, &ce) {
		switch ce.Category {
		case clinerrors.CategoryValidation, clinerrors.CategoryIO:
			return ExitInvalidInput
		default:
			return ExitPipelineFail
		}
	}
	return ExitPipelineFail
}
