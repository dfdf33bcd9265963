// Command chwrag is the CLI entry point for the clinical retrieval and
// synthesis core: offline guideline ingestion (pipeline) and query
// serving/evaluation (synthesis).
package main

import (
	"os"

	"github.com/chw-health/clinicalrag/cmd/chwrag/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
