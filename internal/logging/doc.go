// Package logging provides file-based logging with rotation for chwrag.
// The pipeline and synthesis commands always set it up with DefaultConfig,
// which writes JSON logs to ~/.chwrag/logs/chwrag.log, rotated by size,
// for debugging and troubleshooting. Stderr output is off in that
// default setup.
package logging
