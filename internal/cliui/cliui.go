/*
Package cliui prints the run's colored diagnostics: a titled error block
for a migration that threw, and a red one-line warning for a failed git
commit that shouldn't halt the run.
*/
package cliui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// PrintTitledError prints a titled failure block for a migration that
// threw while running.
func PrintTitledError(out io.Writer, title string, err error) {
	fmt.Fprintln(out, color.RedString("✖ %s", title))
	fmt.Fprintln(out, color.RedString("  %s", err))
}

// PrintCommitFailure logs a non-fatal git-commit failure in red, without
// halting the run.
func PrintCommitFailure(out io.Writer, migrationName string, err error) {
	fmt.Fprintln(out, color.RedString("git commit failed for %s: %s", migrationName, err))
}

// PrintSuccess prints a green confirmation line, used for the final
// "all migrations applied" summary.
func PrintSuccess(out io.Writer, message string) {
	fmt.Fprintln(out, color.GreenString(message))
}

// PrintSkipped prints a plain (uncolored) progress line for a migration
// that reported no changes: such migrations are noted but deliberately
// print no progress header.
func PrintSkipped(out io.Writer, migrationName string) {
	fmt.Fprintf(out, "  skipped %s (no changes)\n", migrationName)
}

// PrintRunning prints the progress header for a migration about to run.
func PrintRunning(out io.Writer, migrationName string) {
	fmt.Fprintf(out, "Running migration %s...\n", migrationName)
}
