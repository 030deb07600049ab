/*
Package prompt implements the interactive x-prompt gate: a migration
document can ask for confirmation before a conditional packageJsonUpdates
entry is admitted. The planner depends only on the Prompter interface;
HuhPrompter is the real terminal implementation.
*/
package prompt

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

// Prompter asks the operator a yes/no question and reports the answer.
type Prompter interface {
	Confirm(title string) (bool, error)
}

// HuhPrompter confirms via a single-field charmbracelet/huh confirm form.
type HuhPrompter struct{}

// NewHuhPrompter constructs a terminal-backed Prompter.
func NewHuhPrompter() *HuhPrompter {
	return &HuhPrompter{}
}

// Confirm implements Prompter.
func (HuhPrompter) Confirm(title string) (bool, error) {
	var confirmed bool
	field := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed)

	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return false, fmt.Errorf("prompt: %w", err)
	}
	return confirmed, nil
}

// AutoConfirm always answers yes without prompting, for non-interactive
// runs and tests: outside --interactive mode the planner never calls a
// Prompter at all, but a safe default keeps callers that do from needing a
// nil check.
type AutoConfirm struct{}

// Confirm implements Prompter.
func (AutoConfirm) Confirm(string) (bool, error) { return true, nil }
