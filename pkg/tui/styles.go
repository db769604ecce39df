// Package tui renders a running recipe in the terminal with Bubble Tea: the
// steps already served, the prose of the current step, one status block per
// command kind and a confirmation hint when the step waits for the user.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// Command status glyphs. In-progress commands show the spinner instead.
const (
	GlyphPending  = "○"
	GlyphComplete = "✓"
	GlyphFailed   = "✗"
	GlyphSkipped  = "⏭"
	GlyphCurrent  = "▸"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

// --- Header styles ---

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

// --- Step list styles ---

var (
	stepDone = lipgloss.NewStyle().
			Foreground(colorGreen)

	stepCurrent = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorYellow)
)

// --- Status block styles ---

var (
	groupTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	commandLabel = lipgloss.NewStyle().
			Foreground(colorWhite)

	pendingStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	completeStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	skippedStyle = lipgloss.NewStyle().
			Faint(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(colorYellow)
)

// --- Key bar styles ---

var (
	keyStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	keyDescStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	keyBarStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

// --- Served banner ---

var servedStyle = lipgloss.NewStyle().
	Foreground(colorGreen).
	Bold(true)

// glyph renders the status glyph for a command state.
func glyph(state recipe.CommandState, spin string) string {
	switch state {
	case recipe.StateComplete:
		return completeStyle.Render(GlyphComplete)
	case recipe.StateError:
		return errorStyle.Render(GlyphFailed)
	case recipe.StateSkipped:
		return skippedStyle.Render(GlyphSkipped)
	case recipe.StateInProgress:
		return spin
	}
	return pendingStyle.Render(GlyphPending)
}
