package tui

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// ServedMessage is shown once every step completed.
const ServedMessage = "Your recipe is served! Press enter to exit."

// renderGroup renders the status block of one command kind: a heading with
// the group glyph, then one line per command while the group is unsettled
// or failed. Errors render inline under the failing command.
func renderGroup(registry *commands.Registry, g recipe.GroupView, spin string) string {
	var b strings.Builder
	b.WriteString(groupGlyph(g, spin))
	b.WriteString(" ")
	b.WriteString(groupTitle.Render(registry.Heading(g)))

	if g.Settled() && !g.Failed() {
		return b.String()
	}
	for _, c := range g.Commands {
		label := registry.LabelOf(c)
		if label == "" {
			label = c.Kind
		}
		fmt.Fprintf(&b, "\n  %s %s", glyph(c.State, spin), commandLabel.Render(label))
		if c.State == recipe.StateError && c.Error != "" {
			fmt.Fprintf(&b, "\n    %s", errorStyle.Render(c.Error))
		}
	}
	return b.String()
}

func groupGlyph(g recipe.GroupView, spin string) string {
	switch {
	case g.Failed() && g.Settled():
		return glyph(recipe.StateError, spin)
	case g.Settled():
		for _, c := range g.Commands {
			if c.State != recipe.StateSkipped {
				return glyph(recipe.StateComplete, spin)
			}
		}
		return glyph(recipe.StateSkipped, spin)
	}
	for _, c := range g.Commands {
		if c.State == recipe.StateInProgress {
			return spin
		}
	}
	return glyph(recipe.StatePending, spin)
}

// renderGroups renders every block of a step separated by blank lines.
func renderGroups(registry *commands.Registry, groups []recipe.GroupView, spin string) string {
	blocks := make([]string, 0, len(groups))
	for _, g := range groups {
		blocks = append(blocks, renderGroup(registry, g, spin))
	}
	return strings.Join(blocks, "\n\n")
}

// renderServed renders the completed-steps list.
func renderServed(summaries []string) string {
	lines := make([]string, 0, len(summaries))
	for i, s := range summaries {
		line := fmt.Sprintf("%s Step %d", GlyphComplete, i+1)
		if s != "" {
			line += ": " + s
		}
		lines = append(lines, stepDone.Render(line))
	}
	return strings.Join(lines, "\n")
}
