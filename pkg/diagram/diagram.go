// Package diagram draws the step flow of a recipe.
// Supports Mermaid flowchart and ASCII formats.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// ParseFormat reads a format name, defaulting to ASCII.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatASCII:
		return FormatASCII, nil
	case FormatMermaid:
		return FormatMermaid, nil
	}
	return "", fmt.Errorf("unsupported diagram format: %s", s)
}

// Generate produces a diagram of steps. Each step lists the status heading
// of every command kind it carries; edges into a confirm-gated step's
// successor are labelled "enter".
func Generate(name string, steps []recipe.Step, registry *commands.Registry, format Format) (string, error) {
	if registry == nil {
		registry = commands.NewRegistry()
	}
	ds := describe(steps, registry)
	switch format {
	case FormatMermaid:
		return generateMermaid(ds), nil
	case FormatASCII:
		return generateASCII(name, ds), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

type diagramStep struct {
	number  int
	title   string
	lines   []string
	confirm bool
}

func describe(steps []recipe.Step, registry *commands.Registry) []diagramStep {
	out := make([]diagramStep, 0, len(steps))
	for _, s := range steps {
		ds := diagramStep{number: s.Index + 1, title: firstLine(s.Markdown())}
		g := recipe.Extract(s)
		for _, kind := range g.Kinds() {
			h := registry.Lookup(kind)
			if h.Gate == commands.GateConfirm {
				ds.confirm = true
			}
			cmds := g.Get(kind)
			labels := make([]string, 0, len(cmds))
			for _, c := range cmds {
				if l := registry.LabelOf(recipe.CommandView{Kind: c.Kind, Attributes: c.Attributes}); l != "" && l != kind {
					labels = append(labels, l)
				}
			}
			line := gateIcon(h.Gate) + " " + h.Progress
			if len(labels) > 0 {
				line += ": " + truncate(strings.Join(labels, ", "), 40)
			}
			ds.lines = append(ds.lines, line)
		}
		out = append(out, ds)
	}
	return out
}

// --- Mermaid flowchart ---

func generateMermaid(steps []diagramStep) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	if len(steps) == 0 {
		return b.String()
	}

	b.WriteString("    START([Start]) --> " + stepID(steps[0]) + "\n")
	for i, s := range steps {
		b.WriteString("    " + nodeDefinition(s) + "\n")
		next := "DONE"
		if i < len(steps)-1 {
			next = stepID(steps[i+1])
		}
		if s.confirm {
			fmt.Fprintf(&b, "    %s -->|\"enter\"| %s\n", stepID(s), next)
		} else {
			fmt.Fprintf(&b, "    %s --> %s\n", stepID(s), next)
		}
	}
	b.WriteString("    DONE([Served])\n")
	b.WriteString("    style DONE fill:#0d6,stroke:#0a5,color:#fff\n")
	for _, s := range steps {
		if s.confirm {
			fmt.Fprintf(&b, "    style %s fill:#1a3a4a,stroke:#0af\n", stepID(s))
		}
	}
	return b.String()
}

func nodeDefinition(s diagramStep) string {
	label := fmt.Sprintf("Step %d", s.number)
	if s.title != "" {
		label += ": " + truncate(s.title, 40)
	}
	for _, l := range s.lines {
		label += "<br/>" + l
	}
	if s.confirm {
		return fmt.Sprintf(`%s{{"%s"}}`, stepID(s), escMermaid(label))
	}
	return fmt.Sprintf(`%s["%s"]`, stepID(s), escMermaid(label))
}

func stepID(s diagramStep) string {
	return fmt.Sprintf("step_%d", s.number)
}

// --- ASCII ---

func generateASCII(name string, steps []diagramStep) string {
	var b strings.Builder
	if name == "" {
		name = "Recipe"
	}
	if len(steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	const indent = 8
	boxWidth := computeUniformBoxWidth(steps, name)
	connCol := indent + 1 + boxWidth/2
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)
	mid := boxWidth / 2

	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + centerPad(name, boxWidth) + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	for _, s := range steps {
		writeASCIIStep(&b, s, indent, boxWidth)
		if s.confirm {
			b.WriteString(connPad + "│ enter\n")
		} else {
			b.WriteString(connPad + "│\n")
		}
	}
	b.WriteString(strings.Repeat(" ", connCol-2) + "✓ Served\n")
	return b.String()
}

func stepHeading(s diagramStep) string {
	h := fmt.Sprintf(" Step %d", s.number)
	if s.title != "" {
		h += ": " + truncate(s.title, 40)
	}
	return h + " "
}

// computeUniformBoxWidth returns the widest interior width needed across
// all steps and the header name.
func computeUniformBoxWidth(steps []diagramStep, name string) int {
	w := 22
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	for _, s := range steps {
		if hw := runewidth.StringWidth(stepHeading(s)); hw > w {
			w = hw
		}
		for _, l := range s.lines {
			if lw := runewidth.StringWidth("   "+l+" "); lw > w {
				w = lw
			}
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func writeASCIIStep(b *strings.Builder, s diagramStep, indent, boxWidth int) {
	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2

	b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
	b.WriteString(pad + "│" + runewidth.FillRight(stepHeading(s), boxWidth) + "│\n")
	for _, l := range s.lines {
		b.WriteString(pad + "│" + runewidth.FillRight("   "+l, boxWidth) + "│\n")
	}
	b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
}

func gateIcon(g commands.Gate) string {
	switch g {
	case commands.GateQueue:
		return "⚙"
	case commands.GateTask:
		return "⚡"
	default:
		return "✋"
	}
}

// --- string helpers ---

func firstLine(md string) string {
	for _, l := range strings.Split(md, "\n") {
		l = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), "#"))
		if l != "" {
			return l
		}
	}
	return ""
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}

func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "...")
}
