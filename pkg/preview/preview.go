// Package preview renders a recipe as plain markdown, with each command
// shown as the shell or config change it stands for.
package preview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/document"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// StepSeparator separates steps in the generated markdown.
const StepSeparator = "\n\n---\n\n"

var fenceLang = map[string]string{
	"GatsbyPlugin":        "yaml",
	"InstallGatsbyPlugin": "yaml",
	"NPMScript":           "json",
}

// Markdown renders doc step by step. Text nodes are kept as written and each
// command becomes a fenced block holding its snippet. Commands without a
// snippet are shown by kind.
func Markdown(doc *document.Document, registry *commands.Registry, env commands.Env) string {
	if registry == nil {
		registry = commands.NewRegistry()
	}
	steps := recipe.Segment(doc)
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		parts = append(parts, step(s, registry, env))
	}
	return strings.Join(parts, StepSeparator)
}

func step(s recipe.Step, registry *commands.Registry, env commands.Env) string {
	var blocks []string
	for _, n := range s.Nodes {
		switch n.Type {
		case document.NodeText:
			if t := strings.TrimSpace(n.Text); t != "" {
				blocks = append(blocks, t)
			}
		case document.NodeCommand:
			if n.Command == nil {
				continue
			}
			cmd := recipe.Command{Kind: n.Command.Kind, Attributes: n.Command.Attributes, Step: s.Index}
			blocks = append(blocks, snippet(cmd, registry, env))
		}
	}
	return strings.Join(blocks, "\n\n")
}

func snippet(cmd recipe.Command, registry *commands.Registry, env commands.Env) string {
	h := registry.Lookup(cmd.Kind)
	var body string
	if h.Snippet != nil {
		body = h.Snippet(cmd, env)
	}
	if body == "" {
		return fmt.Sprintf("`%s`", cmd.Kind)
	}
	lang, ok := fenceLang[cmd.Kind]
	if !ok {
		lang = "sh"
	}
	fence := "```"
	for strings.Contains(body, fence) {
		fence += "`"
	}
	return fence + lang + "\n" + body + "\n" + fence
}

// Render styles md for a terminal of the given width. Zero width disables
// wrapping. The raw markdown is returned if rendering fails.
func Render(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
