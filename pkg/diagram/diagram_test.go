package diagram

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/recipe/pkg/document"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

func blogSteps() []recipe.Step {
	return recipe.Segment(document.New(
		document.Text("# Set up a blog"),
		document.Command("Config", map[string]any{"name": "blog"}),
		document.Separator(),
		document.Text("Install the pads"),
		document.Command("NPMPackage", map[string]any{"name": "left-pad"}),
		document.Command("NPMPackage", map[string]any{"name": "right-pad"}),
		document.Command("ShadowFile", map[string]any{"theme": "gatsby-theme-blog", "path": "src/bio.js"}),
	))
}

func TestGenerateMermaid_LinearFlow(t *testing.T) {
	out, err := Generate("blog", blogSteps(), nil, FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "flowchart TD") {
		t.Error("missing flowchart header")
	}
	if !strings.Contains(out, "START([Start]) --> step_1") {
		t.Errorf("missing start edge, got:\n%s", out)
	}
	if !strings.Contains(out, `step_1 -->|"enter"| step_2`) {
		t.Errorf("missing confirm edge, got:\n%s", out)
	}
	if !strings.Contains(out, "step_2 --> DONE") {
		t.Errorf("missing final edge, got:\n%s", out)
	}
	if !strings.Contains(out, "Installing packages: left-pad, right-pad") {
		t.Errorf("missing install line, got:\n%s", out)
	}
	if !strings.Contains(out, `step_1{{"Step 1: Set up a blog`) {
		t.Errorf("confirm step should use the hexagon shape, got:\n%s", out)
	}
}

func TestGenerateMermaid_Escapes(t *testing.T) {
	steps := recipe.Segment(document.New(document.Text(`Say "hi"`)))
	out, err := Generate("", steps, nil, FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "#quot;hi#quot;") {
		t.Errorf("quotes not escaped, got:\n%s", out)
	}
}

func TestGenerateASCII(t *testing.T) {
	out, err := Generate("blog", blogSteps(), nil, FormatASCII)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"╔", "blog", "Step 1: Set up a blog", "✋ Setting up plan: blog", "⚡ Shadowing files: src/bio.js", "│ enter", "✓ Served"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	// Every step box row is as wide as the box border above it.
	var border int
	var rows int
	for _, l := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "┌") {
			border = runewidth.StringWidth(trimmed)
			continue
		}
		if trimmed == "│" || !strings.HasPrefix(trimmed, "│") || !strings.HasSuffix(trimmed, "│") {
			continue
		}
		rows++
		if w := runewidth.StringWidth(strings.TrimLeft(l, " ")); w != border {
			t.Errorf("row %q is %d wide, border is %d", l, w, border)
		}
	}
	if rows == 0 {
		t.Errorf("no box rows in:\n%s", out)
	}
}

func TestGenerate_Empty(t *testing.T) {
	out, err := Generate("", nil, nil, FormatASCII)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Recipe (empty)\n" {
		t.Errorf("got %q", out)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatASCII {
		t.Errorf("default format = %q, %v", f, err)
	}
	if _, err := ParseFormat("svg"); err == nil {
		t.Error("expected error for svg")
	}
}
