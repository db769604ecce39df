package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func types(doc *Document) []NodeType {
	out := make([]NodeType, len(doc.Nodes))
	for i, n := range doc.Nodes {
		out[i] = n.Type
	}
	return out
}

func TestParse_StepsAndCommands(t *testing.T) {
	src := `# Add a blog

This recipe sets up a blog.

---

Install the packages.

<InstallPackages packages={["left-pad", "right-pad"]} />

---

<File path="src/pages/index.js" content="hello" />
`
	doc, err := Parse([]byte(src))
	require.NoError(t, err)

	assert.Equal(t, []NodeType{NodeText, NodeSeparator, NodeText, NodeCommand, NodeSeparator, NodeCommand}, types(doc))
	assert.Equal(t, "# Add a blog\n\nThis recipe sets up a blog.", doc.Nodes[0].Text)
	assert.Equal(t, 1, doc.Nodes[0].Line)
	assert.Equal(t, 5, doc.Nodes[1].Line)

	install := doc.Nodes[3].Command
	require.NotNil(t, install)
	assert.Equal(t, "InstallPackages", install.Kind)
	assert.Equal(t, []any{"left-pad", "right-pad"}, install.Attributes["packages"])
	assert.Equal(t, 9, doc.Nodes[3].Line)

	file := doc.Nodes[5].Command
	assert.Equal(t, "File", file.Kind)
	assert.Equal(t, "src/pages/index.js", file.Attributes["path"])
	assert.Equal(t, "hello", file.Attributes["content"])
}

func TestParse_AttributeForms(t *testing.T) {
	src := "<Thing a=\"double\" b='single' c={true} d={3} flag e={`multi\nline`} f={{x: 1}} />\n"
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 1)

	attrs := doc.Nodes[0].Command.Attributes
	assert.Equal(t, "double", attrs["a"])
	assert.Equal(t, "single", attrs["b"])
	assert.Equal(t, true, attrs["c"])
	assert.Equal(t, 3, attrs["d"])
	assert.Equal(t, true, attrs["flag"])
	assert.Equal(t, "multi\nline", attrs["e"])
	assert.Equal(t, map[string]any{"x": 1}, attrs["f"])
}

func TestParse_ChildrenBecomeAttribute(t *testing.T) {
	src := `<Config>
Plan the site layout.

Then continue.
</Config>
`
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, "Plan the site layout.\n\nThen continue.", doc.Nodes[0].Command.Attributes[ChildrenAttr])
}

func TestParse_TemplateLiteralSpansBlankLines(t *testing.T) {
	src := "<File path=\"a.md\" content={`first\n\n---\n\nlast`} />\n\n---\n\nDone.\n"
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, []NodeType{NodeCommand, NodeSeparator, NodeText}, types(doc))
	assert.Equal(t, "first\n\n---\n\nlast", doc.Nodes[0].Command.Attributes["content"])
}

func TestParse_FencedCodeIsProse(t *testing.T) {
	src := "Example:\n\n```jsx\n<InstallPackages packages={[\"x\"]} />\n---\n```\n"
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	require.Equal(t, []NodeType{NodeText}, types(doc))
	assert.Contains(t, doc.Nodes[0].Text, "<InstallPackages")
}

func TestParse_SeparatorDirectlyAfterCommand(t *testing.T) {
	doc, err := Parse([]byte("<A />\n---\n<B />\n"))
	require.NoError(t, err)
	assert.Equal(t, []NodeType{NodeCommand, NodeSeparator, NodeCommand}, types(doc))
}

func TestParse_ConsecutiveSeparators(t *testing.T) {
	doc, err := Parse([]byte("one\n\n---\n\n***\n\ntwo\n\n---\n"))
	require.NoError(t, err)
	assert.Equal(t, []NodeType{NodeText, NodeSeparator, NodeSeparator, NodeText, NodeSeparator}, types(doc))
	assert.Equal(t, "two", doc.Nodes[3].Text)
}

func TestParse_BlankLinesAroundBreaks(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		want  []NodeType
		texts []string
	}{
		{"dashes", "A\n\n---\n\nB", []NodeType{NodeText, NodeSeparator, NodeText}, []string{"A", "B"}},
		{"stars", "A\n\n***\n\nB", []NodeType{NodeText, NodeSeparator, NodeText}, []string{"A", "B"}},
		{"three steps", "A\n\n---\n\nB\n\n---\n\nC", []NodeType{NodeText, NodeSeparator, NodeText, NodeSeparator, NodeText}, []string{"A", "B", "C"}},
		{"heading and trailing newline", "# Intro\n\nInstall things.\n\n---\n\nWrite a file.\n", []NodeType{NodeText, NodeSeparator, NodeText}, []string{"# Intro\n\nInstall things.", "Write a file."}},
		{"several blank lines", "A\n\n\n\n---\n\n\n\nB\n", []NodeType{NodeText, NodeSeparator, NodeText}, []string{"A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte(tt.src))
			require.NoError(t, err)
			assert.Equal(t, tt.want, types(doc))
			var texts []string
			for _, n := range doc.Nodes {
				if n.Type == NodeText {
					texts = append(texts, n.Text)
				}
			}
			assert.Equal(t, tt.texts, texts)
		})
	}
}

func TestParse_SetextHeadingIsNotSeparator(t *testing.T) {
	doc, err := Parse([]byte("Title\n---\n\nbody\n"))
	require.NoError(t, err)
	assert.Equal(t, []NodeType{NodeText}, types(doc))
}

func TestParse_AdjacentInvocations(t *testing.T) {
	doc, err := Parse([]byte(`<A x="1" /> <B y="2" />` + "\n"))
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, "A", doc.Nodes[0].Command.Kind)
	assert.Equal(t, "B", doc.Nodes[1].Command.Kind)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unterminated tag", "text\n\n<File path=\"a\"\n", 3},
		{"missing close", "<Config>\nbody\n", 1},
		{"unbalanced braces", "<X a={[1, 2 />\n", 1},
		{"unterminated string", "<X a=\"oops />\n", 1},
		{"spread", "<X {...props} />\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			require.Error(t, err)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	doc, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Nodes)
}

func TestLoadFile_SetsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mdx")
	require.NoError(t, os.WriteFile(path, []byte("<X\n"), 0o644))

	_, err := LoadFile(path)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, path, pe.Path)
	assert.Contains(t, err.Error(), path+":1:")
}
