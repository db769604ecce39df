// Package recipe splits a parsed document into ordered steps and extracts
// the commands each step carries.
package recipe

import (
	"strings"

	"github.com/ormasoftchile/recipe/pkg/document"
)

// Step is the run of nodes between two separators.
type Step struct {
	Index int             `json:"index"`
	Nodes []document.Node `json:"nodes"`
}

// Markdown joins the prose of the step.
func (s Step) Markdown() string {
	var parts []string
	for _, n := range s.Nodes {
		if n.Type == document.NodeText {
			parts = append(parts, n.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Segment splits doc into steps. Separators are dropped; every other node
// belongs to the step at the current separator count. A document that
// starts with a separator has an empty first step, and a separator with
// nothing after it opens no step.
func Segment(doc *document.Document) []Step {
	var steps []Step
	index := 0
	for _, n := range doc.Nodes {
		if n.Type == document.NodeSeparator {
			index++
			continue
		}
		for len(steps) <= index {
			steps = append(steps, Step{Index: len(steps)})
		}
		steps[index].Nodes = append(steps[index].Nodes, n)
	}
	return steps
}
