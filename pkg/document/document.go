// Package document turns recipe sources into an immutable, ordered sequence
// of text, command and separator nodes.
package document

import (
	"fmt"
	"os"
)

// NodeType discriminates document nodes.
type NodeType int

const (
	NodeText NodeType = iota
	NodeCommand
	NodeSeparator
)

func (t NodeType) String() string {
	switch t {
	case NodeText:
		return "text"
	case NodeCommand:
		return "command"
	case NodeSeparator:
		return "separator"
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t NodeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Invocation is a command embedded in the document: a component name and
// its decoded attributes.
type Invocation struct {
	Kind       string         `json:"kind"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Raw        string         `json:"-"`
}

// Node is one element of a document.
type Node struct {
	Type    NodeType    `json:"type"`
	Text    string      `json:"text,omitempty"`
	Command *Invocation `json:"command,omitempty"`
	Line    int         `json:"line,omitempty"` // 1-based source line, 0 when built in code
}

// Document is the parsed form of a recipe. It is never mutated after Parse.
type Document struct {
	Nodes []Node `json:"nodes"`
}

// New builds a document from nodes, mostly for tests and generated recipes.
func New(nodes ...Node) *Document {
	return &Document{Nodes: nodes}
}

// Text returns a prose node.
func Text(s string) Node {
	return Node{Type: NodeText, Text: s}
}

// Command returns a command node.
func Command(kind string, attrs map[string]any) Node {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return Node{Type: NodeCommand, Command: &Invocation{Kind: kind, Attributes: attrs}}
}

// Separator returns a step boundary node.
func Separator() Node {
	return Node{Type: NodeSeparator}
}

// ParseError reports a malformed document. It is fatal: no step runs.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// LoadFile reads and parses a recipe from disk.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Path = path
		}
		return nil, err
	}
	return doc, nil
}
