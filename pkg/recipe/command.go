package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ormasoftchile/recipe/pkg/document"
)

// Command is an invocation bound to the step that declares it.
type Command struct {
	Kind       string         `json:"kind"`
	Attributes map[string]any `json:"attributes"`
	Step       int            `json:"step"`
	Index      int            `json:"index"` // position within its kind group
}

// ID identifies a command within a recipe.
func (c Command) ID() string {
	return fmt.Sprintf("%d/%s/%d", c.Step, c.Kind, c.Index)
}

// Attr returns the attribute named key, or "" when absent or not a string.
func (c Command) Attr(key string) string {
	s, _ := c.Attributes[key].(string)
	return s
}

// List returns the attribute named key as a string list. A single string
// is treated as a one-element list.
func (c Command) List(key string) []string {
	switch v := c.Attributes[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Flag reports whether the attribute named key is set to true.
func (c Command) Flag(key string) bool {
	switch v := c.Attributes[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// CommandGroup maps kinds to their commands. Kinds keep first-seen order
// and commands keep declaration order within a kind.
type CommandGroup struct {
	kinds *orderedmap.OrderedMap[string, []Command]
}

// NewCommandGroup returns an empty group.
func NewCommandGroup() CommandGroup {
	return CommandGroup{kinds: orderedmap.New[string, []Command]()}
}

// Add appends cmd to its kind, assigning its index within the kind.
func (g *CommandGroup) Add(cmd Command) {
	if g.kinds == nil {
		g.kinds = orderedmap.New[string, []Command]()
	}
	list, _ := g.kinds.Get(cmd.Kind)
	cmd.Index = len(list)
	g.kinds.Set(cmd.Kind, append(list, cmd))
}

// Kinds lists kinds in first-seen order.
func (g CommandGroup) Kinds() []string {
	if g.kinds == nil {
		return nil
	}
	out := make([]string, 0, g.kinds.Len())
	for pair := g.kinds.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Get returns the commands of kind in declaration order.
func (g CommandGroup) Get(kind string) []Command {
	if g.kinds == nil {
		return nil
	}
	list, _ := g.kinds.Get(kind)
	return list
}

// Len counts commands across all kinds.
func (g CommandGroup) Len() int {
	n := 0
	if g.kinds == nil {
		return 0
	}
	for pair := g.kinds.Oldest(); pair != nil; pair = pair.Next() {
		n += len(pair.Value)
	}
	return n
}

// Commands flattens the group in kind order.
func (g CommandGroup) Commands() []Command {
	var out []Command
	for _, kind := range g.Kinds() {
		out = append(out, g.Get(kind)...)
	}
	return out
}

// MarshalJSON encodes the group as {"Kind": [attributes, ...]} with kinds
// in first-seen order.
func (g CommandGroup) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kind := range g.Kinds() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(kind)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		cmds := g.Get(kind)
		attrs := make([]map[string]any, len(cmds))
		for j, c := range cmds {
			attrs[j] = c.Attributes
		}
		val, err := json.Marshal(attrs)
		if err != nil {
			return nil, fmt.Errorf("encode %s commands: %w", kind, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Extract collects the commands of step grouped by kind. Unknown kinds pass
// through unchanged.
func Extract(step Step) CommandGroup {
	g := NewCommandGroup()
	for _, n := range step.Nodes {
		if n.Type != document.NodeCommand || n.Command == nil {
			continue
		}
		attrs := make(map[string]any, len(n.Command.Attributes))
		for k, v := range n.Command.Attributes {
			attrs[k] = v
		}
		g.Add(Command{Kind: n.Command.Kind, Attributes: attrs, Step: step.Index})
	}
	return g
}

// ExtractAll extracts every step.
func ExtractAll(steps []Step) []CommandGroup {
	out := make([]CommandGroup, len(steps))
	for i, s := range steps {
		out[i] = Extract(s)
	}
	return out
}
