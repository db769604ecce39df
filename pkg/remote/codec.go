// Package remote hands a recipe's commands to an out-of-process executor and
// follows its progress.
//
// The outbound payload is the per-step command list serialised once as
// [{"Kind": [attributes, ...]}, ...]. The executor streams back operations
// whose data is the same list with every command annotated with a state
// (pending, complete or error).
package remote

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// Operation states that end a remote run.
const (
	StateSuccess = "SUCCESS"
	StateError   = "ERROR"
)

// Attribute keys the executor adds to each command.
const (
	stateAttr = "state"
	errorAttr = "error"
)

// Operation is one progress update from the executor. Data carries the
// annotated command list as a JSON string.
type Operation struct {
	State string `json:"state"`
	Data  string `json:"data"`
}

// Progress is a decoded Operation.
type Progress struct {
	State string               `json:"state"`
	Steps [][]recipe.GroupView `json:"steps"`
}

// Done reports whether the executor finished, successfully or not.
func (p *Progress) Done() bool {
	return p.State == StateSuccess || p.State == StateError
}

// Succeeded reports whether the executor finished successfully.
func (p *Progress) Succeeded() bool { return p.State == StateSuccess }

// EncodeCommands serialises per-step command groups for submission.
func EncodeCommands(groups []recipe.CommandGroup) (string, error) {
	if groups == nil {
		groups = []recipe.CommandGroup{}
	}
	data, err := json.Marshal(groups)
	if err != nil {
		return "", fmt.Errorf("encode commands: %w", err)
	}
	return string(data), nil
}

// Initial is the progress shown before the executor reports anything: every
// command pending.
func Initial(groups []recipe.CommandGroup) *Progress {
	p := &Progress{Steps: make([][]recipe.GroupView, len(groups))}
	for i, g := range groups {
		for _, kind := range g.Kinds() {
			gv := recipe.GroupView{Kind: kind}
			for _, c := range g.Get(kind) {
				gv.Commands = append(gv.Commands, recipe.CommandView{
					ID:         c.ID(),
					Kind:       kind,
					Attributes: c.Attributes,
					State:      recipe.StatePending,
				})
			}
			p.Steps[i] = append(p.Steps[i], gv)
		}
	}
	return p
}

// DecodeOperation decodes an executor update. Kinds keep the order the
// executor sent them in. An operation without data decodes to a Progress
// with no steps.
func DecodeOperation(op Operation) (*Progress, error) {
	p := &Progress{State: op.State}
	if op.Data == "" {
		return p, nil
	}

	var raw []*orderedmap.OrderedMap[string, []map[string]any]
	if err := json.Unmarshal([]byte(op.Data), &raw); err != nil {
		return nil, fmt.Errorf("decode operation data: %w", err)
	}
	p.Steps = make([][]recipe.GroupView, len(raw))
	for i, step := range raw {
		if step == nil {
			continue
		}
		for pair := step.Oldest(); pair != nil; pair = pair.Next() {
			gv := recipe.GroupView{Kind: pair.Key}
			for j, attrs := range pair.Value {
				gv.Commands = append(gv.Commands, decodeCommand(i, pair.Key, j, attrs))
			}
			p.Steps[i] = append(p.Steps[i], gv)
		}
	}
	return p, nil
}

func decodeCommand(step int, kind string, index int, attrs map[string]any) recipe.CommandView {
	v := recipe.CommandView{
		ID:         recipe.Command{Kind: kind, Step: step, Index: index}.ID(),
		Kind:       kind,
		Attributes: make(map[string]any, len(attrs)),
		State:      recipe.StatePending,
	}
	for k, val := range attrs {
		switch k {
		case stateAttr:
			s, _ := val.(string)
			v.State = parseState(s)
		case errorAttr:
			v.Error = fmt.Sprint(val)
		default:
			v.Attributes[k] = val
		}
	}
	return v
}

func parseState(s string) recipe.CommandState {
	switch recipe.CommandState(s) {
	case recipe.StateComplete, recipe.StateError, recipe.StateInProgress, recipe.StateSkipped:
		return recipe.CommandState(s)
	}
	return recipe.StatePending
}
