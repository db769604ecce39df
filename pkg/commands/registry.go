// Package commands knows what each recipe command kind does: how it runs,
// what gates its step, and how it is labelled in status output and previews.
package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ormasoftchile/recipe/pkg/executor"
	"github.com/ormasoftchile/recipe/pkg/queue"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// Gate says what a command's step waits for before it can advance.
type Gate int

const (
	// GateQueue commands run through the action queue; the step advances
	// once they settle and the queue drains.
	GateQueue Gate = iota
	// GateTask commands run as independent background tasks.
	GateTask
	// GateConfirm commands wait for the user to confirm.
	GateConfirm
)

func (g Gate) String() string {
	switch g {
	case GateQueue:
		return "queue"
	case GateTask:
		return "task"
	case GateConfirm:
		return "confirm"
	}
	return fmt.Sprintf("Gate(%d)", int(g))
}

// Policy decides whether a failed command holds its step.
type Policy int

const (
	// PolicyContinue lets the step advance past failures.
	PolicyContinue Policy = iota
	// PolicyBlock requires the user to acknowledge a failure before the
	// step advances.
	PolicyBlock
)

// ParsePolicy reads "continue" or "block".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "continue":
		return PolicyContinue, nil
	case "block":
		return PolicyBlock, nil
	}
	return PolicyContinue, fmt.Errorf("unknown failure policy %q", s)
}

// Env is what a handler may use while activating a command.
type Env struct {
	Root           string
	PackageManager executor.PackageManager
	HostConfig     string
	// Enqueue hands an action to the queue. The command settles with the
	// action's result.
	Enqueue func(queue.Action) error
	// Go runs task in the background. The command settles with its result.
	Go func(task func() error)
}

// Handler describes one command kind.
type Handler struct {
	Gate Gate
	// Progress heads the group while any command is unsettled.
	Progress string
	// Done heads the group once all commands completed, given their labels.
	Done func(labels []string) string
	// Label names a single command in status lines.
	Label func(cmd recipe.Command) string
	// Activate starts the command. Confirm-gated handlers may leave it nil.
	Activate func(ctx context.Context, cmd recipe.Command, env Env) error
	// Snippet renders the command as shell or config text for previews.
	Snippet func(cmd recipe.Command, env Env) string
}

// Registry maps kinds to handlers and failure policies.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
	policies map[string]Policy
}

// NewRegistry returns a registry holding the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]*Handler),
		policies: make(map[string]Policy),
	}
	registerBuiltins(r)
	return r
}

// Register adds or replaces the handler for kind.
func (r *Registry) Register(kind string, h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Known reports whether kind has a registered handler.
func (r *Registry) Known(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds lists registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}

// Lookup returns the handler for kind. Unknown kinds get a confirm-gated
// handler that only displays the kind name.
func (r *Registry) Lookup(kind string) *Handler {
	r.mu.RLock()
	h, ok := r.handlers[kind]
	r.mu.RUnlock()
	if ok {
		return h
	}
	return unknown(kind)
}

// SetPolicy sets the failure policy of kind.
func (r *Registry) SetPolicy(kind string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[kind] = p
}

// Policy returns the failure policy of kind, PolicyContinue by default.
func (r *Registry) Policy(kind string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[kind]
}

// Heading returns the status heading for a group of commands.
func (r *Registry) Heading(g recipe.GroupView) string {
	h := r.Lookup(g.Kind)
	complete := len(g.Commands) > 0
	for _, c := range g.Commands {
		if c.State != recipe.StateComplete && c.State != recipe.StateSkipped {
			complete = false
		}
	}
	if !complete || h.Done == nil {
		return h.Progress
	}
	labels := r.labels(g, recipe.StateComplete)
	if len(labels) == 0 {
		return h.Progress
	}
	return h.Done(labels)
}

// LabelOf returns the status label of a single command view.
func (r *Registry) LabelOf(v recipe.CommandView) string {
	return r.Lookup(v.Kind).label(recipe.Command{Kind: v.Kind, Attributes: v.Attributes})
}

// Summary describes what a finished step did, one clause per kind that
// completed at least one command, joined with "; ".
func (r *Registry) Summary(groups []recipe.GroupView) string {
	var parts []string
	for _, g := range groups {
		h := r.Lookup(g.Kind)
		labels := r.labels(g, recipe.StateComplete)
		if len(labels) == 0 || h.Done == nil {
			continue
		}
		parts = append(parts, h.Done(labels))
	}
	return strings.Join(parts, "; ")
}

func (r *Registry) labels(g recipe.GroupView, state recipe.CommandState) []string {
	h := r.Lookup(g.Kind)
	var out []string
	seen := map[string]bool{}
	for _, c := range g.Commands {
		if c.State != state {
			continue
		}
		l := h.label(recipe.Command{Kind: c.Kind, Attributes: c.Attributes})
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func (h *Handler) label(cmd recipe.Command) string {
	if h.Label == nil {
		return cmd.Kind
	}
	return h.Label(cmd)
}

func unknown(kind string) *Handler {
	return &Handler{
		Gate:     GateConfirm,
		Progress: kind,
		Done:     func([]string) string { return kind },
		Label:    func(recipe.Command) string { return kind },
		Snippet:  func(recipe.Command, Env) string { return "" },
	}
}

// Humanize joins items as prose: "a", "a and b", "a, b, and c".
func Humanize(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
}
