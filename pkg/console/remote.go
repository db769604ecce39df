package console

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/recipe"
	"github.com/ormasoftchile/recipe/pkg/remote"
)

// ErrRemoteFailed is returned when the remote executor finished with ERROR.
var ErrRemoteFailed = errors.New("the executor reported an error")

// FollowRemote submits groups through t and prints every command transition
// the executor reports as a line on w, until it reports SUCCESS or ERROR.
func FollowRemote(ctx context.Context, w io.Writer, registry *commands.Registry, t remote.Transport, groups []recipe.CommandGroup) error {
	if registry == nil {
		registry = commands.NewRegistry()
	}
	c := &Console{
		registry: registry,
		output:   w,
		step:     -1,
		states:   make(map[string]recipe.CommandState),
	}
	p, err := remote.Follow(ctx, t, groups, func(p *remote.Progress) {
		for i, step := range p.Steps {
			if !c.changed(step) {
				continue
			}
			if c.step != i {
				c.step = i
				fmt.Fprintf(w, "\n▸ Step %d/%d\n", i+1, len(p.Steps))
			}
			c.printTransitions(step)
		}
	})
	if err != nil {
		return err
	}
	if !p.Succeeded() {
		return ErrRemoteFailed
	}
	fmt.Fprintln(w, "Your recipe is served!")
	return nil
}

func (c *Console) changed(groups []recipe.GroupView) bool {
	for _, g := range groups {
		for _, cmd := range g.Commands {
			if prev, ok := c.states[cmd.ID]; !ok || prev != cmd.State {
				return true
			}
		}
	}
	return false
}
