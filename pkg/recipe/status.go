package recipe

// CommandState is the lifecycle of a command as shown to the user.
type CommandState string

const (
	StatePending    CommandState = "pending"
	StateInProgress CommandState = "in_progress"
	StateComplete   CommandState = "complete"
	StateError      CommandState = "error"
	StateSkipped    CommandState = "skipped"
)

// Settled reports whether the state is terminal.
func (s CommandState) Settled() bool {
	return s == StateComplete || s == StateError || s == StateSkipped
}

// CommandView is the read-only projection of one command.
type CommandView struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Attributes map[string]any `json:"attributes,omitempty"`
	State      CommandState   `json:"state"`
	Error      string         `json:"error,omitempty"`
}

// GroupView is the projection of all commands of one kind in a step.
type GroupView struct {
	Kind     string        `json:"kind"`
	Commands []CommandView `json:"commands"`
}

// Settled reports whether every command in the group is terminal.
func (g GroupView) Settled() bool {
	for _, c := range g.Commands {
		if !c.State.Settled() {
			return false
		}
	}
	return true
}

// Failed reports whether any command in the group errored.
func (g GroupView) Failed() bool {
	for _, c := range g.Commands {
		if c.State == StateError {
			return true
		}
	}
	return false
}
