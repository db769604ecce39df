// Package interpreter drives a recipe through its steps.
//
// Machine is the pure transition function over ExecutionState: it consumes
// events (user confirmation, queue drain, command settlement, explicit step
// completion) and returns effects for the host to perform. Session wraps a
// Machine with the queue, a task pool and observers, and applies events
// from a single goroutine.
package interpreter

import (
	"errors"
	"fmt"
	"time"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// ErrInvalidTransition is returned for events that make no sense in the
// current phase, such as completing a step after the recipe is done.
var ErrInvalidTransition = errors.New("invalid transition")

// Phase is the coarse machine state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStepActive
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStepActive:
		return "step_active"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Input is the last user input seen by the machine.
type Input struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

// ExecutionState is everything the machine decides on. Summaries only grow,
// and len(Summaries) == CurrentStep at all times.
type ExecutionState struct {
	CurrentStep int      `json:"current_step"`
	Summaries   []string `json:"summaries"`
	LastInput   *Input   `json:"last_input,omitempty"`
	Paused      bool     `json:"paused"`
}

// EventType enumerates machine inputs.
type EventType string

const (
	EventStepComplete   EventType = "step_complete"
	EventUserConfirm    EventType = "user_confirm"
	EventQueueDrain     EventType = "queue_drain"
	EventCommandQueued  EventType = "command_queued"
	EventCommandStarted EventType = "command_started"
	EventCommandSettled EventType = "command_settled"
)

// Event is a machine input.
type Event struct {
	Type      EventType
	Summary   string // EventStepComplete
	Key       string // EventUserConfirm
	CommandID string // command events
	Err       error  // EventCommandSettled
	Skipped   bool   // EventCommandSettled
}

// EffectType enumerates what the host must do after a transition.
type EffectType string

const (
	// EffectEnterStep: activate Commands, then resume the queue.
	EffectEnterStep EffectType = "enter_step"
	// EffectExitStep: pause the queue and drop the step's pending actions.
	EffectExitStep EffectType = "exit_step"
	// EffectDone: every step completed.
	EffectDone EffectType = "done"
	// EffectTerminate: the host should exit.
	EffectTerminate EffectType = "terminate"
)

// Effect is a machine output.
type Effect struct {
	Type     EffectType
	Step     int
	Summary  string           // EffectExitStep
	Duration time.Duration    // EffectExitStep
	Commands []recipe.Command // EffectEnterStep
	// View is the exiting step with every command in its final state. Nil
	// for steps that had no commands.
	View *View // EffectExitStep
}

type command struct {
	cmd    recipe.Command
	gate   commands.Gate
	state  recipe.CommandState
	err    string
	hasRun bool
	queued bool
}

type step struct {
	markdown string
	groups   recipe.CommandGroup
	commands []*command
	byID     map[string]*command
	queued   bool // at least one command reached the queue
	drained  bool // a drain was observed after every queued command settled
	acked    bool // user confirmed after the last blocking failure
	started  time.Time
}

// Machine is the step execution state machine. It is not safe for
// concurrent use; Session serialises access.
type Machine struct {
	registry *commands.Registry
	steps    []*step
	state    ExecutionState
	phase    Phase
	now      func() time.Time
}

// NewMachine builds a machine over segmented steps. A nil registry means
// the built-in command kinds.
func NewMachine(steps []recipe.Step, registry *commands.Registry) *Machine {
	if registry == nil {
		registry = commands.NewRegistry()
	}
	m := &Machine{registry: registry, now: time.Now, state: ExecutionState{Summaries: []string{}}}
	for _, s := range steps {
		st := &step{
			markdown: s.Markdown(),
			groups:   recipe.Extract(s),
			byID:     make(map[string]*command),
		}
		for _, c := range st.groups.Commands() {
			cs := &command{cmd: c, gate: registry.Lookup(c.Kind).Gate, state: recipe.StatePending}
			st.commands = append(st.commands, cs)
			st.byID[c.ID()] = cs
		}
		m.steps = append(m.steps, st)
	}
	return m
}

// State returns a copy of the execution state.
func (m *Machine) State() ExecutionState {
	s := m.state
	s.Summaries = append([]string{}, m.state.Summaries...)
	if m.state.LastInput != nil {
		in := *m.state.LastInput
		s.LastInput = &in
	}
	return s
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// StepCount returns the number of steps.
func (m *Machine) StepCount() int { return len(m.steps) }

// Start leaves Idle and enters the first step.
func (m *Machine) Start() ([]Effect, error) {
	if m.phase != PhaseIdle {
		return nil, fmt.Errorf("%w: start in %s", ErrInvalidTransition, m.phase)
	}
	return m.enter(0), nil
}

// Apply performs one transition.
func (m *Machine) Apply(ev Event) ([]Effect, error) {
	switch ev.Type {
	case EventUserConfirm:
		return m.confirm(ev.Key), nil
	case EventStepComplete:
		if m.phase != PhaseStepActive {
			return nil, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev.Type, m.phase)
		}
		return m.complete(ev.Summary), nil
	}

	if m.phase != PhaseStepActive {
		// Late command and drain events after the last step are harmless.
		return nil, nil
	}
	cur := m.steps[m.state.CurrentStep]

	switch ev.Type {
	case EventQueueDrain:
		if cur.queued && cur.queueSettled() {
			cur.drained = true
		}
	case EventCommandQueued:
		if c := cur.byID[ev.CommandID]; c != nil && !c.state.Settled() {
			c.queued = true
			cur.queued = true
			cur.drained = false
		}
	case EventCommandStarted:
		if c := cur.byID[ev.CommandID]; c != nil && c.state == recipe.StatePending {
			c.state = recipe.StateInProgress
		}
	case EventCommandSettled:
		c := cur.byID[ev.CommandID]
		if c == nil || c.state.Settled() {
			// Another step's command, or a duplicate report.
			return nil, nil
		}
		switch {
		case ev.Skipped:
			c.state = recipe.StateSkipped
		case ev.Err != nil:
			c.state = recipe.StateError
			c.err = ev.Err.Error()
			if m.registry.Policy(c.cmd.Kind) == commands.PolicyBlock {
				cur.acked = false
			}
		default:
			c.state = recipe.StateComplete
		}
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev.Type)
	}

	if m.ready(cur) {
		return m.complete(m.registry.Summary(cur.views())), nil
	}
	return nil, nil
}

func (m *Machine) confirm(key string) []Effect {
	m.state.LastInput = &Input{Key: key, At: m.now()}
	switch m.phase {
	case PhaseDone:
		return []Effect{{Type: EffectTerminate, Step: m.state.CurrentStep}}
	case PhaseIdle:
		return nil
	}

	cur := m.steps[m.state.CurrentStep]
	if !m.awaitingConfirm(cur) {
		return nil
	}
	for _, c := range cur.commands {
		if c.gate == commands.GateConfirm && !c.state.Settled() {
			c.state = recipe.StateComplete
		}
	}
	if m.blockingFailure(cur) {
		cur.acked = true
	}
	if m.ready(cur) {
		return m.complete(m.registry.Summary(cur.views()))
	}
	return nil
}

// ready reports whether the current step may advance on its own.
func (m *Machine) ready(s *step) bool {
	for _, c := range s.commands {
		if !c.state.Settled() {
			return false
		}
	}
	if m.blockingFailure(s) && !s.acked {
		return false
	}
	if s.queued && !s.drained {
		return false
	}
	return true
}

func (m *Machine) awaitingConfirm(s *step) bool {
	for _, c := range s.commands {
		if c.gate == commands.GateConfirm && !c.state.Settled() {
			return true
		}
	}
	return m.blockingFailure(s) && !s.acked
}

func (m *Machine) blockingFailure(s *step) bool {
	for _, c := range s.commands {
		if c.state == recipe.StateError && m.registry.Policy(c.cmd.Kind) == commands.PolicyBlock {
			return true
		}
	}
	return false
}

func (s *step) queueSettled() bool {
	for _, c := range s.commands {
		if c.queued && !c.state.Settled() {
			return false
		}
	}
	return true
}

// complete records the summary, exits the current step and enters the next.
func (m *Machine) complete(summary string) []Effect {
	cur := m.state.CurrentStep
	final := m.View()
	m.state.Summaries = append(m.state.Summaries, summary)
	m.state.LastInput = nil
	m.state.Paused = true
	effects := []Effect{{Type: EffectExitStep, Step: cur, Summary: summary, Duration: m.now().Sub(m.steps[cur].started), View: &final}}
	return append(effects, m.enter(cur+1)...)
}

// enter makes step i current. Steps without commands complete immediately
// with an empty summary.
func (m *Machine) enter(i int) []Effect {
	var effects []Effect
	for ; i < len(m.steps); i++ {
		m.state.CurrentStep = i
		s := m.steps[i]
		if len(s.commands) > 0 {
			break
		}
		m.state.Summaries = append(m.state.Summaries, "")
		effects = append(effects, Effect{Type: EffectExitStep, Step: i})
	}
	if i >= len(m.steps) {
		m.state.CurrentStep = len(m.steps)
		m.phase = PhaseDone
		return append(effects, Effect{Type: EffectDone, Step: len(m.steps)})
	}

	m.phase = PhaseStepActive
	m.state.Paused = false
	s := m.steps[i]
	s.started = m.now()
	var activate []recipe.Command
	for _, c := range s.commands {
		if c.hasRun {
			continue
		}
		c.hasRun = true
		activate = append(activate, c.cmd)
	}
	return append(effects, Effect{Type: EffectEnterStep, Step: i, Commands: activate})
}

func (s *step) views() []recipe.GroupView {
	var out []recipe.GroupView
	for _, kind := range s.groups.Kinds() {
		g := recipe.GroupView{Kind: kind}
		for _, c := range s.groups.Get(kind) {
			cs := s.byID[c.ID()]
			g.Commands = append(g.Commands, recipe.CommandView{
				ID:         c.ID(),
				Kind:       c.Kind,
				Attributes: c.Attributes,
				State:      cs.state,
				Error:      cs.err,
			})
		}
		out = append(out, g)
	}
	return out
}

// View is the read-only projection handed to renderers.
type View struct {
	Phase           Phase              `json:"phase"`
	CurrentStep     int                `json:"current_step"`
	StepCount       int                `json:"step_count"`
	Summaries       []string           `json:"summaries"`
	Text            string             `json:"text,omitempty"`
	Groups          []recipe.GroupView `json:"groups,omitempty"`
	AwaitingConfirm bool               `json:"awaiting_confirm"`
	LastInput       *Input             `json:"last_input,omitempty"`
	Paused          bool               `json:"paused"`
}

// View projects the current state.
func (m *Machine) View() View {
	st := m.State()
	v := View{
		Phase:       m.phase,
		CurrentStep: st.CurrentStep,
		StepCount:   len(m.steps),
		Summaries:   st.Summaries,
		LastInput:   st.LastInput,
		Paused:      st.Paused,
	}
	if m.phase == PhaseStepActive {
		cur := m.steps[st.CurrentStep]
		v.Text = cur.markdown
		v.Groups = cur.views()
		v.AwaitingConfirm = m.awaitingConfirm(cur)
	}
	return v
}

// Command returns the command with id in the current step.
func (m *Machine) Command(id string) (recipe.Command, bool) {
	if m.phase != PhaseStepActive {
		return recipe.Command{}, false
	}
	c := m.steps[m.state.CurrentStep].byID[id]
	if c == nil {
		return recipe.Command{}, false
	}
	return c.cmd, true
}
