package interpreter

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"

	"github.com/alitto/pond/v2"
	"go.uber.org/atomic"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/queue"
	"github.com/ormasoftchile/recipe/pkg/recipe"
	"github.com/ormasoftchile/recipe/pkg/trace"
)

const defaultWorkers = 4

// Session runs a recipe: it owns the machine, feeds it events from the
// queue, background tasks and the user, and publishes a View after every
// batch of transitions.
type Session struct {
	name     string
	machine  *Machine
	registry *commands.Registry
	queue    *queue.Queue
	env      commands.Env
	workers  int
	autoExit bool
	logger   *slog.Logger
	trace    *trace.Writer

	mu     sync.Mutex
	events []Event
	subs   []func(View)
	wake   chan struct{}

	// last view handed to subscribers; session goroutine only
	last      View
	published bool
}

// Option configures a Session.
type Option func(*Session)

// WithRegistry sets the command registry.
func WithRegistry(r *commands.Registry) Option {
	return func(s *Session) { s.registry = r }
}

// WithQueue sets the action queue. Its action kinds must already be
// registered (see commands.RegisterActions).
func WithQueue(q *queue.Queue) Option {
	return func(s *Session) { s.queue = q }
}

// WithEnv sets the project settings handed to command handlers.
func WithEnv(env commands.Env) Option {
	return func(s *Session) { s.env = env }
}

// WithWorkers sets the size of the background task pool.
func WithWorkers(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithAutoExit makes Run return as soon as the last step completes instead
// of waiting for a final confirmation.
func WithAutoExit(v bool) Option {
	return func(s *Session) { s.autoExit = v }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithName sets the recipe name recorded in traces and logs.
func WithName(name string) Option {
	return func(s *Session) { s.name = name }
}

// WithTrace records transitions to a trace writer.
func WithTrace(w *trace.Writer) Option {
	return func(s *Session) { s.trace = w }
}

// NewSession prepares a run over steps.
func NewSession(steps []recipe.Step, opts ...Option) *Session {
	s := &Session{
		workers: defaultWorkers,
		logger:  slog.New(slog.DiscardHandler),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = commands.NewRegistry()
	}
	if s.queue == nil {
		s.queue = queue.New(queue.WithLogger(s.logger))
	}
	s.machine = NewMachine(steps, s.registry)
	return s
}

// Registry returns the command registry used by the session.
func (s *Session) Registry() *commands.Registry { return s.registry }

// Subscribe registers fn to receive a View after every change, including
// the final state of each step's commands before the step is left. fn runs
// on the session goroutine and must not block.
func (s *Session) Subscribe(fn func(View)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Confirm reports a confirmation keypress.
func (s *Session) Confirm() {
	s.post(Event{Type: EventUserConfirm, Key: "enter"})
}

// CompleteStep completes the current step with summary regardless of its
// commands.
func (s *Session) CompleteStep(summary string) {
	s.post(Event{Type: EventStepComplete, Summary: summary})
}

// Run drives the recipe until it terminates or ctx is done. Without
// WithAutoExit, termination is the confirmation given after the last step.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := pond.NewPool(s.workers, pond.WithContext(ctx))
	defer pool.StopAndWait()

	s.queue.OnDrain(func() { s.post(Event{Type: EventQueueDrain}) })
	s.queue.Start(ctx)
	defer s.queue.Close()

	s.logger.Info("recipe start", "recipe", s.name, "steps", s.machine.StepCount())
	if s.trace != nil {
		_ = s.trace.EmitRunStart(s.name, s.machine.StepCount())
	}

	effects, err := s.machine.Start()
	if err != nil {
		return err
	}
	if s.perform(ctx, pool, effects) {
		s.publish()
		return nil
	}
	s.publish()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
		for _, ev := range s.take() {
			s.record(ev)
			effects, err := s.machine.Apply(ev)
			if err != nil {
				s.logger.Debug("event ignored", "event", ev.Type, "error", err)
				continue
			}
			done := s.perform(ctx, pool, effects)
			s.publish()
			if done {
				return nil
			}
		}
	}
}

// View returns the current projection. It is only safe to call from a
// subscriber or after Run returned.
func (s *Session) View() View { return s.machine.View() }

func (s *Session) post(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) take() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events
	s.events = nil
	return evs
}

func (s *Session) publish() {
	s.publishView(s.machine.View())
}

// publishView hands v to subscribers unless it equals the last view sent.
func (s *Session) publishView(v View) {
	if s.published && reflect.DeepEqual(v, s.last) {
		return
	}
	s.last = v
	s.published = true
	s.mu.Lock()
	subs := append([]func(View){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
}

// perform carries out effects and reports whether the run should end.
func (s *Session) perform(ctx context.Context, pool pond.Pool, effects []Effect) bool {
	for _, e := range effects {
		switch e.Type {
		case EffectExitStep:
			if e.View != nil {
				s.publishView(*e.View)
			}
			s.queue.Pause()
			if n := s.queue.Cancel(e.Step); n > 0 {
				s.logger.Debug("dropped pending actions", "step", e.Step, "count", n)
			}
			stepsCompleted.Inc()
			s.logger.Info("step complete", "step", e.Step, "summary", e.Summary)
			if s.trace != nil {
				_ = s.trace.EmitStepComplete(e.Step, e.Summary, e.Duration)
			}
		case EffectEnterStep:
			ids := make([]string, len(e.Commands))
			for i, c := range e.Commands {
				ids[i] = c.ID()
			}
			s.logger.Info("step start", "step", e.Step, "commands", ids)
			if s.trace != nil {
				_ = s.trace.EmitStepStart(e.Step, ids)
			}
			for _, c := range e.Commands {
				s.activate(ctx, pool, c)
			}
			s.queue.Resume()
		case EffectDone:
			s.logger.Info("recipe complete", "steps", e.Step)
			if s.trace != nil {
				_ = s.trace.EmitRunComplete("done", s.machine.State().Summaries)
			}
			if s.autoExit {
				return true
			}
		case EffectTerminate:
			return true
		}
	}
	return false
}

func (s *Session) activate(ctx context.Context, pool pond.Pool, c recipe.Command) {
	id := c.ID()
	once := atomic.NewBool(false)
	settle := func(err error) {
		if !once.CompareAndSwap(false, true) {
			return
		}
		s.post(Event{Type: EventCommandSettled, CommandID: id, Err: err})
	}
	started := func() { s.post(Event{Type: EventCommandStarted, CommandID: id}) }

	run, err := commands.Condition(c)
	if err != nil {
		settle(err)
		return
	}
	if !run {
		once.Store(true)
		s.post(Event{Type: EventCommandSettled, CommandID: id, Skipped: true})
		return
	}

	h := s.registry.Lookup(c.Kind)
	if h.Activate == nil {
		return
	}
	env := s.env
	env.Enqueue = func(a queue.Action) error {
		a.OnStart = started
		a.OnDone = settle
		if _, err := s.queue.Enqueue(a); err != nil {
			return err
		}
		s.post(Event{Type: EventCommandQueued, CommandID: id})
		return nil
	}
	env.Go = func(task func() error) {
		err := pool.Go(func() {
			started()
			settle(task())
		})
		if err != nil {
			settle(err)
		}
	}
	if err := h.Activate(ctx, c, env); err != nil {
		settle(err)
	}
}

func (s *Session) record(ev Event) {
	switch ev.Type {
	case EventCommandSettled:
		state := recipe.StateComplete
		msg := ""
		switch {
		case ev.Skipped:
			state = recipe.StateSkipped
		case errors.Is(ev.Err, queue.ErrCanceled), errors.Is(ev.Err, queue.ErrClosed):
			return
		case ev.Err != nil:
			state = recipe.StateError
			msg = ev.Err.Error()
			s.logger.Warn("command failed", "command", ev.CommandID, "error", ev.Err)
		}
		kind := "unknown"
		if c, ok := s.machine.Command(ev.CommandID); ok {
			kind = c.Kind
		}
		commandsSettled.WithLabelValues(kind, string(state)).Inc()
		if s.trace != nil {
			_ = s.trace.EmitCommandSettled(s.machine.State().CurrentStep, ev.CommandID, string(state), msg)
		}
	case EventUserConfirm:
		if s.trace != nil {
			_ = s.trace.EmitUserConfirm(s.machine.State().CurrentStep, ev.Key)
		}
	}
}
