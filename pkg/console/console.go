// Package console drives a recipe session without a full-screen terminal
// UI. It prints each step and command transition as a line and reads
// confirmations from a readline prompt.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/interpreter"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// ErrInputClosed is returned when a step waits for confirmation after the
// input stream ended.
var ErrInputClosed = errors.New("input closed while waiting for confirmation")

// LineReader reads prompt answers. *readline.Instance implements it.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

// Console prints session progress and answers confirmation prompts.
type Console struct {
	session  *interpreter.Session
	registry *commands.Registry
	output   io.Writer
	reader   LineReader

	mu       sync.Mutex
	view     interpreter.View
	served   int
	step     int
	states   map[string]recipe.CommandState
	prompted bool
	done     bool
	prompt   chan struct{}
}

// Option configures a Console.
type Option func(*Console)

// WithOutput sets where progress is printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Console) { c.output = w }
}

// WithReader sets the prompt reader. Defaults to a readline instance on
// stdin.
func WithReader(r LineReader) Option {
	return func(c *Console) { c.reader = r }
}

// New creates a console for session.
func New(session *interpreter.Session, opts ...Option) *Console {
	c := &Console{
		session:  session,
		registry: session.Registry(),
		output:   os.Stdout,
		step:     -1,
		states:   make(map[string]recipe.CommandState),
		prompt:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewReadline returns a readline prompt with completion for the console
// commands.
func NewReadline() (*readline.Instance, error) {
	completer := readline.NewPrefixCompleter()
	for _, cmd := range []string{"next", "status", "help", "quit"} {
		completer.Children = append(completer.Children, readline.PcItem(cmd))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "recipe> ",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	return rl, nil
}

type line struct {
	text string
	err  error
}

// Run runs the session, printing progress until it ends. A "quit" answer
// or an interrupt cancels the session and returns nil.
func (c *Console) Run(ctx context.Context) error {
	if c.reader == nil {
		rl, err := NewReadline()
		if err != nil {
			return err
		}
		c.reader = rl
	}
	defer c.reader.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.session.Subscribe(c.onView)
	errCh := make(chan error, 1)
	go func() { errCh <- c.session.Run(ctx) }()

	var (
		lines   chan line
		waiting bool
		eof     bool
	)
	for {
		select {
		case err := <-errCh:
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err

		case <-c.prompt:
			if eof {
				cancel()
				<-errCh
				return ErrInputClosed
			}
			if !waiting {
				c.reader.SetPrompt(c.buildPrompt())
				lines = c.readLine()
				waiting = true
			}

		case l := <-lines:
			waiting = false
			lines = nil
			if l.err != nil {
				if errors.Is(l.err, readline.ErrInterrupt) {
					cancel()
					<-errCh
					return nil
				}
				if !errors.Is(l.err, io.EOF) {
					cancel()
					<-errCh
					return fmt.Errorf("read confirmation: %w", l.err)
				}
				eof = true
			}
			quit, confirmed := c.handle(strings.TrimSpace(l.text), eof)
			if quit {
				cancel()
				<-errCh
				return nil
			}
			if !confirmed && c.awaiting() {
				c.signal()
			}
		}
	}
}

func (c *Console) readLine() chan line {
	ch := make(chan line, 1)
	go func() {
		text, err := c.reader.Readline()
		ch <- line{text: text, err: err}
	}()
	return ch
}

// handle runs one console command and reports whether to quit and whether
// it confirmed the current step.
func (c *Console) handle(cmd string, eof bool) (quit, confirmed bool) {
	if eof && cmd == "" {
		return false, false
	}
	switch strings.ToLower(cmd) {
	case "", "next", "n", "continue", "c":
		c.session.Confirm()
		return false, true
	case "status", "s":
		c.mu.Lock()
		c.printStatus(c.view)
		c.mu.Unlock()
	case "help", "?":
		c.printHelp()
	case "quit", "q":
		fmt.Fprintln(c.output, "Exiting.")
		return true, false
	default:
		fmt.Fprintf(c.output, "Unknown command: %q. Type 'help' for available commands.\n", cmd)
	}
	return false, false
}

func (c *Console) awaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.AwaitingConfirm
}

func (c *Console) signal() {
	select {
	case c.prompt <- struct{}{}:
	default:
	}
}

// buildPrompt creates the prompt string: recipe[step N/total]>
func (c *Console) buildPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view.Phase == interpreter.PhaseDone {
		return "recipe[done]> "
	}
	return fmt.Sprintf("recipe[%d/%d]> ", c.view.CurrentStep+1, c.view.StepCount)
}

// onView prints what changed since the previous view.
func (c *Console) onView(v interpreter.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = v

	for ; c.served < len(v.Summaries); c.served++ {
		out := fmt.Sprintf("✓ Step %d", c.served+1)
		if s := v.Summaries[c.served]; s != "" {
			out += ": " + s
		}
		fmt.Fprintln(c.output, out)
	}

	switch v.Phase {
	case interpreter.PhaseStepActive:
		if v.CurrentStep != c.step {
			c.step = v.CurrentStep
			c.states = make(map[string]recipe.CommandState)
			c.prompted = false
			c.printStep(v)
		}
		c.printTransitions(v.Groups)
		if v.AwaitingConfirm && !c.prompted {
			c.prompted = true
			fmt.Fprintln(c.output, "Press enter to continue.")
			c.signal()
		}
	case interpreter.PhaseDone:
		if !c.done {
			c.done = true
			fmt.Fprintln(c.output, "Your recipe is served!")
		}
	}
}

func (c *Console) printStep(v interpreter.View) {
	fmt.Fprintf(c.output, "\n▸ Step %d/%d\n", v.CurrentStep+1, v.StepCount)
	if text := strings.TrimSpace(v.Text); text != "" {
		for _, l := range strings.Split(text, "\n") {
			fmt.Fprintln(c.output, "  "+l)
		}
	}
}

func (c *Console) printTransitions(groups []recipe.GroupView) {
	width := c.labelWidth(groups)
	for _, g := range groups {
		for _, cmd := range g.Commands {
			if prev, ok := c.states[cmd.ID]; ok && prev == cmd.State {
				continue
			}
			c.states[cmd.ID] = cmd.State
			c.printCommand(cmd, width)
		}
	}
}

func (c *Console) printCommand(cmd recipe.CommandView, width int) {
	label := c.label(cmd)
	fmt.Fprintf(c.output, "  %s  %s\n", runewidth.FillRight(label, width), stateText(cmd.State))
	if cmd.State == recipe.StateError && cmd.Error != "" {
		fmt.Fprintf(c.output, "    %s\n", cmd.Error)
	}
}

func (c *Console) printStatus(v interpreter.View) {
	if v.Phase != interpreter.PhaseStepActive {
		fmt.Fprintf(c.output, "%s, %d/%d steps served\n", v.Phase, len(v.Summaries), v.StepCount)
		return
	}
	fmt.Fprintf(c.output, "Step %d/%d\n", v.CurrentStep+1, v.StepCount)
	width := c.labelWidth(v.Groups)
	for _, g := range v.Groups {
		fmt.Fprintln(c.output, c.registry.Heading(g))
		for _, cmd := range g.Commands {
			c.printCommand(cmd, width)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprint(c.output, `Commands:
  next, n (or enter)   confirm the current step
  status, s            show the current step's commands
  help, ?              show this help
  quit, q              stop the recipe
`)
}

func (c *Console) label(cmd recipe.CommandView) string {
	label := c.registry.LabelOf(cmd)
	if label == "" {
		return cmd.Kind
	}
	return cmd.Kind + " " + label
}

func (c *Console) labelWidth(groups []recipe.GroupView) int {
	w := 0
	for _, g := range groups {
		for _, cmd := range g.Commands {
			if lw := runewidth.StringWidth(c.label(cmd)); lw > w {
				w = lw
			}
		}
	}
	return w
}

func stateText(s recipe.CommandState) string {
	switch s {
	case recipe.StateInProgress:
		return "running"
	case recipe.StateComplete:
		return "done"
	case recipe.StateError:
		return "failed"
	case recipe.StateSkipped:
		return "skipped"
	}
	return "pending"
}
