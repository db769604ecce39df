package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/interpreter"
)

// --- Tea messages ---

// viewMsg carries a new projection from the session.
type viewMsg struct{ view interpreter.View }

// sessionDoneMsg signals that the session returned.
type sessionDoneMsg struct{ err error }

// Model is the Bubble Tea model for an interactive recipe run. It only
// reads session views; every input goes back through confirm.
type Model struct {
	title    string
	registry *commands.Registry
	confirm  func()

	view    interpreter.View
	started bool
	spinner spinner.Model
	prose   *markdownCache
	err     error
	width   int
}

// NewModel builds a model that calls confirm on enter.
func NewModel(title string, registry *commands.Registry, confirm func()) Model {
	if registry == nil {
		registry = commands.NewRegistry()
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		title:    title,
		registry: registry,
		confirm:  confirm,
		spinner:  sp,
		prose:    &markdownCache{},
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles session views, keys and ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Confirm):
			if m.confirm != nil {
				m.confirm()
			}
		}

	case viewMsg:
		m.view = msg.view
		m.started = true

	case sessionDoneMsg:
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders served steps, the current step and the key bar.
func (m Model) View() string {
	if !m.started {
		return m.spinner.View() + " preparing recipe"
	}
	v := m.view
	var sections []string
	sections = append(sections, m.renderHeader())
	if served := renderServed(v.Summaries); served != "" {
		sections = append(sections, served)
	}

	switch v.Phase {
	case interpreter.PhaseStepActive:
		sections = append(sections, stepCurrent.Render(fmt.Sprintf("%s Step %d", GlyphCurrent, v.CurrentStep+1)))
		if strings.TrimSpace(v.Text) != "" {
			sections = append(sections, m.prose.render(v.CurrentStep, v.Text, m.width))
		}
		if len(v.Groups) > 0 {
			sections = append(sections, renderGroups(m.registry, v.Groups, m.spinner.View()))
		}
	case interpreter.PhaseDone:
		sections = append(sections, servedStyle.Render(ServedMessage))
	}
	if m.err != nil {
		sections = append(sections, errorStyle.Render("Error: "+m.err.Error()))
	}
	sections = append(sections, keyBarStyle.Render(keyBarText(v.AwaitingConfirm, v.Phase == interpreter.PhaseDone)))
	return strings.Join(sections, "\n\n") + "\n"
}

func (m Model) renderHeader() string {
	progress := fmt.Sprintf("%d/%d", min(m.view.CurrentStep, m.view.StepCount), m.view.StepCount)
	return headerStyle.Render(m.title) + " " + keyDescStyle.Render(progress)
}

// Run drives session with an interactive terminal UI until the user exits
// or the session ends. Quitting early cancels the session.
func Run(ctx context.Context, title string, session *interpreter.Session, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewModel(title, session.Registry(), session.Confirm)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	session.Subscribe(func(v interpreter.View) { p.Send(viewMsg{view: v}) })

	errCh := make(chan error, 1)
	go func() {
		err := session.Run(ctx)
		errCh <- err
		p.Send(sessionDoneMsg{err: err})
	}()

	final, err := p.Run()
	cancel()
	sessionErr := <-errCh
	if err != nil && !isCanceled(err) {
		return err
	}
	if fm, ok := final.(Model); ok && fm.err != nil && !isCanceled(fm.err) {
		return fm.err
	}
	if sessionErr != nil && !isCanceled(sessionErr) {
		return sessionErr
	}
	return nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, tea.ErrProgramKilled)
}
