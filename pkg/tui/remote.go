package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/recipe"
	"github.com/ormasoftchile/recipe/pkg/remote"
)

// progressMsg carries a decoded executor update.
type progressMsg struct{ progress *remote.Progress }

// followDoneMsg signals that following the executor stopped.
type followDoneMsg struct{ err error }

// RemoteModel renders the progress reported by a remote executor. Enter
// exits once the executor reported SUCCESS or ERROR, or following failed.
type RemoteModel struct {
	title    string
	registry *commands.Registry
	progress *remote.Progress
	spinner  spinner.Model
	err      error
}

// NewRemoteModel builds a remote model starting from the all-pending view
// of groups.
func NewRemoteModel(title string, registry *commands.Registry, groups []recipe.CommandGroup) RemoteModel {
	if registry == nil {
		registry = commands.NewRegistry()
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return RemoteModel{
		title:    title,
		registry: registry,
		progress: remote.Initial(groups),
		spinner:  sp,
	}
}

// Init starts the spinner.
func (m RemoteModel) Init() tea.Cmd { return m.spinner.Tick }

// Update handles progress updates, keys and ticks.
func (m RemoteModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Confirm):
			if m.finished() {
				return m, tea.Quit
			}
		}
	case progressMsg:
		m.progress = msg.progress
	case followDoneMsg:
		m.err = msg.err
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders every step's status blocks.
func (m RemoteModel) View() string {
	sections := []string{headerStyle.Render(m.title) + " " + keyDescStyle.Render(m.stateLabel())}
	for i, step := range m.progress.Steps {
		if len(step) == 0 {
			continue
		}
		sections = append(sections,
			stepCurrent.Render(fmt.Sprintf("Step %d", i+1))+"\n"+renderGroups(m.registry, step, m.spinner.View()))
	}
	switch {
	case m.err != nil:
		sections = append(sections, errorStyle.Render("Error: "+m.err.Error()))
	case m.progress.Succeeded():
		sections = append(sections, servedStyle.Render(ServedMessage))
	case m.progress.Done():
		sections = append(sections, errorStyle.Render("The executor reported an error."))
	}
	sections = append(sections, keyBarStyle.Render(keyBarText(false, m.finished())))
	return strings.Join(sections, "\n\n") + "\n"
}

func (m RemoteModel) finished() bool { return m.progress.Done() || m.err != nil }

func (m RemoteModel) stateLabel() string {
	if m.progress.State == "" {
		return "submitting"
	}
	return strings.ToLower(m.progress.State)
}

// RunRemote submits groups through t and renders progress until the user
// exits.
func RunRemote(ctx context.Context, title string, registry *commands.Registry, t remote.Transport, groups []recipe.CommandGroup, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewRemoteModel(title, registry, groups)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)

	errCh := make(chan error, 1)
	go func() {
		_, err := remote.Follow(ctx, t, groups, func(pr *remote.Progress) { p.Send(progressMsg{progress: pr}) })
		errCh <- err
		p.Send(followDoneMsg{err: err})
	}()

	_, err := p.Run()
	cancel()
	followErr := <-errCh
	if err != nil && !isCanceled(err) {
		return err
	}
	if followErr != nil && !isCanceled(followErr) {
		return followErr
	}
	return nil
}
