package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/interpreter"
	"github.com/ormasoftchile/recipe/pkg/recipe"
	"github.com/ormasoftchile/recipe/pkg/remote"
)

var (
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	quit  = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}
)

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func update(t *testing.T, m tea.Model, msg tea.Msg) (tea.Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	require.NotNil(t, next)
	return next, cmd
}

func installView(states ...recipe.CommandState) interpreter.View {
	g := recipe.GroupView{Kind: "InstallPackages"}
	for i, s := range states {
		g.Commands = append(g.Commands, recipe.CommandView{
			ID:         "1/InstallPackages/" + string(rune('0'+i)),
			Kind:       "InstallPackages",
			Attributes: map[string]any{"packages": []any{[]string{"left-pad", "right-pad"}[i]}},
			State:      s,
		})
	}
	return interpreter.View{
		Phase:       interpreter.PhaseStepActive,
		CurrentStep: 1,
		StepCount:   2,
		Summaries:   []string{"Set up plan for pads"},
		Groups:      []recipe.GroupView{g},
	}
}

func TestModel_RendersCurrentStep(t *testing.T) {
	var m tea.Model = NewModel("pads.md", nil, nil)
	assert.Contains(t, m.View(), "preparing recipe")

	m, _ = update(t, m, viewMsg{view: installView(recipe.StateInProgress, recipe.StatePending)})
	out := m.View()
	assert.Contains(t, out, "Step 1: Set up plan for pads")
	assert.Contains(t, out, "Step 2")
	assert.Contains(t, out, "Installing packages")
	assert.Contains(t, out, "left-pad")
	assert.Contains(t, out, "right-pad")
	assert.NotContains(t, out, ServedMessage)

	m, _ = update(t, m, viewMsg{view: installView(recipe.StateComplete, recipe.StateComplete)})
	assert.Contains(t, m.View(), "Installed left-pad and right-pad")
}

func TestModel_InlineErrors(t *testing.T) {
	v := installView(recipe.StateComplete, recipe.StateError)
	v.Groups[0].Commands[1].Error = "exit status 1: network down"
	m, _ := update(t, NewModel("pads.md", nil, nil), viewMsg{view: v})
	out := m.View()
	assert.Contains(t, out, GlyphFailed)
	assert.Contains(t, out, "network down")
}

func TestModel_EnterConfirms(t *testing.T) {
	confirms := 0
	m := NewModel("pads.md", commands.NewRegistry(), func() { confirms++ })
	v := installView(recipe.StatePending)
	v.AwaitingConfirm = true
	next, _ := update(t, m, viewMsg{view: v})
	assert.Contains(t, next.View(), "continue")

	next, cmd := update(t, next, enter)
	assert.Equal(t, 1, confirms)
	assert.False(t, isQuit(cmd))

	_, cmd = update(t, next, quit)
	assert.True(t, isQuit(cmd))
}

func TestModel_Done(t *testing.T) {
	m, _ := update(t, NewModel("pads.md", nil, nil), viewMsg{view: interpreter.View{
		Phase:       interpreter.PhaseDone,
		CurrentStep: 2,
		StepCount:   2,
		Summaries:   []string{"", "Installed left-pad"},
	}})
	out := m.View()
	assert.Contains(t, out, ServedMessage)
	assert.Contains(t, out, "Step 1")
	assert.Contains(t, out, "Step 2: Installed left-pad")

	_, cmd := update(t, m, sessionDoneMsg{err: errors.New("boom")})
	assert.True(t, isQuit(cmd))
}

func TestRemoteModel(t *testing.T) {
	g := recipe.NewCommandGroup()
	g.Add(recipe.Command{Kind: "NPMPackage", Attributes: map[string]any{"name": "left-pad"}})
	var m tea.Model = NewRemoteModel("remote", nil, []recipe.CommandGroup{g})
	assert.Contains(t, m.View(), "submitting")
	assert.Contains(t, m.View(), "Installing packages")

	// Enter does nothing until the executor succeeded.
	_, cmd := update(t, m, enter)
	assert.False(t, isQuit(cmd))

	p, err := remote.DecodeOperation(remote.Operation{
		State: remote.StateSuccess,
		Data:  `[{"NPMPackage":[{"name":"left-pad","state":"complete"}]}]`,
	})
	require.NoError(t, err)
	m, _ = update(t, m, progressMsg{progress: p})
	out := m.View()
	assert.Contains(t, out, "Installed left-pad")
	assert.Contains(t, out, ServedMessage)

	_, cmd = update(t, m, enter)
	assert.True(t, isQuit(cmd))
}

func TestRemoteModel_EnterExitsAfterError(t *testing.T) {
	g := recipe.NewCommandGroup()
	g.Add(recipe.Command{Kind: "NPMPackage", Attributes: map[string]any{"name": "left-pad"}})
	var m tea.Model = NewRemoteModel("remote", nil, []recipe.CommandGroup{g})

	p, err := remote.DecodeOperation(remote.Operation{
		State: remote.StateError,
		Data:  `[{"NPMPackage":[{"name":"left-pad","state":"error","error":"registry unreachable"}]}]`,
	})
	require.NoError(t, err)
	m, _ = update(t, m, progressMsg{progress: p})
	out := m.View()
	assert.Contains(t, out, "The executor reported an error.")
	assert.Contains(t, out, "exit")

	_, cmd := update(t, m, enter)
	assert.True(t, isQuit(cmd))
}

func TestRenderGroup_SkippedOnly(t *testing.T) {
	g := recipe.GroupView{Kind: "File", Commands: []recipe.CommandView{{Kind: "File", State: recipe.StateSkipped, Attributes: map[string]any{"path": "a"}}}}
	out := renderGroup(commands.NewRegistry(), g, "*")
	assert.Contains(t, out, GlyphSkipped)
}
