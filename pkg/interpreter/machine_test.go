package interpreter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/document"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

func steps(nodes ...document.Node) []recipe.Step {
	return recipe.Segment(document.New(nodes...))
}

func pkgs(names ...string) map[string]any {
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	return map[string]any{"packages": list}
}

func effectTypes(effects []Effect) []EffectType {
	out := make([]EffectType, len(effects))
	for i, e := range effects {
		out[i] = e.Type
	}
	return out
}

func apply(t *testing.T, m *Machine, ev Event) []Effect {
	t.Helper()
	effects, err := m.Apply(ev)
	require.NoError(t, err)
	return effects
}

func checkInvariant(t *testing.T, m *Machine) {
	t.Helper()
	st := m.State()
	assert.Len(t, st.Summaries, st.CurrentStep)
}

func TestMachine_StepsWithoutCommandsAdvanceImmediately(t *testing.T) {
	m := NewMachine(steps(
		document.Text("one"), document.Separator(),
		document.Text("two"), document.Separator(),
		document.Text("three"),
	), nil)

	effects, err := m.Start()
	require.NoError(t, err)
	assert.Equal(t, []EffectType{EffectExitStep, EffectExitStep, EffectExitStep, EffectDone}, effectTypes(effects))
	assert.Equal(t, PhaseDone, m.Phase())
	assert.Equal(t, []string{"", "", ""}, m.State().Summaries)
	checkInvariant(t, m)
}

func TestMachine_MergedInstallCompletesOnDrain(t *testing.T) {
	m := NewMachine(steps(
		document.Text("Install the pads"),
		document.Command("InstallPackages", pkgs("left-pad")),
		document.Command("InstallPackages", pkgs("right-pad")),
	), nil)

	effects, err := m.Start()
	require.NoError(t, err)
	require.Len(t, effects, 1)
	require.Equal(t, EffectEnterStep, effects[0].Type)
	require.Len(t, effects[0].Commands, 2)
	ids := []string{effects[0].Commands[0].ID(), effects[0].Commands[1].ID()}

	for _, id := range ids {
		assert.Empty(t, apply(t, m, Event{Type: EventCommandQueued, CommandID: id}))
	}
	// A drain before anything settled belongs to an earlier busy period.
	assert.Empty(t, apply(t, m, Event{Type: EventQueueDrain}))

	for _, id := range ids {
		assert.Empty(t, apply(t, m, Event{Type: EventCommandStarted, CommandID: id}))
	}
	v := m.View()
	require.Len(t, v.Groups, 1)
	assert.Equal(t, recipe.StateInProgress, v.Groups[0].Commands[0].State)
	assert.False(t, v.AwaitingConfirm)

	for _, id := range ids {
		assert.Empty(t, apply(t, m, Event{Type: EventCommandSettled, CommandID: id}))
	}
	checkInvariant(t, m)

	effects = apply(t, m, Event{Type: EventQueueDrain})
	assert.Equal(t, []EffectType{EffectExitStep, EffectDone}, effectTypes(effects))
	assert.Equal(t, "Installed left-pad and right-pad", effects[0].Summary)
	require.NotNil(t, effects[0].View)
	assert.Equal(t, 0, effects[0].View.CurrentStep)
	assert.Empty(t, effects[0].View.Summaries)
	for _, c := range effects[0].View.Groups[0].Commands {
		assert.Equal(t, recipe.StateComplete, c.State)
	}
	assert.Equal(t, []string{"Installed left-pad and right-pad"}, m.State().Summaries)
	checkInvariant(t, m)
}

func TestMachine_ConfirmGatedStep(t *testing.T) {
	m := NewMachine(steps(
		document.Command("Config", map[string]any{"name": "blog"}),
		document.Separator(),
		document.Command("Config", map[string]any{"name": "shop"}),
	), nil)

	_, err := m.Start()
	require.NoError(t, err)
	assert.True(t, m.View().AwaitingConfirm)

	// Queue events do not complete a confirm-gated step.
	assert.Empty(t, apply(t, m, Event{Type: EventQueueDrain}))
	assert.Equal(t, 0, m.State().CurrentStep)

	effects := apply(t, m, Event{Type: EventUserConfirm, Key: "enter"})
	assert.Equal(t, []EffectType{EffectExitStep, EffectEnterStep}, effectTypes(effects))
	assert.Equal(t, "Set up plan for blog", effects[0].Summary)
	assert.Equal(t, 1, m.State().CurrentStep)
	assert.Nil(t, m.State().LastInput)
	checkInvariant(t, m)

	effects = apply(t, m, Event{Type: EventUserConfirm, Key: "enter"})
	assert.Equal(t, []EffectType{EffectExitStep, EffectDone}, effectTypes(effects))
	assert.Equal(t, []string{"Set up plan for blog", "Set up plan for shop"}, m.State().Summaries)

	effects = apply(t, m, Event{Type: EventUserConfirm, Key: "enter"})
	assert.Equal(t, []EffectType{EffectTerminate}, effectTypes(effects))
}

func TestMachine_ConfirmIgnoredOnUngatedStep(t *testing.T) {
	m := NewMachine(steps(document.Command("File", map[string]any{"path": "a.txt"})), nil)
	effects, err := m.Start()
	require.NoError(t, err)
	id := effects[0].Commands[0].ID()

	assert.Empty(t, apply(t, m, Event{Type: EventUserConfirm, Key: "enter"}))
	assert.Equal(t, 0, m.State().CurrentStep)
	require.NotNil(t, m.State().LastInput)
	assert.Equal(t, "enter", m.State().LastInput.Key)

	effects = apply(t, m, Event{Type: EventCommandSettled, CommandID: id})
	assert.Equal(t, []EffectType{EffectExitStep, EffectDone}, effectTypes(effects))
	assert.Equal(t, "Created file a.txt", effects[0].Summary)
}

func TestMachine_MixedStepNeedsConfirmAndQueue(t *testing.T) {
	m := NewMachine(steps(
		document.Command("Config", map[string]any{"name": "blog"}),
		document.Command("NPMPackage", map[string]any{"name": "react"}),
	), nil)
	effects, err := m.Start()
	require.NoError(t, err)
	var pkgID string
	for _, c := range effects[0].Commands {
		if c.Kind == "NPMPackage" {
			pkgID = c.ID()
		}
	}
	require.NotEmpty(t, pkgID)

	apply(t, m, Event{Type: EventCommandQueued, CommandID: pkgID})
	assert.Empty(t, apply(t, m, Event{Type: EventUserConfirm, Key: "enter"}))
	assert.Equal(t, 0, m.State().CurrentStep)

	assert.Empty(t, apply(t, m, Event{Type: EventCommandSettled, CommandID: pkgID}))
	effects = apply(t, m, Event{Type: EventQueueDrain})
	assert.Equal(t, []EffectType{EffectExitStep, EffectDone}, effectTypes(effects))
	assert.Equal(t, "Set up plan for blog; Installed react", effects[0].Summary)
}

func TestMachine_FailurePolicies(t *testing.T) {
	build := func(r *commands.Registry) (*Machine, string) {
		m := NewMachine(steps(
			document.Command("File", map[string]any{"path": "a.txt"}),
			document.Command("File", map[string]any{"path": "b.txt"}),
		), r)
		effects, err := m.Start()
		require.NoError(t, err)
		apply(t, m, Event{Type: EventCommandSettled, CommandID: effects[0].Commands[1].ID(), Err: errors.New("disk full")})
		return m, effects[0].Commands[0].ID()
	}

	t.Run("continue", func(t *testing.T) {
		m, id := build(commands.NewRegistry())
		effects := apply(t, m, Event{Type: EventCommandSettled, CommandID: id})
		assert.Equal(t, []EffectType{EffectExitStep, EffectDone}, effectTypes(effects))
		assert.Equal(t, "Created file a.txt", effects[0].Summary)
	})

	t.Run("block", func(t *testing.T) {
		r := commands.NewRegistry()
		r.SetPolicy("File", commands.PolicyBlock)
		m, id := build(r)
		assert.Empty(t, apply(t, m, Event{Type: EventCommandSettled, CommandID: id}))
		v := m.View()
		assert.True(t, v.AwaitingConfirm)
		assert.True(t, v.Groups[0].Failed())
		assert.Equal(t, "disk full", v.Groups[0].Commands[1].Error)

		effects := apply(t, m, Event{Type: EventUserConfirm, Key: "enter"})
		assert.Equal(t, []EffectType{EffectExitStep, EffectDone}, effectTypes(effects))
	})
}

func TestMachine_DuplicateAndForeignSettlementsIgnored(t *testing.T) {
	m := NewMachine(steps(
		document.Command("File", map[string]any{"path": "a.txt"}),
		document.Separator(),
		document.Command("File", map[string]any{"path": "b.txt"}),
	), nil)
	effects, err := m.Start()
	require.NoError(t, err)
	first := effects[0].Commands[0].ID()

	effects = apply(t, m, Event{Type: EventCommandSettled, CommandID: first})
	assert.Equal(t, []EffectType{EffectExitStep, EffectEnterStep}, effectTypes(effects))

	assert.Empty(t, apply(t, m, Event{Type: EventCommandSettled, CommandID: first}))
	assert.Empty(t, apply(t, m, Event{Type: EventCommandSettled, CommandID: "9/File/0"}))
	assert.Equal(t, 1, m.State().CurrentStep)
	assert.Equal(t, recipe.StatePending, m.View().Groups[0].Commands[0].State)
	checkInvariant(t, m)
}

func TestMachine_SkippedCommandsCountAsSettled(t *testing.T) {
	m := NewMachine(steps(document.Command("File", map[string]any{"path": "a.txt", "if": false})), nil)
	effects, err := m.Start()
	require.NoError(t, err)

	effects = apply(t, m, Event{Type: EventCommandSettled, CommandID: effects[0].Commands[0].ID(), Skipped: true})
	assert.Equal(t, []EffectType{EffectExitStep, EffectDone}, effectTypes(effects))
	assert.Equal(t, "", effects[0].Summary)
}

func TestMachine_ExplicitStepComplete(t *testing.T) {
	m := NewMachine(steps(
		document.Command("Config", map[string]any{"name": "blog"}),
		document.Separator(),
		document.Text("done"),
	), nil)
	_, err := m.Start()
	require.NoError(t, err)

	effects := apply(t, m, Event{Type: EventStepComplete, Summary: "skipped by user"})
	assert.Equal(t, []EffectType{EffectExitStep, EffectExitStep, EffectDone}, effectTypes(effects))
	assert.Equal(t, []string{"skipped by user", ""}, m.State().Summaries)

	_, err = m.Apply(Event{Type: EventStepComplete})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, []string{"skipped by user", ""}, m.State().Summaries)
}

func TestMachine_InvalidTransitions(t *testing.T) {
	m := NewMachine(steps(document.Command("Config", nil)), nil)
	_, err := m.Apply(Event{Type: EventStepComplete})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Start()
	require.NoError(t, err)
	_, err = m.Start()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Apply(Event{Type: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMachine_StateIsACopy(t *testing.T) {
	m := NewMachine(steps(document.Text("a")), nil)
	_, err := m.Start()
	require.NoError(t, err)

	st := m.State()
	st.Summaries[0] = "tampered"
	assert.Equal(t, []string{""}, m.State().Summaries)
}
