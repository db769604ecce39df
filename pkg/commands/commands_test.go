package commands

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/recipe/pkg/executor"
	"github.com/ormasoftchile/recipe/pkg/hostconfig"
	"github.com/ormasoftchile/recipe/pkg/queue"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

func TestHumanize(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a and b"},
		{[]string{"a", "b", "c"}, "a, b, and c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Humanize(tt.in))
	}
}

func TestRegistry_UnknownKindFallsBack(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Known("Mystery"))

	h := r.Lookup("Mystery")
	assert.Equal(t, GateConfirm, h.Gate)
	assert.Equal(t, "Mystery", h.Progress)
	assert.Equal(t, "Mystery", r.Heading(recipe.GroupView{Kind: "Mystery", Commands: []recipe.CommandView{{Kind: "Mystery", State: recipe.StatePending}}}))
}

func TestRegistry_AliasesShareHandlers(t *testing.T) {
	r := NewRegistry()
	assert.Same(t, r.Lookup("InstallPackages"), r.Lookup("NPMPackage"))
	assert.Same(t, r.Lookup("File"), r.Lookup("WriteFile"))
	assert.Same(t, r.Lookup("GatsbyPlugin"), r.Lookup("InstallGatsbyPlugin"))
	assert.Equal(t, GateConfirm, r.Lookup("Config").Gate)
	assert.Equal(t, GateTask, r.Lookup("ShadowFile").Gate)
}

func view(kind string, state recipe.CommandState, attrs map[string]any) recipe.CommandView {
	return recipe.CommandView{Kind: kind, State: state, Attributes: attrs}
}

func TestRegistry_HeadingAndSummary(t *testing.T) {
	r := NewRegistry()
	install := recipe.GroupView{Kind: "InstallPackages", Commands: []recipe.CommandView{
		view("InstallPackages", recipe.StateComplete, map[string]any{"packages": []any{"left-pad"}}),
		view("InstallPackages", recipe.StateInProgress, map[string]any{"packages": []any{"right-pad"}}),
	}}
	assert.Equal(t, "Installing packages", r.Heading(install))

	install.Commands[1].State = recipe.StateComplete
	assert.Equal(t, "Installed left-pad and right-pad", r.Heading(install))

	files := recipe.GroupView{Kind: "File", Commands: []recipe.CommandView{
		view("File", recipe.StateComplete, map[string]any{"path": "a.js"}),
		view("File", recipe.StateError, map[string]any{"path": "b.js"}),
	}}
	assert.Equal(t, "Writing files", r.Heading(files))
	assert.Equal(t, "Installed left-pad and right-pad; Created file a.js", r.Summary([]recipe.GroupView{install, files}))
}

func TestRegistry_Policy(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, PolicyContinue, r.Policy("File"))
	r.SetPolicy("File", PolicyBlock)
	assert.Equal(t, PolicyBlock, r.Policy("File"))

	p, err := ParsePolicy("BLOCK")
	require.NoError(t, err)
	assert.Equal(t, PolicyBlock, p)
	_, err = ParsePolicy("retry")
	assert.Error(t, err)
}

func TestSnippets(t *testing.T) {
	r := NewRegistry()
	env := Env{PackageManager: executor.NPM, HostConfig: "/site/site.yaml"}

	cmd := recipe.Command{Kind: "InstallPackages", Attributes: map[string]any{"packages": []any{"a", "b"}}}
	assert.Equal(t, "npm install a b", r.Lookup(cmd.Kind).Snippet(cmd, env))

	cmd = recipe.Command{Kind: "Config", Attributes: map[string]any{"name": "blog"}}
	assert.Equal(t, "gatsby recipe blog", r.Lookup(cmd.Kind).Snippet(cmd, env))

	cmd = recipe.Command{Kind: "GatsbyPlugin", Attributes: map[string]any{"name": "gatsby-plugin-sharp"}}
	assert.Contains(t, r.Lookup(cmd.Kind).Snippet(cmd, env), "# site.yaml")
	assert.Contains(t, r.Lookup(cmd.Kind).Snippet(cmd, env), "+ - gatsby-plugin-sharp")
}

func TestActivate_InstallEnqueuesAction(t *testing.T) {
	r := NewRegistry()
	var got []queue.Action
	env := Env{Enqueue: func(a queue.Action) error { got = append(got, a); return nil }}

	cmd := recipe.Command{Kind: "NPMPackage", Step: 3, Attributes: map[string]any{"name": "react", "version": "18"}}
	require.NoError(t, r.Lookup(cmd.Kind).Activate(context.Background(), cmd, env))
	require.Len(t, got, 1)
	assert.Equal(t, ActionInstall, got[0].Kind)
	assert.Equal(t, 3, got[0].Step)
	assert.Equal(t, []string{"react@18"}, got[0].Names())

	err := r.Lookup("InstallPackages").Activate(context.Background(), recipe.Command{Kind: "InstallPackages"}, env)
	assert.Error(t, err)
}

func TestActivate_FileRunsAsTask(t *testing.T) {
	r := NewRegistry()
	root := t.TempDir()
	var tasks []func() error
	env := Env{Root: root, Go: func(task func() error) { tasks = append(tasks, task) }}

	cmd := recipe.Command{Kind: "File", Attributes: map[string]any{"path": "src/a.txt", "children": "body"}}
	require.NoError(t, r.Lookup(cmd.Kind).Activate(context.Background(), cmd, env))
	require.Len(t, tasks, 1)
	require.NoError(t, tasks[0]())

	data, err := os.ReadFile(filepath.Join(root, "src", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))
}

func TestRegisterActions_MergedInstallRunsOnce(t *testing.T) {
	dry := &executor.DryRunExecutor{}
	q := queue.New(queue.WithLogger(slogt.New(t)))
	RegisterActions(q, Deps{Executor: dry, PackageManager: executor.Yarn, Root: t.TempDir(), Logger: slogt.New(t)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Close()

	drained := make(chan struct{}, 1)
	q.OnDrain(func() { drained <- struct{}{} })

	r := NewRegistry()
	env := Env{Enqueue: func(a queue.Action) error { _, err := q.Enqueue(a); return err }}
	for _, pkg := range []string{"left-pad", "right-pad"} {
		cmd := recipe.Command{Kind: "InstallPackages", Attributes: map[string]any{"packages": []any{pkg}}}
		require.NoError(t, r.Lookup(cmd.Kind).Activate(ctx, cmd, env))
	}
	q.Resume()

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}
	calls := dry.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "yarn add -W left-pad right-pad", calls[0].String())
}

func TestRegisterActions_PluginsAndScripts(t *testing.T) {
	root := t.TempDir()
	cfg := filepath.Join(root, "site.yaml")
	q := queue.New()
	RegisterActions(q, Deps{Executor: &executor.DryRunExecutor{}, Root: root, HostConfig: hostconfig.File{Path: cfg}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Close()
	drained := make(chan struct{}, 1)
	q.OnDrain(func() { drained <- struct{}{} })

	r := NewRegistry()
	env := Env{Enqueue: func(a queue.Action) error { _, err := q.Enqueue(a); return err }}
	for _, cmd := range []recipe.Command{
		{Kind: "GatsbyPlugin", Attributes: map[string]any{"name": "gatsby-plugin-a"}},
		{Kind: "InstallGatsbyPlugin", Attributes: map[string]any{"name": "gatsby-plugin-b"}},
		{Kind: "NPMScript", Attributes: map[string]any{"name": "dev", "command": "gatsby develop"}},
	} {
		require.NoError(t, r.Lookup(cmd.Kind).Activate(ctx, cmd, env))
	}
	assert.Equal(t, 2, q.Stats().Pending)
	q.Resume()
	<-drained

	names, err := hostconfig.Plugins(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"gatsby-plugin-a", "gatsby-plugin-b"}, names)

	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"scripts": {"dev": "gatsby develop"}}`, string(data))
}

func TestCondition(t *testing.T) {
	t.Setenv("RECIPE_TEST_FLAG", "on")
	tests := []struct {
		name string
		attr any
		want bool
		err  bool
	}{
		{"absent", nil, true, false},
		{"bool", false, false, false},
		{"os", "os == '" + runtime.GOOS + "'", true, false},
		{"env", "env.RECIPE_TEST_FLAG == 'on'", true, false},
		{"negated", "arch != '" + runtime.GOARCH + "'", false, false},
		{"not bool", "1 + 1", false, true},
		{"wrong type", 3, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := recipe.Command{Attributes: map[string]any{}}
			if tt.attr != nil {
				cmd.Attributes[ConditionAttr] = tt.attr
			}
			got, err := Condition(cmd)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
