package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ormasoftchile/recipe/pkg/document"
	"github.com/ormasoftchile/recipe/pkg/fileops"
	"github.com/ormasoftchile/recipe/pkg/queue"
	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// Action kinds run through the queue.
const (
	ActionInstall = "install"
	ActionPlugin  = "plugin"
	ActionScript  = "script"
)

// Plugin payload entries carry one of these values.
const (
	pluginAdd    = "add"
	pluginRemove = "remove"
)

func registerBuiltins(r *Registry) {
	install := &Handler{
		Gate:     GateQueue,
		Progress: "Installing packages",
		Done:     func(l []string) string { return "Installed " + Humanize(l) },
		Label:    func(c recipe.Command) string { return strings.Join(packages(c), ", ") },
		Activate: activateInstall,
		Snippet: func(c recipe.Command, env Env) string {
			pm := env.PackageManager
			if pm == "" {
				pm = "yarn"
			}
			return string(pm) + " " + strings.Join(pm.AddArgs(packages(c)), " ")
		},
	}
	r.Register("InstallPackages", install)
	r.Register("NPMPackage", install)

	plugin := &Handler{
		Gate:     GateQueue,
		Progress: "Configuring plugins",
		Done:     func(l []string) string { return "Configured " + Humanize(l) },
		Label:    func(c recipe.Command) string { return c.Attr("name") },
		Activate: activatePlugin,
		Snippet: func(c recipe.Command, env Env) string {
			sign := "+"
			if c.Flag("remove") {
				sign = "-"
			}
			return fmt.Sprintf("# %s\nplugins:\n  # ...\n%s - %s", hostConfigName(env), sign, c.Attr("name"))
		},
	}
	r.Register("GatsbyPlugin", plugin)
	r.Register("InstallGatsbyPlugin", plugin)

	r.Register("NPMScript", &Handler{
		Gate:     GateQueue,
		Progress: "Adding scripts",
		Done:     func(l []string) string { return "Added scripts for " + Humanize(l) },
		Label:    func(c recipe.Command) string { return c.Attr("name") },
		Activate: activateScript,
		Snippet: func(c recipe.Command, _ Env) string {
			return fmt.Sprintf("// package.json\n\"scripts\": {\n  %q: %q\n}", c.Attr("name"), c.Attr("command"))
		},
	})

	file := &Handler{
		Gate:     GateTask,
		Progress: "Writing files",
		Done:     func(l []string) string { return "Created file " + Humanize(l) },
		Label:    func(c recipe.Command) string { return c.Attr("path") },
		Activate: func(_ context.Context, c recipe.Command, env Env) error {
			path := c.Attr("path")
			if path == "" {
				return fmt.Errorf("%s: path is required", c.Kind)
			}
			content := c.Attr("content")
			if content == "" {
				content = c.Attr(document.ChildrenAttr)
			}
			env.Go(func() error { return fileops.WriteFile(env.Root, path, content) })
			return nil
		},
		Snippet: func(c recipe.Command, _ Env) string {
			content := c.Attr("content")
			if content == "" {
				content = c.Attr(document.ChildrenAttr)
			}
			return fmt.Sprintf("cat > %s <<'EOF'\n%s\nEOF", c.Attr("path"), content)
		},
	}
	r.Register("File", file)
	r.Register("WriteFile", file)

	r.Register("ShadowFile", &Handler{
		Gate:     GateTask,
		Progress: "Shadowing files",
		Done:     func(l []string) string { return "Shadowed " + Humanize(l) },
		Label:    func(c recipe.Command) string { return c.Attr("path") },
		Activate: func(_ context.Context, c recipe.Command, env Env) error {
			theme, path := c.Attr("theme"), c.Attr("path")
			if theme == "" || path == "" {
				return fmt.Errorf("%s: theme and path are required", c.Kind)
			}
			env.Go(func() error { return fileops.ShadowFile(env.Root, theme, path) })
			return nil
		},
		Snippet: func(c recipe.Command, _ Env) string {
			return fmt.Sprintf("gatsby shadow \\\n  %s \\\n  %s", c.Attr("theme"), c.Attr("path"))
		},
	})

	r.Register("Config", &Handler{
		Gate:     GateConfirm,
		Progress: "Setting up plan",
		Done:     func(l []string) string { return "Set up plan for " + Humanize(l) },
		Label:    func(c recipe.Command) string { return c.Attr("name") },
		Snippet: func(c recipe.Command, _ Env) string {
			return "gatsby recipe " + c.Attr("name")
		},
	})
}

// packages reads the package list of an install command: the packages
// list, or name with an optional version.
func packages(c recipe.Command) []string {
	if pkgs := c.List("packages"); len(pkgs) > 0 {
		return pkgs
	}
	name := c.Attr("name")
	if name == "" {
		return nil
	}
	if v := c.Attr("version"); v != "" {
		name += "@" + v
	}
	return []string{name}
}

func activateInstall(_ context.Context, c recipe.Command, env Env) error {
	pkgs := packages(c)
	if len(pkgs) == 0 {
		return fmt.Errorf("%s: no packages given", c.Kind)
	}
	a := queue.Action{Kind: ActionInstall, Step: c.Step}
	for _, p := range pkgs {
		a.Payload = append(a.Payload, queue.Entry{Name: p})
	}
	return env.Enqueue(a)
}

func activatePlugin(_ context.Context, c recipe.Command, env Env) error {
	name := c.Attr("name")
	if name == "" {
		return fmt.Errorf("%s: name is required", c.Kind)
	}
	op := pluginAdd
	if c.Flag("remove") {
		op = pluginRemove
	}
	return env.Enqueue(queue.Action{
		Kind:    ActionPlugin,
		Step:    c.Step,
		Payload: []queue.Entry{{Name: name, Value: op}},
	})
}

func activateScript(_ context.Context, c recipe.Command, env Env) error {
	name, command := c.Attr("name"), c.Attr("command")
	if name == "" || command == "" {
		return fmt.Errorf("%s: name and command are required", c.Kind)
	}
	return env.Enqueue(queue.Action{
		Kind:    ActionScript,
		Step:    c.Step,
		Payload: []queue.Entry{{Name: name, Value: command}},
	})
}

func hostConfigName(env Env) string {
	if env.HostConfig == "" {
		return "site.yaml"
	}
	return filepath.Base(env.HostConfig)
}
