package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ormasoftchile/recipe/pkg/executor"
	"github.com/ormasoftchile/recipe/pkg/hostconfig"
	"github.com/ormasoftchile/recipe/pkg/queue"
)

// Deps are the collaborators queue actions run against.
type Deps struct {
	Executor       executor.CommandExecutor
	PackageManager executor.PackageManager
	Root           string
	HostConfig     hostconfig.Configurer
	Logger         *slog.Logger
}

// RegisterActions registers the install, plugin and script action kinds on
// q. Installs merge per package manager and project root, plugin edits per
// host config, and script edits per package.json.
func RegisterActions(q *queue.Queue, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	pm := d.PackageManager
	if pm == "" {
		pm = executor.Yarn
	}
	manifest := filepath.Join(d.Root, "package.json")

	q.Register(ActionInstall, queue.Kind{
		Key: func(queue.Action) string { return string(pm) + ":" + d.Root },
		Run: func(ctx context.Context, a queue.Action) error {
			d.Logger.Info("installing packages", "manager", pm, "packages", a.Names())
			return executor.Install(ctx, d.Executor, pm, a.Names())
		},
	})

	q.Register(ActionPlugin, queue.Kind{
		Key: func(queue.Action) string { return "host-config" },
		Run: func(ctx context.Context, a queue.Action) error {
			if d.HostConfig == nil {
				return fmt.Errorf("no host config configured")
			}
			var add, remove []string
			for _, e := range a.Payload {
				if e.Value == pluginRemove {
					remove = append(remove, e.Name)
				} else {
					add = append(add, e.Name)
				}
			}
			if len(add) > 0 {
				if err := d.HostConfig.UpdatePlugins(ctx, add, true); err != nil {
					return err
				}
			}
			if len(remove) > 0 {
				return d.HostConfig.UpdatePlugins(ctx, remove, false)
			}
			return nil
		},
	})

	q.Register(ActionScript, queue.Kind{
		Key: func(queue.Action) string { return manifest },
		Run: func(_ context.Context, a queue.Action) error {
			scripts := make([]hostconfig.Script, 0, len(a.Payload))
			for _, e := range a.Payload {
				cmd, _ := e.Value.(string)
				scripts = append(scripts, hostconfig.Script{Name: e.Name, Command: cmd})
			}
			return hostconfig.UpdateScripts(manifest, scripts)
		},
	})
}
