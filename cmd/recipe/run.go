package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ormasoftchile/recipe/pkg/commands"
	"github.com/ormasoftchile/recipe/pkg/config"
	"github.com/ormasoftchile/recipe/pkg/console"
	"github.com/ormasoftchile/recipe/pkg/document"
	"github.com/ormasoftchile/recipe/pkg/executor"
	"github.com/ormasoftchile/recipe/pkg/hostconfig"
	"github.com/ormasoftchile/recipe/pkg/interpreter"
	"github.com/ormasoftchile/recipe/pkg/logging"
	"github.com/ormasoftchile/recipe/pkg/queue"
	"github.com/ormasoftchile/recipe/pkg/recipe"
	"github.com/ormasoftchile/recipe/pkg/remote"
	"github.com/ormasoftchile/recipe/pkg/trace"
	"github.com/ormasoftchile/recipe/pkg/tui"
)

var (
	runHeadless       bool
	runDryRun         bool
	runTrace          string
	runRemote         string
	runPackageManager string
	runRoot           string
)

var runCmd = &cobra.Command{
	Use:   "run [recipe.mdx]",
	Short: "Run a recipe step by step",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecipe,
}

func runRecipe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	doc, err := document.LoadFile(args[0])
	if err != nil {
		return err
	}
	title := filepath.Base(args[0])

	headless := runHeadless || !term.IsTerminal(int(os.Stdout.Fd()))
	var consoleOut io.Writer
	if !headless {
		consoleOut = io.Discard
	}
	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		JSON:    cfg.Log.JSON,
		Console: consoleOut,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	runID := uuid.NewString()
	var tw *trace.Writer
	if cfg.Trace != "" {
		tw, err = trace.NewFileWriter(cfg.Trace, runID)
		if err != nil {
			return err
		}
		defer tw.Close()
	}
	logger = logger.With("run_id", runID)

	registry := commands.NewRegistry()
	policies, err := cfg.Policies()
	if err != nil {
		return err
	}
	for kind, p := range policies {
		registry.SetPolicy(kind, p)
	}
	steps := recipe.Segment(doc)

	if runRemote != "" {
		return runRemoteRecipe(ctx, cmd.OutOrStdout(), title, registry, steps, tw, logger, headless)
	}

	pm, err := cfg.PackageManagerValue()
	if err != nil {
		return err
	}
	var ex executor.CommandExecutor = &executor.RealExecutor{Dir: cfg.Root}
	if cfg.DryRun {
		ex = &executor.DryRunExecutor{}
	}
	q := queue.New(queue.WithLogger(logger))
	commands.RegisterActions(q, commands.Deps{
		Executor:       ex,
		PackageManager: pm,
		Root:           cfg.Root,
		HostConfig:     hostconfig.File{Path: cfg.HostConfigPath()},
		Logger:         logger,
	})

	session := interpreter.NewSession(steps,
		interpreter.WithRegistry(registry),
		interpreter.WithQueue(q),
		interpreter.WithEnv(commands.Env{Root: cfg.Root, PackageManager: pm, HostConfig: cfg.HostConfigPath()}),
		interpreter.WithWorkers(cfg.Workers),
		interpreter.WithLogger(logger),
		interpreter.WithName(title),
		interpreter.WithTrace(tw),
		interpreter.WithAutoExit(headless),
	)

	if headless {
		err = console.New(session, console.WithOutput(cmd.OutOrStdout())).Run(ctx)
	} else {
		err = tui.Run(ctx, title, session)
	}
	if err != nil {
		return err
	}
	if dry, ok := ex.(*executor.DryRunExecutor); ok && headless {
		printDryRun(cmd.OutOrStdout(), dry)
	}
	return nil
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("package-manager") {
		cfg.PackageManager = runPackageManager
	}
	if flags.Changed("root") {
		cfg.Root = runRoot
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = runDryRun
	}
	if flags.Changed("trace") {
		cfg.Trace = runTrace
	}
	return cfg.Validate()
}

func printDryRun(w io.Writer, dry *executor.DryRunExecutor) {
	calls := dry.Calls()
	if len(calls) == 0 {
		return
	}
	fmt.Fprintln(w, "\nDry run, commands not executed:")
	for _, c := range calls {
		fmt.Fprintf(w, "  $ %s\n", c.String())
	}
}

// runRemoteRecipe hands every step's commands to an external executor and
// renders the progress it reports, as lines on out when headless.
func runRemoteRecipe(ctx context.Context, out io.Writer, title string, registry *commands.Registry, steps []recipe.Step, tw *trace.Writer, logger *slog.Logger, headless bool) error {
	fields := strings.Fields(runRemote)
	if len(fields) == 0 {
		return fmt.Errorf("--remote needs an executor command")
	}
	t := remote.NewStdioTransport(fields[0], fields[1:]...)
	if err := t.Start(ctx); err != nil {
		return err
	}
	defer t.Close()
	logger.Info("remote executor started", "command", runRemote)

	var transport remote.Transport = t
	if tw != nil {
		transport = &tracingTransport{Transport: t, trace: tw}
	}
	if headless {
		return console.FollowRemote(ctx, out, registry, transport, recipe.ExtractAll(steps))
	}
	return tui.RunRemote(ctx, title, registry, transport, recipe.ExtractAll(steps))
}

// tracingTransport records every executor update in the run trace.
type tracingTransport struct {
	remote.Transport
	trace *trace.Writer
}

func (t *tracingTransport) Next(ctx context.Context) (remote.Operation, error) {
	op, err := t.Transport.Next(ctx)
	if err == nil {
		_ = t.trace.EmitRemoteOperation(op.State, len(op.Data))
	}
	return op, err
}

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Print progress as lines and read confirmations from stdin instead of the full-screen UI")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Record package manager commands instead of running them")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "Append a JSONL trace of the run to this file")
	runCmd.Flags().StringVar(&runRemote, "remote", "", "Run commands through an external executor speaking JSON-RPC on stdio, e.g. \"node executor.js\"")
	runCmd.Flags().StringVar(&runPackageManager, "package-manager", "", "Package manager: yarn, npm or pnpm")
	runCmd.Flags().StringVar(&runRoot, "root", "", "Project root where files are written and packages installed")
}
