// Package executor runs the external programs a recipe needs, such as the
// project's package manager.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Result holds the output of a single command execution.
type Result struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// CommandExecutor abstracts real vs dry-run command execution.
type CommandExecutor interface {
	Execute(ctx context.Context, command string, args []string, env []string) (*Result, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// RealExecutor runs commands via os/exec in Dir.
type RealExecutor struct {
	Dir string
}

// Execute runs a command with the given arguments and environment.
// On Windows, if the command is not found directly it is retried through
// cmd.exe /C so that yarn.cmd and npm.cmd shims resolve.
func (r *RealExecutor) Execute(ctx context.Context, command string, args []string, env []string) (*Result, error) {
	start := time.Now()
	var stdout, stderr bytes.Buffer
	run := func(name string, argv ...string) error {
		stdout.Reset()
		stderr.Reset()
		cmd := exec.CommandContext(ctx, name, argv...)
		cmd.Dir = r.Dir
		if len(env) > 0 {
			cmd.Env = env
		}
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		return cmd.Run()
	}

	err := run(command, args...)
	if err != nil && runtime.GOOS == "windows" && isExecNotFound(err) {
		err = run("cmd.exe", "/C", strings.Join(append([]string{command}, args...), " "))
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("execute command %q: %w", command, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

func isExecNotFound(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var execErr *exec.Error
	return errors.As(err, &execErr)
}

// Invocation is a command recorded by DryRunExecutor.
type Invocation struct {
	Command string
	Args    []string
}

// String renders the invocation as a shell line.
func (i Invocation) String() string {
	return strings.TrimSpace(i.Command + " " + strings.Join(i.Args, " "))
}

// DryRunExecutor records commands instead of running them.
type DryRunExecutor struct {
	mu    sync.Mutex
	calls []Invocation
}

// Execute records the call and reports success.
func (d *DryRunExecutor) Execute(_ context.Context, command string, args []string, _ []string) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Invocation{Command: command, Args: append([]string(nil), args...)})
	return &Result{}, nil
}

// Calls returns the recorded invocations in order.
func (d *DryRunExecutor) Calls() []Invocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Invocation(nil), d.calls...)
}

// Run executes command and converts a non-zero exit into an *ExitError
// carrying the last line of stderr.
func Run(ctx context.Context, ex CommandExecutor, command string, args ...string) (*Result, error) {
	res, err := ex.Execute(ctx, command, args, nil)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res, &ExitError{Command: command, Code: res.ExitCode, Stderr: lastLine(res.Stderr)}
	}
	return res, nil
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
