package command

import (
	"context"
	"os/exec"
)

// Executor creates exec.Cmd instances. Tests inject an Executor that maps
// the panel's collaborators (script runner, agent CLI, tunnel binary) onto
// shell fixtures.
type Executor interface {
	// Command creates a new exec.Cmd instance for the given command and arguments.
	Command(name string, args ...string) *exec.Cmd

	// CommandContext creates a new context-aware exec.Cmd instance.
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// RealExecutor is the production implementation of the Executor interface.
// Dir, when set, becomes the working directory of every command.
type RealExecutor struct {
	Dir string
	Env []string
}

// Command creates a standard exec.Cmd.
func (e *RealExecutor) Command(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	e.apply(cmd)
	return cmd
}

// CommandContext creates a standard context-aware exec.Cmd.
func (e *RealExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	e.apply(cmd)
	return cmd
}

func (e *RealExecutor) apply(cmd *exec.Cmd) {
	if e.Dir != "" {
		cmd.Dir = e.Dir
	}
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
}
