package compiler

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// ShellCommand describes one child process
type ShellCommand struct {
	Path string
	Args []string

	// Env is the complete environment; nil inherits xbuild's own
	Env []string

	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs
func (c *ShellCommand) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Executor runs child processes. The real implementation is *CommandBuilder;
// tests substitute fakes.
type Executor interface {
	Run(ctx context.Context, c *ShellCommand) error
}

// Commander interface for testing
type Commander interface {
	Run() error
}

// CommandBuilder runs ShellCommands through os/exec
type CommandBuilder struct {
	execCommand func(ctx context.Context, c *ShellCommand) Commander
}

// NewCommandBuilder creates a new command builder
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{
		execCommand: func(ctx context.Context, c *ShellCommand) Commander {
			cmd := exec.CommandContext(ctx, c.Path, c.Args...)
			cmd.Env = c.Env
			cmd.Dir = c.Dir
			cmd.Stdin = c.Stdin
			cmd.Stdout = c.Stdout
			cmd.Stderr = c.Stderr
			return cmd
		},
	}
}

// Run executes the command and waits for it to finish
func (cb *CommandBuilder) Run(ctx context.Context, c *ShellCommand) error {
	return cb.execCommand(ctx, c).Run()
}

// Output runs c and returns its standard output. Stderr is folded into the
// error when the command fails.
func Output(ctx context.Context, ex Executor, c *ShellCommand) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	run := *c
	run.Stdout = &stdout
	run.Stderr = &stderr

	if err := ex.Run(ctx, &run); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, eris.Wrapf(err, "`%s` failed", c)
		}

		return nil, eris.Wrapf(err, "`%s` failed: %s", c, msg)
	}

	return stdout.Bytes(), nil
}
