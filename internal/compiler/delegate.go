package compiler

import (
	"context"
	"os"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/utils"
	"github.com/rotisserie/eris"
)

// DelegateRequest describes the final cargo invocation
type DelegateRequest struct {
	// Cargo binary
	Cargo string

	// Subcommand such as build, check or test
	Subcommand string

	// Args are the user's arguments, forwarded untouched
	Args []string

	// Sysroot is injected with --sysroot when set
	Sysroot string

	// Target is appended as --target when Args do not already carry one
	// (the target came from project configuration)
	Target string

	// TargetPath is added to RUST_TARGET_PATH when set, for custom targets
	// named without their .json extension
	TargetPath string

	// Env is the base environment, os.Environ() when nil
	Env []string
}

// Command builds the ShellCommand Delegate runs
func (r DelegateRequest) Command() *ShellCommand {
	env := r.Env
	if env == nil {
		env = os.Environ()
	}

	if r.Sysroot != "" {
		env = SetSysroot(env, r.Sysroot)

		if r.Subcommand == "doc" || r.Subcommand == "rustdoc" || r.Subcommand == "test" {
			env = SetDocSysroot(env, r.Sysroot)
		}
	}

	if r.TargetPath != "" {
		env = AddTargetPath(env, r.TargetPath)
	}

	args := make([]string, 0, len(r.Args)+3)
	if r.Subcommand != "" {
		args = append(args, r.Subcommand)
	}

	if r.Target != "" && !utils.HasTarget(r.Args) {
		args = append(args, "--target", r.Target)
	}

	args = append(args, r.Args...)

	return &ShellCommand{
		Path:   r.Cargo,
		Args:   args,
		Env:    env,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Delegate runs cargo with inherited stdio. A non-zero exit is returned as
// *codes.ExitError carrying the child's status unchanged.
func Delegate(ctx context.Context, ex Executor, req DelegateRequest) error {
	err := ex.Run(ctx, req.Command())
	if err == nil {
		return nil
	}

	converted := codes.FromExec(err)
	if _, ok := converted.(*codes.ExitError); ok {
		return converted
	}

	return eris.Wrapf(err, "failed to run %s", req.Cargo)
}
