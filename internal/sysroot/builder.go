// Package sysroot compiles the standard library crates for a target and
// places the resulting rlibs into a cache staging directory.
package sysroot

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Norgate-AV/xbuild/internal/cache"
	"github.com/Norgate-AV/xbuild/internal/compiler"
	"github.com/Norgate-AV/xbuild/internal/config"
	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/rotisserie/eris"
)

const (
	// InnerEnv marks cargo processes started by the builder. An xbuild
	// invoked with it set delegates straight to cargo.
	InnerEnv = "XBUILD_INNER"

	// metadataEnv pins the hash cargo appends to artifact names
	metadataEnv = "__CARGO_DEFAULT_LIB_METADATA"


	// tailSize bounds the build output kept for the error message
	tailSize = 16 * 1024
)

var (
	ErrMissingCrate = eris.New("standard library crate not found")
	ErrBuildFailed  = eris.New("failed to compile the sysroot")
)

// Request describes one sysroot build
type Request struct {
	Mode target.Mode

	// Source is the standard library source directory
	Source string

	Crates              []config.CrateSpec
	Memcpy              bool
	PanicImmediateAbort bool

	// RustFlags are the flags the user's cargo would pass to rustc
	RustFlags []string

	// Cargo binary to run
	Cargo string

	// Env is the base environment, os.Environ() when nil
	Env []string

	// Dir is the cache root being built; the caller holds its lock
	Dir   *cache.Dir
	Stage *cache.Stage

	// Verbose streams cargo's output to Output
	Verbose bool
	Output  io.Writer
}

// Result describes a completed build
type Result struct {
	// Artifacts are the file names copied into the stage
	Artifacts []string

	Duration time.Duration
}

// Builder runs cargo to produce sysroot artifacts
type Builder struct {
	exec compiler.Executor
}

// NewBuilder creates a new builder
func NewBuilder(exec compiler.Executor) *Builder {
	return &Builder{exec: exec}
}

// Build compiles req.Crates and copies the artifacts into req.Stage. Nothing
// outside the stage and the build directory is written, so a failure leaves
// the live cache untouched.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()

	m, err := newManifest(&req)
	if err != nil {
		return nil, err
	}

	triple := req.Mode.Triple()
	crateDir := req.Dir.BuildDir(triple)
	if err := writeCrate(crateDir, m, req.Source); err != nil {
		return nil, err
	}

	cmd := b.command(req, crateDir)
	logger.Debug().Str("command", cmd.String()).Msg("building sysroot")

	tail := &tailWriter{max: tailSize}
	var out io.Writer = tail
	if req.Verbose && req.Output != nil {
		out = io.MultiWriter(tail, req.Output)
	}

	// one writer for both streams keeps os/exec to a single copying goroutine
	cmd.Stdout = out
	cmd.Stderr = out

	if err := b.exec.Run(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "sysroot build interrupted")
		}

		output := strings.TrimSpace(tail.String())
		if output == "" {
			return nil, eris.Wrapf(ErrBuildFailed, "`%s` failed: %v", cmd, err)
		}

		return nil, eris.Wrapf(ErrBuildFailed, "`%s` failed: %v\n%s", cmd, err, output)
	}

	deps := filepath.Join(req.Dir.TargetDir(), triple, "release", "deps")
	artifacts, err := cache.CollectOutputs(deps, isOwnArtifact)
	if err != nil {
		return nil, err
	}

	if len(artifacts) == 0 {
		return nil, eris.Wrapf(ErrBuildFailed, "cargo produced no artifacts in %s", deps)
	}

	if err := cache.CopyArtifacts(ctx, deps, req.Stage.LibDir(), artifacts); err != nil {
		return nil, err
	}

	logger.Debug().Int("artifacts", len(artifacts)).Str("stage", req.Stage.Path()).Msg("copied sysroot artifacts")

	return &Result{
		Artifacts: artifacts,
		Duration:  time.Since(start),
	}, nil
}

func (b *Builder) command(req Request, crateDir string) *compiler.ShellCommand {
	env := req.Env
	if env == nil {
		env = os.Environ()
	}

	flags := compiler.StripSysroot(req.RustFlags)
	flags = append(flags, "-Z", "force-unstable-if-unmarked")

	// the encoded form survives flags containing spaces
	env = compiler.UnsetEnv(env, compiler.RustFlagsEnv)
	env = compiler.SetEnv(env, compiler.EncodedRustFlagsEnv, compiler.EncodeFlags(flags))
	env = compiler.SetEnv(env, "CARGO_TARGET_DIR", req.Dir.TargetDir())
	env = compiler.SetEnv(env, metadataEnv, "xbuild")
	env = compiler.SetEnv(env, InnerEnv, "1")

	if dir := req.Mode.SearchDir(); dir != "" {
		env = compiler.AddTargetPath(env, dir)
	}

	return &compiler.ShellCommand{
		Path: req.Cargo,
		Args: []string{
			"build", "--release",
			"--manifest-path", filepath.Join(crateDir, "Cargo.toml"),
			"--target", req.Mode.CargoTarget(),
		},
		Env: env,
		Dir: crateDir,
	}
}

// isOwnArtifact matches files that are not standard library outputs: the
// ephemeral crate itself and dep-info files
func isOwnArtifact(name string) bool {
	return strings.HasPrefix(name, "lib"+crateName+"-") ||
		strings.HasPrefix(name, crateName+"-") ||
		strings.HasSuffix(name, ".d")
}

// tailWriter keeps the last max bytes written to it
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}

	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return string(w.buf)
}
