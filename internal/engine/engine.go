// Package engine ties the pieces together: it decides whether a custom
// sysroot applies, keeps the cached one current and hands over to cargo.
package engine

import (
	"context"
	"io"
	"time"

	"github.com/Norgate-AV/xbuild/internal/cache"
	"github.com/Norgate-AV/xbuild/internal/compiler"
	"github.com/Norgate-AV/xbuild/internal/config"
	"github.com/Norgate-AV/xbuild/internal/fingerprint"
	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/Norgate-AV/xbuild/internal/sysroot"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
	"github.com/Norgate-AV/xbuild/internal/utils"
	"github.com/rs/zerolog"
)

// Env is the immutable input of one invocation
type Env struct {
	Toolchain *toolchain.Info
	Config    *config.Config

	// Cwd resolves relative target specification paths
	Cwd string

	// Environ is the environment passed on to child processes
	Environ []string

	// Output receives streamed build output and progress, usually stderr
	Output io.Writer
}

// RustFlags returns the flags cargo would pass to rustc under Environ
func (e Env) RustFlags() []string {
	return compiler.RustFlags(e.Environ)
}

// Plan is what Prepare decided
type Plan struct {
	// Mode is nil when no sysroot override applies
	Mode *target.Mode

	// Sysroot is the root to inject with --sysroot, empty for none
	Sysroot string

	// Target is appended as --target; set when it came from configuration
	Target string

	// TargetPath is the directory rustc must search for a custom target
	// named without its extension
	TargetPath string

	Fingerprint fingerprint.Fingerprint

	// Rebuilt reports whether this invocation compiled the sysroot
	Rebuilt bool
}

// Engine runs the sysroot pipeline
type Engine struct {
	exec    compiler.Executor
	builder *sysroot.Builder
}

// New creates an engine running child processes through exec
func New(exec compiler.Executor) *Engine {
	return &Engine{
		exec:    exec,
		builder: sysroot.NewBuilder(exec),
	}
}

// Run prepares the sysroot for args and then runs cargo subcommand with
// args, returning cargo's exit status as *codes.ExitError
func (e *Engine) Run(ctx context.Context, env Env, subcommand string, args []string) error {
	plan, err := e.Prepare(ctx, env, utils.ParseArgs(args))
	if err != nil {
		return err
	}

	return compiler.Delegate(ctx, e.exec, compiler.DelegateRequest{
		Cargo:      env.Toolchain.Cargo,
		Subcommand: subcommand,
		Args:       args,
		Sysroot:    plan.Sysroot,
		Target:     plan.Target,
		TargetPath: plan.TargetPath,
		Env:        env.Environ,
	})
}

// Prepare decides the compilation mode and makes sure the cached sysroot
// for it is current, rebuilding it under the cache lock when it is not.
func (e *Engine) Prepare(ctx context.Context, env Env, args utils.Args) (*Plan, error) {
	logger := logging.FromContext(ctx)
	cfg := env.Config
	meta := env.Toolchain.Meta

	plan := &Plan{}

	id := args.Target
	if id == "" && cfg.Target != "" {
		id = cfg.Target
		plan.Target = cfg.Target
	}

	if !meta.Channel.SupportsCustomSysroot() {
		logger.Warn().
			Str("channel", meta.Channel.String()).
			Msg("custom sysroots require a nightly toolchain; running cargo without one")
		return plan, nil
	}

	mode, err := target.ResolveMode(id, meta.Host, env.Cwd, env.Toolchain.Builtins)
	if err != nil {
		return nil, err
	}

	if mode == nil {
		logger.Debug().Msg("no target requested; running cargo without a custom sysroot")
		return plan, nil
	}

	if t := mode.Target(); t != nil && t.Path != "" {
		logger.Debug().Str("path", t.Path).Str("llvm_target", t.LLVMTarget()).Msg("loaded target specification")
	}

	flags := env.RustFlags()

	plan.Mode = mode
	plan.TargetPath = mode.SearchDir()
	plan.Fingerprint = fingerprint.Compute(fingerprint.Inputs{
		Mode:                *mode,
		RustFlags:           flags,
		Crates:              cfg.Crates,
		Memcpy:              cfg.Memcpy,
		PanicImmediateAbort: cfg.PanicImmediateAbort,
		Toolchain:           meta,
	})

	dir := cache.ForMode(cfg.SysrootPath, *mode)
	plan.Sysroot = dir.Root()

	rebuilt, err := e.ensure(ctx, env, dir, *mode, flags, plan.Fingerprint)
	if err != nil {
		return nil, err
	}

	plan.Rebuilt = rebuilt
	return plan, nil
}

// ensure brings dir's tree for mode up to fp. The marker is checked once
// without the lock, which is safe because trees only change by rename, and
// again after taking it in case another process just finished the build.
func (e *Engine) ensure(ctx context.Context, env Env, dir *cache.Dir, mode target.Mode, flags []string, fp fingerprint.Fingerprint) (bool, error) {
	logger := logging.FromContext(ctx).With().
		Str("triple", mode.Triple()).
		Str("mode", mode.Kind().String()).
		Logger()

	triple := mode.Triple()
	if stored, err := dir.Stored(triple); err == nil && stored == fp {
		logger.Debug().Str("fingerprint", fp.Short()).Msg("sysroot is up to date")
		return false, nil
	}

	lock, err := dir.Lock(ctx, env.Config.LockTimeout)
	if err != nil {
		return false, err
	}
	defer lock.Release()

	stored, err := dir.Stored(triple)
	if err != nil {
		return false, err
	}

	if stored == fp {
		logger.Debug().Str("fingerprint", fp.Short()).Msg("sysroot was built by another process")
		return false, nil
	}

	logger.Debug().
		Str("stored", stored.Short()).
		Str("wanted", fp.Short()).
		Msg("sysroot is stale")

	src, err := toolchain.LocateSource(logging.WithLogger(ctx, &logger), toolchain.SourceRequest{
		Meta:      env.Toolchain.Meta,
		Sysroot:   env.Toolchain.Sysroot,
		Override:  env.Config.RustSrc,
		CacheRoot: dir.Root(),
		Progress:  env.Output,
	})
	if err != nil {
		return false, err
	}

	stage, err := dir.Stage(triple)
	if err != nil {
		return false, err
	}

	logger.Info().Msgf("Compiling sysroot for %s", triple)

	result, err := e.builder.Build(logging.WithLogger(ctx, &logger), sysroot.Request{
		Mode:                mode,
		Source:              src,
		Crates:              env.Config.Crates,
		Memcpy:              env.Config.Memcpy,
		PanicImmediateAbort: env.Config.PanicImmediateAbort,
		RustFlags:           flags,
		Cargo:               env.Toolchain.Cargo,
		Env:                 env.Environ,
		Dir:                 dir,
		Stage:               stage,
		Verbose:             logger.GetLevel() <= zerolog.DebugLevel,
		Output:              env.Output,
	})
	if err != nil {
		discard(&logger, dir, stage)

		return false, err
	}

	if err := dir.Promote(logging.WithLogger(ctx, &logger), stage, fp); err != nil {
		discard(&logger, dir, stage)

		return false, err
	}

	logger.Info().Msgf("Finished sysroot for %s in %s", triple, result.Duration.Round(10*time.Millisecond))

	e.record(&logger, dir, mode, fp, env, result)
	return true, nil
}

// discard removes a stage that will not be promoted. The next Stage sweeps
// anything left behind, so a failure is only logged.
func discard(logger *zerolog.Logger, dir *cache.Dir, stage *cache.Stage) {
	if err := dir.Discard(stage); err != nil {
		logger.Warn().Err(err).Str("path", stage.Path()).Msg("failed to remove staging directory")
	}
}

// record appends the build to the ledger. The sysroot is already live, so a
// ledger failure is only a warning.
func (e *Engine) record(logger *zerolog.Logger, dir *cache.Dir, mode target.Mode, fp fingerprint.Fingerprint, env Env, result *sysroot.Result) {
	ledger, err := cache.OpenLedger(dir.Root())
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open the build ledger")
		return
	}
	defer ledger.Close()

	err = ledger.Record(cache.Entry{
		Fingerprint: fp.String(),
		Triple:      mode.Triple(),
		Target:      mode.OrigTriple(),
		Mode:        mode.Kind().String(),
		Toolchain:   env.Toolchain.Meta.Version,
		Crates:      env.Config.CrateNames(),
		Artifacts:   result.Artifacts,
		Duration:    result.Duration,
		Timestamp:   time.Now(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to record the build")
	}
}
