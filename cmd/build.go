package cmd

import (
	"context"
	"io"
	"os"

	"github.com/Norgate-AV/xbuild/internal/compiler"
	"github.com/Norgate-AV/xbuild/internal/config"
	"github.com/Norgate-AV/xbuild/internal/engine"
	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
	"github.com/Norgate-AV/xbuild/internal/utils"
	"github.com/spf13/cobra"
)

// forwarded lists the cargo subcommands xbuild wraps
var forwarded = []struct {
	name  string
	short string
}{
	{"build", "Compile the current package"},
	{"check", "Analyze the current package and report errors"},
	{"test", "Run the tests"},
	{"run", "Run a binary or example of the local package"},
	{"doc", "Build this package's and its dependencies' documentation"},
	{"clippy", "Run clippy lints"},
	{"bench", "Run the benchmarks"},
	{"rustc", "Compile a package, and pass extra options to the compiler"},
	{"rustdoc", "Build a package's documentation, using specified custom flags"},
}

func forwardCommands() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(forwarded))
	for _, f := range forwarded {
		cmds = append(cmds, &cobra.Command{
			Use:                f.name + " [cargo options]",
			Short:              f.short,
			Long:               f.short + ".\n\nEvery argument is passed to `cargo " + f.name + "` unchanged.",
			DisableFlagParsing: true,
			RunE:               runForward,
			SilenceUsage:       true,
		})
	}

	return cmds
}

func runForward(cmd *cobra.Command, args []string) error {
	parsed := utils.ParseArgs(args)
	stderr := cmd.ErrOrStderr()

	logger := logging.New(stderr, colorable(stderr), parsed.Verbosity)
	ctx := logging.WithLogger(cmd.Context(), &logger)

	exec := newExecutor()
	environ := os.Environ()

	if engine.Inner(environ) {
		return compiler.Delegate(ctx, exec, compiler.DelegateRequest{
			Cargo:      toolchain.NewProber(exec).Cargo(),
			Subcommand: cmd.Name(),
			Args:       args,
			Env:        environ,
		})
	}

	env, err := loadEnv(ctx, exec, parsed, environ, stderr)
	if err != nil {
		return err
	}

	return engine.New(exec).Run(ctx, *env, cmd.Name(), args)
}

// loadEnv probes the toolchain and loads the project configuration
func loadEnv(ctx context.Context, exec compiler.Executor, args utils.Args, environ []string, output io.Writer) (*engine.Env, error) {
	info, err := toolchain.NewProber(exec).Probe(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(ctx, exec, info.Cargo, args.ManifestPath)
	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	return &engine.Env{
		Toolchain: info,
		Config:    cfg,
		Cwd:       cwd,
		Environ:   environ,
		Output:    output,
	}, nil
}

func loadConfig(ctx context.Context, exec compiler.Executor, cargo, manifestPath string) (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	ws := engine.DiscoverWorkspace(ctx, exec, cargo, manifestPath, cwd)

	manifest := ws.Manifest(manifestPath, cwd)
	if _, err := os.Stat(manifest); err != nil && manifestPath == "" {
		// outside any package; global settings and env still apply
		manifest = ""
	}

	return newLoader().LoadForBuild(manifest, ws)
}
