package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/compiler"
	"github.com/Norgate-AV/xbuild/internal/config"
	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/Norgate-AV/xbuild/internal/report"
	"github.com/Norgate-AV/xbuild/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "xbuild",
	Short: "Cargo wrapper that builds the standard library for your target",
	Long: `xbuild compiles core, alloc and friends for targets that ship without a
prebuilt standard library, caches the result and runs cargo against it.

Use it in place of cargo: xbuild build --target x86_64-kernel.json`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// newExecutor creates the process runner shared by all commands
var newExecutor = func() compiler.Executor {
	return compiler.NewCommandBuilder()
}

// newLoader creates the configuration loader
var newLoader = config.NewLoader

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stderr)
	stop()

	os.Exit(code)
}

// execute runs the command line and returns the process exit status. Errors
// are reported on stderr, except a failing cargo whose own output already
// explains the failure.
func execute(ctx context.Context, args []string, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return codes.Success
	}

	var forwarded *codes.ExitError
	if !errors.As(err, &forwarded) {
		report.Render(stderr, err, report.Options{
			Backtrace: report.BacktraceEnabled(os.Getenv(report.BacktraceEnv)),
			Color:     colorable(stderr),
		})
	}

	return codes.ExitCode(err)
}

func colorable(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && logging.Colorable(f)
}

func init() {
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("xbuild {{.Version}}\n")

	for _, c := range forwardCommands() {
		rootCmd.AddCommand(c)
	}

	rootCmd.AddCommand(cacheCmd)
}
