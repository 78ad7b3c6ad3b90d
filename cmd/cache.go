package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/Norgate-AV/xbuild/internal/cache"
	"github.com/Norgate-AV/xbuild/internal/config"
	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the sysroot cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show cached sysroots and their build history",
	Args:  cobra.NoArgs,
	RunE:  runCacheInfo,
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the sysroot directory passed to rustc",
	Args:  cobra.NoArgs,
	RunE:  runCachePath,
}

func init() {
	cacheCmd.PersistentFlags().String("manifest-path", "", "Path to Cargo.toml")
	cacheInfoCmd.Flags().String("target", "", "Only show sysroots for this target")
	cachePathCmd.Flags().Bool("native", false, "Print the root used when building for the host")

	cacheCmd.AddCommand(cacheInfoCmd)
	cacheCmd.AddCommand(cachePathCmd)
}

func cacheConfig(cmd *cobra.Command) (*config.Config, error) {
	stderr := cmd.ErrOrStderr()
	logger := logging.New(stderr, colorable(stderr), 0)
	ctx := logging.WithLogger(cmd.Context(), &logger)

	manifestPath, _ := cmd.Flags().GetString("manifest-path")

	exec := newExecutor()
	return loadConfig(ctx, exec, toolchain.NewProber(exec).Cargo(), manifestPath)
}

func runCachePath(cmd *cobra.Command, _ []string) error {
	cfg, err := cacheConfig(cmd)
	if err != nil {
		return err
	}

	kind := target.Cross
	if native, _ := cmd.Flags().GetBool("native"); native {
		kind = target.Native
	}

	fmt.Fprintln(cmd.OutOrStdout(), cache.New(cfg.SysrootPath, kind).Root())
	return nil
}

func runCacheInfo(cmd *cobra.Command, _ []string) error {
	cfg, err := cacheConfig(cmd)
	if err != nil {
		return err
	}

	filter, _ := cmd.Flags().GetString("target")
	if filter != "" {
		filter = target.Condense(filter)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "cache: %s\n", cfg.SysrootPath)

	for _, kind := range []target.Kind{target.Native, target.Cross} {
		if err := printRoot(out, cache.New(cfg.SysrootPath, kind), filter); err != nil {
			return err
		}
	}

	return nil
}

func printRoot(out io.Writer, dir *cache.Dir, filter string) error {
	fmt.Fprintf(out, "\n%s: %s\n", dir.Kind(), dir.Root())
	if !dir.Exists() {
		fmt.Fprintln(out, "  (empty)")
		return nil
	}

	triples, err := dir.Triples()
	if err != nil {
		return err
	}

	ledger, err := cache.OpenLedgerReadOnly(dir.Root())
	if err != nil {
		return err
	}

	if ledger != nil {
		defer ledger.Close()

		count, size, err := ledger.Stats()
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "  builds recorded: %d, size on disk: %s\n", count, formatSize(size))
	}

	shown := 0
	for _, triple := range triples {
		if filter != "" && triple != filter {
			continue
		}

		shown++
		fp, err := dir.Stored(triple)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "  %s\n", triple)
		if fp == "" {
			fmt.Fprintln(out, "    incomplete (no fingerprint)")
			continue
		}

		fmt.Fprintf(out, "    fingerprint: %s\n", fp)

		if ledger == nil {
			continue
		}

		entry, err := ledger.Get(fp.String())
		if err != nil {
			return err
		}

		if entry != nil {
			fmt.Fprintf(out, "    toolchain:   %s\n", entry.Toolchain)
			fmt.Fprintf(out, "    crates:      %v\n", entry.Crates)
			fmt.Fprintf(out, "    artifacts:   %d\n", len(entry.Artifacts))
			fmt.Fprintf(out, "    built:       %s in %s\n", entry.Timestamp.Format(time.RFC3339), entry.Duration.Round(time.Millisecond))
		}
	}

	if shown == 0 {
		fmt.Fprintln(out, "  (no sysroots)")
	}

	return nil
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
