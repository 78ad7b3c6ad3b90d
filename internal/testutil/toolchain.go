// Package testutil provides a scripted rustc and cargo for tests that need
// to run the sysroot pipeline without a real toolchain.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/compiler"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"
)

// Host triple reported by the fake rustc
const Host = "x86_64-unknown-linux-gnu"

// NightlyVersion is `rustc -vV` output of a nightly toolchain
const NightlyVersion = `rustc 1.76.0-nightly (eeff92ad3 2023-12-13)
binary: rustc
commit-hash: eeff92ad32c2627876112ccfe812e19d38494087
commit-date: 2023-12-13
host: x86_64-unknown-linux-gnu
release: 1.76.0-nightly
LLVM version: 17.0.6
`

// StableVersion is `rustc -vV` output of a stable toolchain
const StableVersion = `rustc 1.75.0 (82e1608df 2023-12-21)
binary: rustc
commit-hash: 82e1608dfa6e0b5569232559e3d385fea5a93112
commit-date: 2023-12-21
host: x86_64-unknown-linux-gnu
release: 1.75.0
LLVM version: 17.0.6
`

// Toolchain is a compiler.Executor standing in for rustc and cargo.
// Sysroot builds write one rlib per manifest dependency into the cargo
// target directory; any other cargo command is recorded as a delegation.
type Toolchain struct {
	Version string
	Sysroot string
	Targets []string

	// FailBuild makes sysroot builds print it and exit with status 101
	FailBuild string

	// DelegateExit is the status delegated cargo commands exit with
	DelegateExit int

	// Metadata is printed for `cargo metadata`; empty makes it fail
	Metadata string

	builds int32

	mu        sync.Mutex
	delegated []*compiler.ShellCommand
	built     [][]string
}

// NewToolchain returns a nightly toolchain whose sysroot holds the
// standard library sources
func NewToolchain(t *testing.T) *Toolchain {
	t.Helper()

	sysroot := t.TempDir()
	WriteSourceTree(t, filepath.Join(sysroot, "lib", "rustlib", "src", "rust", "library"))

	return &Toolchain{
		Version: NightlyVersion,
		Sysroot: sysroot,
		Targets: []string{Host, "thumbv7em-none-eabihf", "aarch64-unknown-none"},
	}
}

// WriteSourceTree lays out a minimal standard library source directory
func WriteSourceTree(t *testing.T, dir string) {
	t.Helper()

	for _, name := range []string{"core", "alloc", "std", "rustc-std-workspace-core", "rustc-std-workspace-alloc"} {
		path := filepath.Join(dir, name, "Cargo.toml")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("[package]\nname = %q\n", name)), 0o644))
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.lock"), []byte("version = 3\n"), 0o644))
}

// Builds is the number of sysroot builds run so far
func (f *Toolchain) Builds() int {
	return int(atomic.LoadInt32(&f.builds))
}

// Built returns the crates compiled by each sysroot build, in order
func (f *Toolchain) Built() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]string(nil), f.built...)
}

// Delegated returns the cargo commands that were not sysroot builds
func (f *Toolchain) Delegated() []*compiler.ShellCommand {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*compiler.ShellCommand(nil), f.delegated...)
}

func (f *Toolchain) Run(_ context.Context, c *compiler.ShellCommand) error {
	switch filepath.Base(c.Path) {
	case "rustc":
		return f.rustc(c)
	case "cargo":
		if inner, _ := compiler.LookupEnv(c.Env, "XBUILD_INNER"); inner == "1" && len(c.Args) > 0 && c.Args[0] == "build" {
			return f.build(c)
		}

		if len(c.Args) > 0 && c.Args[0] == "metadata" {
			if f.Metadata == "" {
				fmt.Fprint(c.Stderr, "error: could not find `Cargo.toml`")
				return &codes.ExitError{Code: codes.CargoFailure}
			}

			fmt.Fprint(c.Stdout, f.Metadata)
			return nil
		}

		f.mu.Lock()
		f.delegated = append(f.delegated, c)
		f.mu.Unlock()

		if f.DelegateExit != 0 {
			return &codes.ExitError{Code: f.DelegateExit}
		}

		return nil
	default:
		return fmt.Errorf("exec: %q: executable file not found in $PATH", c.Path)
	}
}

func (f *Toolchain) rustc(c *compiler.ShellCommand) error {
	switch strings.Join(c.Args, " ") {
	case "-vV":
		fmt.Fprint(c.Stdout, f.Version)
	case "--print sysroot":
		fmt.Fprintln(c.Stdout, f.Sysroot)
	case "--print target-list":
		fmt.Fprintln(c.Stdout, strings.Join(f.Targets, "\n"))
	default:
		fmt.Fprintf(c.Stderr, "error: unexpected arguments %v", c.Args)
		return fmt.Errorf("exit status 1")
	}

	return nil
}

func (f *Toolchain) build(c *compiler.ShellCommand) error {
	atomic.AddInt32(&f.builds, 1)

	if f.FailBuild != "" {
		fmt.Fprintln(c.Stderr, f.FailBuild)
		return &codes.ExitError{Code: codes.CargoFailure}
	}

	manifestPath := argValue(c.Args, "--manifest-path")
	targetArg := argValue(c.Args, "--target")
	triple := strings.TrimSuffix(filepath.Base(targetArg), ".json")
	targetDir, _ := compiler.LookupEnv(c.Env, "CARGO_TARGET_DIR")

	if err := f.findTarget(c, targetArg); err != nil {
		fmt.Fprintf(c.Stderr, "error: %v\n", err)
		return &codes.ExitError{Code: codes.CargoFailure}
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}

	var manifest struct {
		Dependencies map[string]interface{} `toml:"dependencies"`
	}
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return err
	}

	crates := make([]string, 0, len(manifest.Dependencies))
	for name := range manifest.Dependencies {
		crates = append(crates, name)
	}
	sort.Strings(crates)

	deps := filepath.Join(targetDir, triple, "release", "deps")
	if err := os.MkdirAll(deps, 0o755); err != nil {
		return err
	}

	files := []string{"libsysroot-xbuild.rlib", "sysroot-xbuild.d", "libcompiler_builtins-xbuild.rlib"}
	for _, name := range crates {
		files = append(files, "lib"+name+"-xbuild.rlib", name+"-xbuild.d")
	}

	for _, name := range files {
		if err := os.WriteFile(filepath.Join(deps, name), []byte(triple+"/"+name), 0o644); err != nil {
			return err
		}
	}

	fmt.Fprintf(c.Stderr, "   Compiling core v0.0.0\n    Finished release [optimized] target(s)\n")

	f.mu.Lock()
	f.built = append(f.built, crates)
	f.mu.Unlock()

	return nil
}

// findTarget resolves --target the way cargo and rustc do: a .json value is
// a path relative to the working directory, anything else is a builtin or a
// spec searched for in RUST_TARGET_PATH
func (f *Toolchain) findTarget(c *compiler.ShellCommand, id string) error {
	if strings.HasSuffix(id, ".json") {
		path := id
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.Dir, path)
		}

		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("could not find specification for target %q: %w", id, err)
		}

		return nil
	}

	for _, builtin := range f.Targets {
		if builtin == id {
			return nil
		}
	}

	dirs, _ := compiler.LookupEnv(c.Env, compiler.TargetPathEnv)
	for _, dir := range filepath.SplitList(dirs) {
		if _, err := os.Stat(filepath.Join(dir, id+".json")); err == nil {
			return nil
		}
	}

	return fmt.Errorf("could not find specification for target %q", id)
}

func argValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}

	return ""
}
