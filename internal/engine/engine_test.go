package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Norgate-AV/xbuild/internal/cache"
	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/compiler"
	"github.com/Norgate-AV/xbuild/internal/config"
	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/Norgate-AV/xbuild/internal/sysroot"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/testutil"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
	"github.com/Norgate-AV/xbuild/internal/utils"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T, fake *testutil.Toolchain) Env {
	t.Helper()
	t.Setenv(toolchain.RustcEnv, "")
	t.Setenv(toolchain.CargoEnv, "")

	info, err := toolchain.NewProber(fake).Probe(context.Background())
	require.NoError(t, err)

	return Env{
		Toolchain: info,
		Config: &config.Config{
			SysrootPath: filepath.Join(t.TempDir(), "target", "sysroot"),
			Crates:      []config.CrateSpec{{Name: "core"}, {Name: "alloc"}},
			LockTimeout: 10 * time.Second,
		},
		Cwd:     t.TempDir(),
		Environ: []string{"PATH=/usr/bin", "RUSTFLAGS=-C opt-level=s"},
	}
}

func captureLogs(level int) (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logging.New(&buf, false, level)
	return logging.WithLogger(context.Background(), &logger), &buf
}

// snapshot maps every file below root to its contents
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()

	files := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			rel, _ := filepath.Rel(root, path)
			files[rel] = string(data)
		}

		return nil
	})
	require.NoError(t, err)

	return files
}

func TestRun_StableWarnsAndDelegates(t *testing.T) {
	fake := testutil.NewToolchain(t)
	fake.Version = testutil.StableVersion
	env := newEnv(t, fake)

	ctx, logs := captureLogs(0)
	err := New(fake).Run(ctx, env, "build", []string{"--release"})
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "warning:")
	assert.Contains(t, logs.String(), "nightly")

	delegated := fake.Delegated()
	require.Len(t, delegated, 1)
	assert.Equal(t, []string{"build", "--release"}, delegated[0].Args)

	flags, _ := compiler.LookupEnv(delegated[0].Env, "RUSTFLAGS")
	assert.Equal(t, "-C opt-level=s", flags, "no sysroot injected")

	assert.NoDirExists(t, env.Config.SysrootPath)
	assert.Zero(t, fake.Builds())
}

func TestRun_StableWithTargetStillDelegates(t *testing.T) {
	fake := testutil.NewToolchain(t)
	fake.Version = testutil.StableVersion
	env := newEnv(t, fake)

	err := New(fake).Run(context.Background(), env, "build", []string{"--target", "thumbv7em-none-eabihf"})
	require.NoError(t, err)

	assert.NoDirExists(t, env.Config.SysrootPath)
	assert.Len(t, fake.Delegated(), 1)
}

func TestRun_NightlyNoTargetSkipsSysroot(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)

	ctx, logs := captureLogs(0)
	require.NoError(t, New(fake).Run(ctx, env, "check", nil))

	assert.NotContains(t, logs.String(), "warning:")
	assert.NoDirExists(t, env.Config.SysrootPath)
	assert.Len(t, fake.Delegated(), 1)
}

func TestRun_BuiltinCrossTarget(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)
	env.Config.RustSrc = filepath.Join(fake.Sysroot, "lib", "rustlib", "src", "rust", "library")

	err := New(fake).Run(context.Background(), env, "build", []string{"--target", "thumbv7em-none-eabihf"})
	require.NoError(t, err)

	root := filepath.Join(env.Config.SysrootPath, "cross")
	lib := filepath.Join(root, "lib", "rustlib", "thumbv7em-none-eabihf", "lib")

	entries, err := os.ReadDir(lib)
	require.NoError(t, err)

	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"liballoc-xbuild.rlib", "libcompiler_builtins-xbuild.rlib", "libcore-xbuild.rlib"}, names)
	assert.Equal(t, [][]string{{"alloc", "core"}}, fake.Built())

	delegated := fake.Delegated()
	require.Len(t, delegated, 1)
	assert.Equal(t, []string{"build", "--target", "thumbv7em-none-eabihf"}, delegated[0].Args)

	flags, _ := compiler.LookupEnv(delegated[0].Env, "RUSTFLAGS")
	assert.Equal(t, "-C opt-level=s --sysroot="+root, flags)

	ledger, err := cache.OpenLedgerReadOnly(root)
	require.NoError(t, err)
	require.NotNil(t, ledger)
	defer ledger.Close()

	latest, err := ledger.Latest("thumbv7em-none-eabihf")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "cross", latest.Mode)
	assert.Equal(t, []string{"alloc", "core"}, latest.Crates)
}

func TestPrepare_Idempotent(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)
	eng := New(fake)
	args := utils.Args{Target: "aarch64-unknown-none"}

	first, err := eng.Prepare(context.Background(), env, args)
	require.NoError(t, err)
	assert.True(t, first.Rebuilt)

	before := snapshot(t, filepath.Join(first.Sysroot, "lib"))

	second, err := eng.Prepare(context.Background(), env, args)
	require.NoError(t, err)
	assert.False(t, second.Rebuilt)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 1, fake.Builds())
	assert.Equal(t, before, snapshot(t, filepath.Join(first.Sysroot, "lib")))
}

func TestPrepare_RebuildsOnInputChange(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)
	eng := New(fake)
	args := utils.Args{Target: "aarch64-unknown-none"}

	_, err := eng.Prepare(context.Background(), env, args)
	require.NoError(t, err)

	env.Config.Memcpy = true
	plan, err := eng.Prepare(context.Background(), env, args)
	require.NoError(t, err)
	assert.True(t, plan.Rebuilt)

	// the injected --sysroot does not count as a flag change
	env.Environ = []string{"PATH=/usr/bin", "RUSTFLAGS=--sysroot=" + plan.Sysroot + " -C opt-level=s"}
	plan, err = eng.Prepare(context.Background(), env, args)
	require.NoError(t, err)
	assert.False(t, plan.Rebuilt)

	assert.Equal(t, 2, fake.Builds())
}

func TestPrepare_FailedBuildLeavesCacheIntact(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)
	eng := New(fake)
	args := utils.Args{Target: "thumbv7em-none-eabihf"}

	plan, err := eng.Prepare(context.Background(), env, args)
	require.NoError(t, err)

	tree := filepath.Join(plan.Sysroot, "lib")
	before := snapshot(t, tree)

	fake.FailBuild = "error: linker `rust-lld` not found"
	env.Environ = []string{"RUSTFLAGS=-C opt-level=z"}

	_, err = eng.Prepare(context.Background(), env, args)
	require.Error(t, err)
	assert.True(t, eris.Is(err, sysroot.ErrBuildFailed))
	assert.Contains(t, err.Error(), "rust-lld")

	assert.Equal(t, before, snapshot(t, tree))

	leftovers, err := os.ReadDir(filepath.Join(plan.Sysroot, ".staging"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPrepare_ConcurrentInvocationsBuildOnce(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)
	args := utils.Args{Target: "thumbv7em-none-eabihf"}

	const n = 8
	var (
		wg      sync.WaitGroup
		rebuilt int32
		mu      sync.Mutex
		roots   []string
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			plan, err := New(fake).Prepare(context.Background(), env, args)
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if plan.Rebuilt {
				rebuilt++
			}
			roots = append(roots, plan.Sysroot)
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, fake.Builds())
	assert.Equal(t, int32(1), rebuilt)
	require.Len(t, roots, n)
	for _, s := range roots {
		assert.Equal(t, roots[0], s)
	}
}

func TestPrepare_ModeSeparation(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)
	eng := New(fake)

	native, err := eng.Prepare(context.Background(), env, utils.Args{Target: testutil.Host})
	require.NoError(t, err)

	cross, err := eng.Prepare(context.Background(), env, utils.Args{Target: "aarch64-unknown-none"})
	require.NoError(t, err)

	require.NotNil(t, native.Mode)
	assert.True(t, native.Mode.IsNative())
	assert.Equal(t, target.Cross, cross.Mode.Kind())

	assert.Equal(t, filepath.Join(env.Config.SysrootPath, "native"), native.Sysroot)
	assert.Equal(t, filepath.Join(env.Config.SysrootPath, "cross"), cross.Sysroot)
	assert.NotEqual(t, native.Fingerprint, cross.Fingerprint)

	assert.FileExists(t, filepath.Join(native.Sysroot, cache.LockName))
	assert.FileExists(t, filepath.Join(cross.Sysroot, cache.LockName))
	assert.NoDirExists(t, filepath.Join(native.Sysroot, "lib", "rustlib", "aarch64-unknown-none"))
	assert.NoDirExists(t, filepath.Join(cross.Sysroot, "lib", "rustlib", testutil.Host))
}

func TestPrepare_MissingSpecFile(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)

	_, err := New(fake).Prepare(context.Background(), env, utils.Args{Target: "x86_64-missing"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, target.ErrNotFound))
	assert.Contains(t, err.Error(), filepath.Join(env.Cwd, "x86_64-missing.json"))

	assert.NoDirExists(t, env.Config.SysrootPath)
	assert.Zero(t, fake.Builds())
}

func TestRun_CustomSpecFromConfig(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)

	spec := filepath.Join(env.Cwd, "x86_64-kernel.json")
	require.NoError(t, os.WriteFile(spec, []byte(`{"llvm-target":"x86_64-unknown-none","arch":"x86_64"}`), 0o644))
	env.Config.Target = "x86_64-kernel.json"

	require.NoError(t, New(fake).Run(context.Background(), env, "build", []string{"-p", "kernel"}))

	root := filepath.Join(env.Config.SysrootPath, "cross")
	assert.DirExists(t, filepath.Join(root, "lib", "rustlib", "x86_64-kernel", "lib"))

	delegated := fake.Delegated()
	require.Len(t, delegated, 1)
	assert.Equal(t, []string{"build", "--target", "x86_64-kernel.json", "-p", "kernel"}, delegated[0].Args)
}

func TestRun_RelativeSpecPath(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)

	spec := filepath.Join(env.Cwd, "specs", "x86_64-kernel.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(spec), 0o755))
	require.NoError(t, os.WriteFile(spec, []byte(`{"llvm-target":"x86_64-unknown-none","arch":"x86_64"}`), 0o644))

	args := []string{"build", "--target", "specs/x86_64-kernel.json"}
	require.NoError(t, New(fake).Run(context.Background(), env, args[0], args[1:]))

	assert.Equal(t, 1, fake.Builds())
	root := filepath.Join(env.Config.SysrootPath, "cross")
	assert.FileExists(t, filepath.Join(root, "lib", "rustlib", "x86_64-kernel", "lib", "libcore-xbuild.rlib"))

	delegated := fake.Delegated()
	require.Len(t, delegated, 1)
	assert.Equal(t, args, delegated[0].Args)

	_, ok := compiler.LookupEnv(delegated[0].Env, compiler.TargetPathEnv)
	assert.False(t, ok)
}

func TestRun_SpecNamedWithoutExtension(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)

	spec := filepath.Join(env.Cwd, "x86_64-kernel.json")
	require.NoError(t, os.WriteFile(spec, []byte(`{"arch":"x86_64"}`), 0o644))

	require.NoError(t, New(fake).Run(context.Background(), env, "check", []string{"--target", "x86_64-kernel"}))
	assert.Equal(t, 1, fake.Builds())

	delegated := fake.Delegated()
	require.Len(t, delegated, 1)
	assert.Equal(t, []string{"check", "--target", "x86_64-kernel"}, delegated[0].Args)

	dirs, ok := compiler.LookupEnv(delegated[0].Env, compiler.TargetPathEnv)
	require.True(t, ok)
	assert.Equal(t, env.Cwd, dirs)
}

func TestRun_EncodedRustFlags(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)
	env.Environ = []string{"PATH=/usr/bin", "RUSTFLAGS=-g", "CARGO_ENCODED_RUSTFLAGS=-Ctarget-cpu=cortex-m4"}

	require.NoError(t, New(fake).Run(context.Background(), env, "build", []string{"--target", "thumbv7em-none-eabihf"}))

	root := filepath.Join(env.Config.SysrootPath, "cross")
	delegated := fake.Delegated()
	require.Len(t, delegated, 1)
	assert.Equal(t, []string{"-Ctarget-cpu=cortex-m4", "--sysroot=" + root}, compiler.RustFlags(delegated[0].Env))

	// changing the flags cargo ignores does not invalidate the sysroot
	env.Environ = []string{"PATH=/usr/bin", "RUSTFLAGS=-O", "CARGO_ENCODED_RUSTFLAGS=-Ctarget-cpu=cortex-m4"}
	plan, err := New(fake).Prepare(context.Background(), env, utils.Args{Target: "thumbv7em-none-eabihf"})
	require.NoError(t, err)
	assert.False(t, plan.Rebuilt)

	env.Environ = []string{"PATH=/usr/bin", "CARGO_ENCODED_RUSTFLAGS=-Ctarget-cpu=cortex-m7"}
	plan, err = New(fake).Prepare(context.Background(), env, utils.Args{Target: "thumbv7em-none-eabihf"})
	require.NoError(t, err)
	assert.True(t, plan.Rebuilt)
	assert.Equal(t, 2, fake.Builds())
}

func TestRun_ForwardsExitStatus(t *testing.T) {
	fake := testutil.NewToolchain(t)
	fake.DelegateExit = 101
	env := newEnv(t, fake)

	err := New(fake).Run(context.Background(), env, "test", nil)
	require.Error(t, err)
	assert.Equal(t, 101, codes.ExitCode(err))
}

func TestPrepare_DevToolchainNeedsSource(t *testing.T) {
	fake := testutil.NewToolchain(t)
	fake.Version = strings.Replace(testutil.NightlyVersion, "1.76.0-nightly", "1.76.0-dev", -1)
	env := newEnv(t, fake)

	_, err := New(fake).Prepare(context.Background(), env, utils.Args{Target: "aarch64-unknown-none"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, toolchain.ErrMissingSource))

	stage := filepath.Join(env.Config.SysrootPath, "cross", "lib")
	assert.NoDirExists(t, stage)
}

func TestPrepare_VerboseStreamsBuild(t *testing.T) {
	fake := testutil.NewToolchain(t)
	env := newEnv(t, fake)

	var out bytes.Buffer
	env.Output = &out

	ctx, logs := captureLogs(1)
	_, err := New(fake).Prepare(ctx, env, utils.Args{Target: "aarch64-unknown-none"})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Compiling core")
	assert.Contains(t, logs.String(), "Compiling sysroot for aarch64-unknown-none")
}

func TestDiscard_LogsFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix unlink semantics")
	}

	dir := cache.New(t.TempDir(), target.Cross)
	stage, err := dir.Stage("aarch64-unknown-none")
	require.NoError(t, err)

	// a file where the staging directory was makes removal fail
	staging := filepath.Dir(stage.Path())
	require.NoError(t, os.RemoveAll(staging))
	require.NoError(t, os.WriteFile(staging, nil, 0o644))

	ctx, logs := captureLogs(0)
	discard(logging.FromContext(ctx), dir, stage)

	assert.Contains(t, logs.String(), "failed to remove staging directory")
	assert.Contains(t, logs.String(), stage.Path())
}
