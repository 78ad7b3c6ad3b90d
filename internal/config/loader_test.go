package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	assert.NotNil(t, loader)
}

func TestLoader_LoadForBuild_PackageMetadata(t *testing.T) {
	root := t.TempDir()
	manifest := filepath.Join(root, "Cargo.toml")
	writeFile(t, manifest, `
[package]
name = "kernel"
version = "0.1.0"

[package.metadata.xbuild]
target = "x86_64-kernel"
sysroot_path = "cache/sysroot"
memcpy = true
lock_timeout = "2m"
dependencies = [
  "core",
  { name = "alloc", features = ["compiler-builtins-mem"] },
]
`)

	loader := NewLoaderWithGlobalDir("")
	cfg, err := loader.LoadForBuild(manifest, &Workspace{Root: root})
	require.NoError(t, err)

	assert.Equal(t, "x86_64-kernel", cfg.Target)
	assert.Equal(t, filepath.Join(root, "cache", "sysroot"), cfg.SysrootPath)
	assert.True(t, cfg.Memcpy)
	assert.Equal(t, 2*time.Minute, cfg.LockTimeout)
	assert.Equal(t, []CrateSpec{
		{Name: "core"},
		{Name: "alloc", Features: []string{"compiler-builtins-mem"}},
	}, cfg.Crates)
}

func TestLoader_LoadForBuild_NoMetadata(t *testing.T) {
	root := t.TempDir()
	manifest := filepath.Join(root, "Cargo.toml")
	writeFile(t, manifest, "[package]\nname = \"app\"\n")

	cfg, err := NewLoaderWithGlobalDir("").LoadForBuild(manifest, &Workspace{Root: root, TargetDir: filepath.Join(root, "target")})
	require.NoError(t, err)

	assert.Empty(t, cfg.Target)
	assert.Equal(t, DefaultCrates, cfg.Crates)
	assert.Equal(t, filepath.Join(root, "target", "sysroot"), cfg.SysrootPath)
	assert.Equal(t, DefaultLockTimeout, cfg.LockTimeout)
}

func TestLoader_LoadForBuild_Precedence(t *testing.T) {
	root := t.TempDir()
	globalDir := filepath.Join(t.TempDir(), "xbuild")
	writeFile(t, filepath.Join(globalDir, "config.yml"), "target: from-global\nmemcpy: true\nlock_timeout: 1m\n")

	writeFile(t, filepath.Join(root, "Cargo.toml"), `
[workspace]
members = ["kernel"]

[workspace.metadata.xbuild]
target = "from-workspace"
panic_immediate_abort = true
`)

	member := filepath.Join(root, "kernel", "Cargo.toml")
	writeFile(t, member, `
[package]
name = "kernel"

[package.metadata.xbuild]
target = "from-package"
`)

	cfg, err := NewLoaderWithGlobalDir(globalDir).LoadForBuild(member, &Workspace{Root: root})
	require.NoError(t, err)

	assert.Equal(t, "from-package", cfg.Target)
	assert.True(t, cfg.Memcpy, "global value survives")
	assert.True(t, cfg.PanicImmediateAbort, "workspace value survives")
	assert.Equal(t, time.Minute, cfg.LockTimeout)
}

func TestLoader_LoadForBuild_Env(t *testing.T) {
	root := t.TempDir()
	manifest := filepath.Join(root, "Cargo.toml")
	writeFile(t, manifest, "[package]\nname = \"app\"\n[package.metadata.xbuild]\nlock_timeout = \"1m\"\n")

	src := filepath.Join(root, "rust", "library")
	t.Setenv(RustSrcEnv, src)
	t.Setenv("XBUILD_LOCK_TIMEOUT", "5s")

	cfg, err := NewLoaderWithGlobalDir("").LoadForBuild(manifest, &Workspace{Root: root})
	require.NoError(t, err)

	assert.Equal(t, src, cfg.RustSrc)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
}

func TestLoader_LoadForBuild_Malformed(t *testing.T) {
	tests := []struct {
		name        string
		manifest    string
		errContains string
	}{
		{
			name:        "invalid toml",
			manifest:    "[package\nname = ",
			errContains: "failed to parse",
		},
		{
			name:        "metadata is not a table",
			manifest:    "[package]\nname = \"x\"\n[package.metadata]\nxbuild = 3\n",
			errContains: "must be a table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			manifest := filepath.Join(root, "Cargo.toml")
			writeFile(t, manifest, tt.manifest)

			_, err := NewLoaderWithGlobalDir("").LoadForBuild(manifest, &Workspace{Root: root})
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestLoader_LoadForBuild_MissingManifest(t *testing.T) {
	root := t.TempDir()
	_, err := NewLoaderWithGlobalDir("").LoadForBuild(filepath.Join(root, "nope", "Cargo.toml"), &Workspace{Root: root})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}
