package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Norgate-AV/xbuild/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInner(t *testing.T) {
	assert.True(t, Inner([]string{"XBUILD_INNER=1"}))
	assert.False(t, Inner([]string{"XBUILD_INNER="}))
	assert.False(t, Inner(nil))
}

func TestDiscoverWorkspace_FromCargo(t *testing.T) {
	fake := testutil.NewToolchain(t)
	fake.Metadata = `{"workspace_root":"/w","target_directory":"/w/out","packages":[{"manifest_path":"/w/kernel/Cargo.toml"}]}`

	ws := DiscoverWorkspace(context.Background(), fake, "cargo", "", t.TempDir())
	assert.Equal(t, "/w", ws.Root)
	assert.Equal(t, "/w/out", ws.TargetDir)
	assert.Equal(t, []string{"/w/kernel/Cargo.toml"}, ws.Manifests)
}

func TestDiscoverWorkspace_Fallback(t *testing.T) {
	fake := testutil.NewToolchain(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte("[package]\nname = \"k\"\n"), 0o644))
	cwd := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(cwd, 0o755))

	ws := DiscoverWorkspace(context.Background(), fake, "cargo", "", cwd)
	assert.Equal(t, root, ws.Root)
	assert.Equal(t, filepath.Join(root, "target"), ws.TargetDir)

	explicit := DiscoverWorkspace(context.Background(), fake, "cargo", "sub/Cargo.toml", root)
	assert.Equal(t, filepath.Join(root, "sub"), explicit.Root)
}
