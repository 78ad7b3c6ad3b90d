package engine

import (
	"context"
	"path/filepath"

	"github.com/Norgate-AV/xbuild/internal/compiler"
	"github.com/Norgate-AV/xbuild/internal/config"
	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/Norgate-AV/xbuild/internal/sysroot"
)

// Inner reports whether this process was started by a sysroot build, in
// which case it must hand over to cargo without doing anything else
func Inner(environ []string) bool {
	v, ok := compiler.LookupEnv(environ, sysroot.InnerEnv)
	return ok && v != ""
}

// DiscoverWorkspace asks cargo for the workspace layout. When cargo cannot
// answer (no manifest, offline registry errors) the directory of the nearest
// manifest, or cwd, stands in for the workspace root.
func DiscoverWorkspace(ctx context.Context, exec compiler.Executor, cargo, manifestPath, cwd string) *config.Workspace {
	logger := logging.FromContext(ctx)

	out, err := compiler.Output(ctx, exec, &compiler.ShellCommand{
		Path: cargo,
		Args: config.MetadataArgs(manifestPath),
		Dir:  cwd,
	})
	if err == nil {
		ws, perr := config.ParseMetadata(out)
		if perr == nil {
			return ws
		}

		err = perr
	}

	logger.Debug().Err(err).Msg("cargo metadata unavailable; guessing the workspace layout")

	root := cwd
	if manifestPath != "" {
		if !filepath.IsAbs(manifestPath) {
			manifestPath = filepath.Join(cwd, manifestPath)
		}

		root = filepath.Dir(manifestPath)
	} else if found := config.FindManifest(cwd); found != "" {
		root = filepath.Dir(found)
	}

	return &config.Workspace{
		Root:      root,
		TargetDir: filepath.Join(root, "target"),
	}
}
