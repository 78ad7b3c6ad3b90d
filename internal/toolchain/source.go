package toolchain

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/rotisserie/eris"
)

// SourceDirName holds extracted rust-src archives under a cache root
const SourceDirName = ".rust-src"

var ErrMissingSource = eris.New("rust standard library source not found")

// SourceRequest describes where to look for the standard library sources
type SourceRequest struct {
	Meta *Meta

	// Sysroot is the toolchain's own sysroot
	Sysroot string

	// Override is the XBUILD_RUST_SRC value, empty when unset
	Override string

	// CacheRoot receives extracted archives
	CacheRoot string

	// Progress receives the extraction progress bar, nil hides it
	Progress io.Writer
}

// LocateSource returns the directory holding the standard library crates
// (the one containing core/ and alloc/).
func LocateSource(ctx context.Context, req SourceRequest) (string, error) {
	logger := logging.FromContext(ctx)

	if req.Override != "" {
		dir, err := filepath.Abs(req.Override)
		if err != nil {
			return "", eris.Wrapf(err, "failed to resolve %s", req.Override)
		}

		if !isDir(dir) {
			return "", eris.Wrapf(ErrMissingSource, "XBUILD_RUST_SRC points to %s, which is not a directory", dir)
		}

		logger.Debug().Str("path", dir).Msg("using rust source override")
		return dir, nil
	}

	if req.Meta.Channel == Dev {
		return "", eris.Wrap(ErrMissingSource, "XBUILD_RUST_SRC must be set when using a development toolchain")
	}

	rustlib := filepath.Join(req.Sysroot, "lib", "rustlib")
	for _, dir := range []string{
		filepath.Join(rustlib, "src", "rust", "library"),
		filepath.Join(rustlib, "src", "rust", "src"),
	} {
		if isDir(dir) {
			logger.Debug().Str("path", dir).Msg("using installed rust source")
			return dir, nil
		}
	}

	for _, name := range []string{"rust-src.tar.xz", "rust-src.tar.gz"} {
		archive := filepath.Join(rustlib, name)
		if _, err := os.Stat(archive); err != nil {
			continue
		}

		return extractSource(ctx, archive, req)
	}

	return "", eris.Wrapf(ErrMissingSource, "no source in %s; run `rustup component add rust-src` or set XBUILD_RUST_SRC", rustlib)
}

// extractSource unpacks archive once per toolchain commit. Extraction goes to
// a temporary directory renamed into place, so an interrupted run leaves
// nothing behind that a later run would trust.
func extractSource(ctx context.Context, archive string, req SourceRequest) (string, error) {
	logger := logging.FromContext(ctx)

	key := req.Meta.CommitHash
	if key == "" || key == "unknown" {
		key = req.Meta.Release.String()
	}

	parent := filepath.Join(req.CacheRoot, SourceDirName)
	dest := filepath.Join(parent, key)

	if !isDir(dest) {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return "", eris.Wrapf(err, "failed to create %s", parent)
		}

		tmp, err := os.MkdirTemp(parent, key+"-*")
		if err != nil {
			return "", eris.Wrapf(err, "failed to create a directory in %s", parent)
		}
		defer os.RemoveAll(tmp)

		logger.Info().Str("archive", archive).Msg("extracting rust source")
		if err := ExtractArchive(archive, tmp, req.Progress); err != nil {
			return "", err
		}

		if err := os.Rename(tmp, dest); err != nil && !isDir(dest) {
			return "", eris.Wrapf(err, "failed to move extracted source to %s", dest)
		}
	}

	dir, err := findLibrary(dest)
	if err != nil {
		return "", err
	}

	logger.Debug().Str("path", dir).Msg("using extracted rust source")
	return dir, nil
}

// findLibrary locates the crate directory inside an extracted component:
// the first directory that contains core/Cargo.toml.
func findLibrary(root string) (string, error) {
	found := ""
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if _, err := os.Stat(filepath.Join(path, "core", "Cargo.toml")); err == nil {
			found = path
			return filepath.SkipAll
		}

		return nil
	})
	if err != nil {
		return "", eris.Wrapf(err, "failed to search %s", root)
	}

	if found == "" {
		return "", eris.Wrapf(ErrMissingSource, "archive extracted to %s holds no library crates", root)
	}

	return found, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
