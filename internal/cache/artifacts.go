package cache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// CopyArtifacts copies outputs (names relative to sourceDir) into destDir.
// Files are copied in parallel on a bounded pool; the first failure cancels
// the remaining copies.
func CopyArtifacts(ctx context.Context, sourceDir, destDir string, outputs []string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return eris.Wrapf(err, "failed to create artifact directory %s", destDir)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU())

	for _, output := range outputs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			src := filepath.Join(sourceDir, output)
			dst := filepath.Join(destDir, output)
			if err := copyFile(src, dst); err != nil {
				return eris.Wrapf(err, "failed to copy %s", output)
			}

			return nil
		})
	}

	return eg.Wait()
}

// CollectOutputs lists the regular files directly inside dir, sorted,
// leaving out those skip matches. A missing dir yields no outputs.
func CollectOutputs(dir string, skip func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, eris.Wrapf(err, "failed to read output directory %s", dir)
	}

	var outputs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if skip != nil && skip(name) {
			continue
		}

		outputs = append(outputs, name)
	}

	sort.Strings(outputs)
	return outputs, nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer srcFile.Close()

	// Create parent directory if needed
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}

	if err := dstFile.Close(); err != nil {
		return err
	}

	// Preserve file permissions
	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	return os.Chmod(dst, srcInfo.Mode())
}
