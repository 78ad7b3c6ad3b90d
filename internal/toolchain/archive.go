package toolchain

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

// ExtractArchive unpacks a .tar.xz or .tar.gz file into dest
func ExtractArchive(path, dest string, progress io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "failed to stat %s", path)
	}

	bar := newProgressBar(stat.Size(), progress)
	defer bar.Finish()

	var r io.Reader
	switch {
	case strings.HasSuffix(path, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return eris.Wrapf(err, "failed to open xz stream %s", path)
		}
		r = xr

	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		gr, err := pgzip.NewReader(f)
		if err != nil {
			return eris.Wrapf(err, "failed to open gzip stream %s", path)
		}
		defer gr.Close()
		r = gr

	default:
		return eris.Errorf("unsupported archive format %s", path)
	}

	return extractTar(r, f, bar, dest)
}

func newProgressBar(length int64, w io.Writer) *progressbar.ProgressBar {
	if w == nil {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.NewOptions64(length,
		progressbar.OptionSetDescription("extracting rust-src"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, dest string) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return eris.Wrap(err, "failed to read archive entry")
		}

		target, err := entryPath(dest, item.Name)
		if err != nil {
			return err
		}

		switch item.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return eris.Wrapf(err, "failed to create directory %s", target)
			}

		case tar.TypeReg:
			if err := writeEntry(archive, target, item.FileInfo().Mode().Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return eris.Wrapf(err, "failed to create directory %s", filepath.Dir(target))
			}

			if err := os.Symlink(item.Linkname, target); err != nil {
				return eris.Wrapf(err, "failed to create symlink %s pointing to %s", target, item.Linkname)
			}
		}

		if pos, err := f.Seek(0, io.SeekCurrent); err == nil {
			_ = bar.Set64(pos)
		}
	}
}

// entryPath joins name onto dest, refusing entries that climb out of it
func entryPath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))

	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", eris.Errorf("archive entry %q escapes the destination", name)
	}

	return target, nil
}

func writeEntry(r io.Reader, path string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "failed to create directory %s", filepath.Dir(path))
	}

	if mode == 0 {
		mode = 0o644
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return eris.Wrapf(err, "failed to create file %s", path)
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return eris.Wrapf(err, "failed to write extracted file %s", path)
	}

	return out.Close()
}
