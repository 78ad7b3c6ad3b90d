// Package cache owns the on-disk sysroot cache: one root per compilation
// mode kind, each guarded by its own lock file. Inside a root every target
// triple has a complete sysroot tree plus a marker holding the fingerprint
// it was built from. Trees are replaced wholesale by renaming a fully
// populated staging directory into place.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Norgate-AV/xbuild/internal/fingerprint"
	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/rotisserie/eris"
)

const (
	// MarkerName is the per-triple file recording the fingerprint
	MarkerName = ".fingerprint"

	stagingDir = ".staging"
	buildDir   = ".build"
)

// removeAll is replaced in tests
var removeAll = os.RemoveAll

// Dir is the cache root for one compilation mode kind
type Dir struct {
	root string
	kind target.Kind
}

// New returns the cache root for kind below base. Nothing is created on disk.
func New(base string, kind target.Kind) *Dir {
	return &Dir{
		root: filepath.Join(base, kind.String()),
		kind: kind,
	}
}

// ForMode returns the cache root for mode
func ForMode(base string, mode target.Mode) *Dir {
	return New(base, mode.Kind())
}

// Root is the directory passed to rustc as --sysroot
func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) Kind() target.Kind {
	return d.kind
}

// Exists reports whether the root has been created
func (d *Dir) Exists() bool {
	info, err := os.Stat(d.root)
	return err == nil && info.IsDir()
}

// Lock takes the root's lock, see Acquire
func (d *Dir) Lock(ctx context.Context, timeout time.Duration) (*Lock, error) {
	return Acquire(ctx, d.root, timeout)
}

// TripleDir is <root>/lib/rustlib/<triple>
func (d *Dir) TripleDir(triple string) string {
	return filepath.Join(d.root, "lib", "rustlib", triple)
}

// LibDir holds the compiled crates for triple
func (d *Dir) LibDir(triple string) string {
	return filepath.Join(d.TripleDir(triple), "lib")
}

// BuildDir is where the ephemeral sysroot crate for triple is generated
func (d *Dir) BuildDir(triple string) string {
	return filepath.Join(d.root, buildDir, triple)
}

// TargetDir is the cargo target directory shared by all sysroot builds
func (d *Dir) TargetDir() string {
	return filepath.Join(d.root, buildDir, "target")
}

// Stored returns the fingerprint recorded for triple, empty when there is
// no complete sysroot for it.
func (d *Dir) Stored(triple string) (fingerprint.Fingerprint, error) {
	data, err := os.ReadFile(filepath.Join(d.TripleDir(triple), MarkerName))
	if os.IsNotExist(err) {
		return "", nil
	}

	if err != nil {
		return "", eris.Wrapf(err, "failed to read the fingerprint of %s", triple)
	}

	return fingerprint.Fingerprint(strings.TrimSpace(string(data))), nil
}

// Triples lists every triple with a sysroot in this root
func (d *Dir) Triples() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, "lib", "rustlib"))
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, eris.Wrapf(err, "failed to list %s", d.root)
	}

	var triples []string
	for _, entry := range entries {
		if entry.IsDir() {
			triples = append(triples, entry.Name())
		}
	}

	sort.Strings(triples)
	return triples, nil
}

// Stage is a private directory being filled with a new sysroot tree
type Stage struct {
	dir    string
	triple string
}

// Path of the staging directory, which becomes the triple directory
func (s *Stage) Path() string {
	return s.dir
}

// LibDir is where the builder places compiled crates
func (s *Stage) LibDir() string {
	return filepath.Join(s.dir, "lib")
}

// Stage creates an empty staging tree for triple. The caller must hold the
// lock, so any earlier staging directory is a leftover of a crashed run and
// is removed first.
func (d *Dir) Stage(triple string) (*Stage, error) {
	parent := filepath.Join(d.root, stagingDir)
	if err := os.RemoveAll(parent); err != nil {
		return nil, eris.Wrapf(err, "failed to clean %s", parent)
	}

	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", parent)
	}

	dir, err := os.MkdirTemp(parent, triple+"-*")
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create staging directory for %s", triple)
	}

	if err := os.Chmod(dir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, eris.Wrapf(err, "failed to set permissions on %s", dir)
	}

	stage := &Stage{dir: dir, triple: triple}
	if err := os.MkdirAll(stage.LibDir(), 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, eris.Wrapf(err, "failed to create %s", stage.LibDir())
	}

	return stage, nil
}

// Discard deletes a stage that will not be promoted
func (d *Dir) Discard(stage *Stage) error {
	if err := os.RemoveAll(stage.dir); err != nil {
		return eris.Wrapf(err, "failed to remove %s", stage.dir)
	}

	return nil
}

// Promote records fp in the stage and swaps it in as the triple's sysroot.
// The old tree is renamed aside before the stage is renamed into place and
// is only deleted once the new tree is live; if the swap fails the old tree
// is put back. Once the new tree is live a failure to delete the old one is
// only logged; the next Stage removes the leftover.
func (d *Dir) Promote(ctx context.Context, stage *Stage, fp fingerprint.Fingerprint) error {
	marker := filepath.Join(stage.dir, MarkerName)
	if err := os.WriteFile(marker, []byte(fp.String()+"\n"), 0o644); err != nil {
		return eris.Wrapf(err, "failed to write %s", marker)
	}

	live := d.TripleDir(stage.triple)
	if err := os.MkdirAll(filepath.Dir(live), 0o755); err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(live))
	}

	old := ""
	if _, err := os.Stat(live); err == nil {
		old = stage.dir + ".old"
		if err := os.Rename(live, old); err != nil {
			return eris.Wrapf(err, "failed to move %s aside", live)
		}
	}

	if err := os.Rename(stage.dir, live); err != nil {
		if old != "" {
			_ = os.Rename(old, live)
		}

		return eris.Wrapf(err, "failed to move the new sysroot into %s", live)
	}

	if old != "" {
		if err := removeAll(old); err != nil {
			logging.FromContext(ctx).Warn().Err(err).Str("path", old).Msg("failed to remove the previous sysroot")
		}
	}

	return nil
}
