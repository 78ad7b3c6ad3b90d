package sysroot

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/Norgate-AV/xbuild/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/rotisserie/eris"
)

const (
	// crateName of the ephemeral crate; its own artifacts are not copied
	crateName = "sysroot"

	memFeature         = "compiler-builtins-mem"
	abortFeature       = "panic_immediate_abort"
	stdWorkspacePrefix = "rustc-std-workspace-"
)

type manifest struct {
	Package      manifestPackage                  `toml:"package"`
	Lib          manifestLib                      `toml:"lib"`
	Dependencies map[string]dependency            `toml:"dependencies"`
	Patch        map[string]map[string]dependency `toml:"patch,omitempty"`

	// an empty workspace keeps cargo from attaching the crate to the
	// user's workspace above it
	Workspace struct{} `toml:"workspace"`
}

type manifestPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Edition string `toml:"edition"`
}

type manifestLib struct {
	Path string `toml:"path"`
}

type dependency struct {
	Path     string   `toml:"path"`
	Features []string `toml:"features,omitempty"`
}

// cratePath finds a standard library crate in the source tree; older trees
// prefix the directory with "lib".
func cratePath(src, name string) (string, bool) {
	for _, dir := range []string{name, "lib" + name} {
		path := filepath.Join(src, dir)
		if _, err := os.Stat(filepath.Join(path, "Cargo.toml")); err == nil {
			return path, true
		}
	}

	return "", false
}

// features returns the feature list for crate, including the ones implied
// by the memcpy and panic_immediate_abort switches
func features(c config.CrateSpec, memcpy, immediateAbort bool) []string {
	set := make(map[string]bool, len(c.Features)+1)
	for _, f := range c.Features {
		set[f] = true
	}

	if memcpy && c.Name == "alloc" {
		set[memFeature] = true
	}

	if immediateAbort && (c.Name == "core" || c.Name == "std") {
		set[abortFeature] = true
	}

	if len(set) == 0 {
		return nil
	}

	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}

	sort.Strings(out)
	return out
}

// newManifest describes a crate depending on every requested standard
// library crate by path. Paths are resolved and checked against src.
func newManifest(req *Request) (*manifest, error) {
	m := &manifest{
		Package: manifestPackage{
			Name:    crateName,
			Version: "0.0.0",
			Edition: "2021",
		},
		Lib:          manifestLib{Path: "lib.rs"},
		Dependencies: make(map[string]dependency, len(req.Crates)),
	}

	for _, c := range req.Crates {
		path, ok := cratePath(req.Source, c.Name)
		if !ok {
			return nil, eris.Wrapf(ErrMissingCrate, "crate %q is not in %s", c.Name, req.Source)
		}

		m.Dependencies[c.Name] = dependency{
			Path:     filepath.ToSlash(path),
			Features: features(c, req.Memcpy, req.PanicImmediateAbort),
		}
	}

	patches := make(map[string]dependency)
	for _, name := range []string{"core", "alloc", "std"} {
		shim := stdWorkspacePrefix + name
		if path, ok := cratePath(req.Source, shim); ok {
			patches[shim] = dependency{Path: filepath.ToSlash(path)}
		}
	}

	if len(patches) > 0 {
		m.Patch = map[string]map[string]dependency{"crates-io": patches}
	}

	return m, nil
}

// writeCrate materializes the ephemeral crate in dir
func writeCrate(dir string, m *manifest, src string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "failed to create %s", dir)
	}

	data, err := toml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "failed to encode sysroot manifest")
	}

	files := map[string][]byte{
		"Cargo.toml": data,
		"lib.rs":     []byte("#![no_std]\n"),
	}

	// pin the versions the toolchain was tested with
	if lock, err := os.ReadFile(filepath.Join(src, "Cargo.lock")); err == nil {
		files["Cargo.lock"] = lock
	} else if lock, err := os.ReadFile(filepath.Join(filepath.Dir(src), "Cargo.lock")); err == nil {
		files["Cargo.lock"] = lock
	} else {
		_ = os.Remove(filepath.Join(dir, "Cargo.lock"))
	}

	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return eris.Wrapf(err, "failed to write %s", path)
		}
	}

	return nil
}
