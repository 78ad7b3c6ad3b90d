// Package target resolves the platform a sysroot is built for: either a
// builtin rustc target or a custom JSON target specification file.
package target

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// SpecExt is the conventional extension of target specification files
const SpecExt = ".json"

var (
	ErrNotFound    = eris.New("target specification not found")
	ErrInvalidSpec = eris.New("invalid target specification")
)

// Target is a resolved non-host platform.
type Target struct {
	// Triple is the condensed name: no directory, no extension.
	// Spec files with the same base name in different directories share it.
	Triple string

	// Orig is the identifier as the user passed it; cargo needs the literal
	// path for custom specs.
	Orig string

	// Path is the absolute spec file path, empty for builtin targets
	Path string

	// Spec is the parsed specification, nil for builtin targets
	Spec map[string]interface{}

	// Raw holds the spec file bytes, fed into the fingerprint
	Raw []byte
}

// Builtins is the set of targets rustc knows without a spec file
type Builtins map[string]bool

// NewBuiltins builds a set from `rustc --print target-list` output
func NewBuiltins(list string) Builtins {
	set := make(Builtins)
	for _, line := range strings.Split(list, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			set[name] = true
		}
	}

	return set
}

// Has reports whether name is a builtin target
func (b Builtins) Has(name string) bool {
	return b[name]
}

// IsCustom reports whether the target came from a spec file
func (t *Target) IsCustom() bool {
	return t.Path != ""
}

// CargoTarget is the --target value for a cargo started outside the user's
// directory: the absolute spec path for custom targets, the name otherwise
func (t *Target) CargoTarget() string {
	if t.IsCustom() {
		return t.Path
	}

	return t.Orig
}

// SearchDir returns the directory to add to RUST_TARGET_PATH so rustc finds
// a custom target named without its extension. It is empty for builtin
// targets and for ids that are already a path to the file.
func (t *Target) SearchDir() string {
	if !t.IsCustom() || filepath.Ext(t.Orig) == SpecExt {
		return ""
	}

	return filepath.Dir(t.Path)
}

// Resolve turns a --target identifier into a Target. Builtin names are
// accepted without touching the filesystem; anything else is read as a spec
// file relative to cwd, with or without the .json extension.
func Resolve(id, cwd string, builtins Builtins) (*Target, error) {
	if id == "" {
		return nil, eris.New("empty target identifier")
	}

	if builtins.Has(id) {
		return &Target{Triple: id, Orig: id}, nil
	}

	path, err := findSpec(id, cwd)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read target specification %s", path)
	}

	var spec map[string]interface{}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, eris.Wrapf(ErrInvalidSpec, "%s: %v", path, err)
	}

	return &Target{
		Triple: Condense(id),
		Orig:   id,
		Path:   path,
		Spec:   spec,
		Raw:    raw,
	}, nil
}

// Condense strips directory components and the file extension from a target
// identifier. "specs/x86_64-os.json" and "other/x86_64-os" both yield
// "x86_64-os".
func Condense(id string) string {
	base := filepath.Base(filepath.FromSlash(id))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func findSpec(id, cwd string) (string, error) {
	path := id
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}

	candidates := []string{path}
	if filepath.Ext(path) != SpecExt {
		candidates = append(candidates, path+SpecExt)
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", eris.Wrapf(ErrNotFound, "%q is not a builtin target and no file exists at %s", id, strings.Join(candidates, " or "))
}

// LLVMTarget returns the llvm-target field of a custom spec, or the triple
func (t *Target) LLVMTarget() string {
	if llvm, ok := t.Spec["llvm-target"].(string); ok && llvm != "" {
		return llvm
	}

	return t.Triple
}
