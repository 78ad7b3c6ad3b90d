package config

import (
	"encoding/json"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Workspace is the subset of `cargo metadata` xbuild needs
type Workspace struct {
	Root      string
	TargetDir string
	Manifests []string
}

type cargoMetadata struct {
	WorkspaceRoot   string `json:"workspace_root"`
	TargetDirectory string `json:"target_directory"`
	Packages        []struct {
		ManifestPath string `json:"manifest_path"`
	} `json:"packages"`
}

// MetadataArgs are the cargo arguments producing the document ParseMetadata reads
func MetadataArgs(manifestPath string) []string {
	args := []string{"metadata", "--format-version", "1", "--no-deps"}
	if manifestPath != "" {
		args = append(args, "--manifest-path", manifestPath)
	}

	return args
}

// ParseMetadata decodes the output of `cargo metadata --format-version 1`
func ParseMetadata(data []byte) (*Workspace, error) {
	var meta cargoMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, eris.Wrap(err, "failed to parse cargo metadata")
	}

	if meta.WorkspaceRoot == "" {
		return nil, eris.New("cargo metadata did not report a workspace root")
	}

	ws := &Workspace{
		Root:      meta.WorkspaceRoot,
		TargetDir: meta.TargetDirectory,
	}

	if ws.TargetDir == "" {
		ws.TargetDir = filepath.Join(ws.Root, "target")
	}

	for _, pkg := range meta.Packages {
		ws.Manifests = append(ws.Manifests, pkg.ManifestPath)
	}

	return ws, nil
}

// Manifest picks the manifest xbuild reads its metadata block from: the
// explicitly requested one, else the nearest one above cwd (as cargo does),
// else the workspace root manifest.
func (w *Workspace) Manifest(requested, cwd string) string {
	if requested != "" {
		if !filepath.IsAbs(requested) {
			requested = filepath.Join(cwd, requested)
		}

		return requested
	}

	if found := FindManifest(cwd); found != "" {
		return found
	}

	return filepath.Join(w.Root, ManifestName)
}
