package config

import (
	"os"
	"path/filepath"
)

// ManifestName is the file cargo reads project metadata from
const ManifestName = "Cargo.toml"

// FindManifest finds the nearest Cargo.toml by walking up directories
func FindManifest(dir string) string {
	for {
		path := filepath.Join(dir, ManifestName)

		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}

// FindGlobalConfig returns the first config.{yml,yaml,json,toml} in dir
func FindGlobalConfig(dir string) string {
	if dir == "" {
		return ""
	}

	for _, ext := range []string{"yml", "yaml", "json", "toml"} {
		path := filepath.Join(dir, "config."+ext)

		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
