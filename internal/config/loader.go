package config

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from various sources
type Loader struct {
	v         *viper.Viper
	globalDir string
}

// NewLoader creates a new configuration loader reading the global config
// from <user config dir>/xbuild
func NewLoader() *Loader {
	var globalDir string
	if dir, err := os.UserConfigDir(); err == nil {
		globalDir = filepath.Join(dir, "xbuild")
	}

	return NewLoaderWithGlobalDir(globalDir)
}

// NewLoaderWithGlobalDir is NewLoader with an explicit global config directory
func NewLoaderWithGlobalDir(dir string) *Loader {
	return &Loader{
		v:         viper.New(),
		globalDir: dir,
	}
}

// LoadForBuild loads the configuration for the project whose manifest is
// manifestPath inside workspace ws. The precedence, lowest first: defaults,
// global file, workspace metadata, package metadata, environment.
func (l *Loader) LoadForBuild(manifestPath string, ws *Workspace) (*Config, error) {
	root, targetDir := ws.Root, ws.TargetDir

	l.setupViperDefaults()

	if err := l.loadGlobalConfig(); err != nil {
		return nil, err
	}

	if err := l.loadProjectConfig(manifestPath, root); err != nil {
		return nil, err
	}

	l.bindEnv()

	return Load(l.v, root, targetDir)
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	l.v.SetDefault("lock_timeout", DefaultLockTimeout)
	l.v.SetDefault("memcpy", false)
	l.v.SetDefault("panic_immediate_abort", false)
}

// loadGlobalConfig loads the user's global configuration if there is one
func (l *Loader) loadGlobalConfig() error {
	path := FindGlobalConfig(l.globalDir)
	if path == "" {
		return nil
	}

	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return eris.Wrapf(ErrInvalid, "failed to read %s: %v", path, err)
	}

	return nil
}

// loadProjectConfig merges [workspace.metadata.xbuild] from the workspace
// manifest, then [package.metadata.xbuild] from the package manifest
func (l *Loader) loadProjectConfig(manifestPath, root string) error {
	if root != "" {
		rootManifest := filepath.Join(root, ManifestName)
		if rootManifest != manifestPath {
			if err := l.mergeMetadata(rootManifest, WorkspaceKey, true); err != nil {
				return err
			}
		}
	}

	if manifestPath == "" {
		return nil
	}

	if err := l.mergeMetadata(manifestPath, WorkspaceKey, false); err != nil {
		return err
	}

	return l.mergeMetadata(manifestPath, MetadataKey, false)
}

func (l *Loader) mergeMetadata(manifestPath, key string, optional bool) error {
	if _, err := os.Stat(manifestPath); err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}

		return eris.Wrapf(err, "failed to read %s", manifestPath)
	}

	manifest := viper.New()
	manifest.SetConfigFile(manifestPath)
	manifest.SetConfigType("toml")

	if err := manifest.ReadInConfig(); err != nil {
		return eris.Wrapf(ErrInvalid, "failed to parse %s: %v", manifestPath, err)
	}

	if !manifest.IsSet(key) {
		return nil
	}

	block, ok := manifest.Get(key).(map[string]interface{})
	if !ok {
		return eris.Wrapf(ErrInvalid, "[%s] in %s must be a table", key, manifestPath)
	}

	if err := l.v.MergeConfigMap(block); err != nil {
		return eris.Wrapf(ErrInvalid, "failed to merge [%s] from %s: %v", key, manifestPath, err)
	}

	return nil
}

// bindEnv binds XBUILD_* environment variables
func (l *Loader) bindEnv() {
	l.v.SetEnvPrefix("XBUILD")
	_ = l.v.BindEnv("rust_src", RustSrcEnv)
	_ = l.v.BindEnv("lock_timeout", "XBUILD_LOCK_TIMEOUT")
	_ = l.v.BindEnv("sysroot_path", "XBUILD_SYSROOT_PATH")
	_ = l.v.BindEnv("target", "XBUILD_TARGET")
}
