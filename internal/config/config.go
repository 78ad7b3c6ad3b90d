package config

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultSysrootDir  = "sysroot"
	DefaultLockTimeout = 10 * time.Minute
	MetadataKey        = "package.metadata.xbuild"
	WorkspaceKey       = "workspace.metadata.xbuild"
	RustSrcEnv         = "XBUILD_RUST_SRC"
)

// ErrInvalid is the root of every configuration validation failure
var ErrInvalid = eris.New("invalid xbuild configuration")

// DefaultCrates are built when the project does not list its own
var DefaultCrates = []CrateSpec{
	{Name: "core"},
	{Name: "alloc"},
	{Name: "std"},
}

// CrateSpec names one standard library crate and the features to enable on it
type CrateSpec struct {
	Name     string   `mapstructure:"name" json:"name"`
	Features []string `mapstructure:"features" json:"features,omitempty"`
}

// Holds the configuration options for xbuild
type Config struct {
	// Base directory of the sysroot cache; native and cross roots live below it
	SysrootPath string

	// Default cross target when --target is not passed
	Target string

	// Standard library crates to compile into the sysroot
	Crates []CrateSpec

	// Enable the mem feature of compiler_builtins through alloc
	Memcpy bool

	// Build core/std with panic_immediate_abort
	PanicImmediateAbort bool

	// How long to wait for another xbuild holding the sysroot lock
	LockTimeout time.Duration

	// Standard library source override (XBUILD_RUST_SRC)
	RustSrc string
}

// Load decodes v into a Config and validates it. Relative paths are
// resolved against root, the workspace root; the cache defaults to
// <targetDir>/sysroot.
func Load(v *viper.Viper, root, targetDir string) (*Config, error) {
	cfg := &Config{
		SysrootPath:         v.GetString("sysroot_path"),
		Target:              v.GetString("target"),
		Memcpy:              v.GetBool("memcpy"),
		PanicImmediateAbort: v.GetBool("panic_immediate_abort"),
		LockTimeout:         v.GetDuration("lock_timeout"),
		RustSrc:             v.GetString("rust_src"),
	}

	// "sysroot" is accepted as a shorter spelling
	if cfg.SysrootPath == "" {
		cfg.SysrootPath = v.GetString("sysroot")
	}

	if v.IsSet("dependencies") {
		if err := v.UnmarshalKey("dependencies", &cfg.Crates, viper.DecodeHook(crateSpecHook)); err != nil {
			return nil, eris.Wrapf(ErrInvalid, "dependencies: %v", err)
		}
	}

	// Apply defaults if not set
	if len(cfg.Crates) == 0 {
		cfg.Crates = append([]CrateSpec(nil), DefaultCrates...)
	}

	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	if cfg.SysrootPath == "" {
		if targetDir == "" {
			targetDir = filepath.Join(root, "target")
		}

		cfg.SysrootPath = filepath.Join(targetDir, DefaultSysrootDir)
	}

	if !filepath.IsAbs(cfg.SysrootPath) && root != "" {
		cfg.SysrootPath = filepath.Join(root, cfg.SysrootPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if abs, err := filepath.Abs(c.SysrootPath); err == nil {
		c.SysrootPath = abs
	}

	if c.RustSrc != "" {
		abs, err := filepath.Abs(c.RustSrc)
		if err != nil {
			return eris.Wrapf(ErrInvalid, "invalid %s path: %v", RustSrcEnv, err)
		}
		c.RustSrc = abs
	}

	if c.LockTimeout < 0 {
		return eris.Wrapf(ErrInvalid, "lock_timeout must not be negative, got %s", c.LockTimeout)
	}

	seen := make(map[string]bool)
	for i, crate := range c.Crates {
		name := strings.TrimSpace(crate.Name)
		if name == "" {
			return eris.Wrapf(ErrInvalid, "dependency #%d has no name", i+1)
		}

		if seen[name] {
			return eris.Wrapf(ErrInvalid, "dependency %q listed twice", name)
		}

		seen[name] = true
		c.Crates[i].Name = name
	}

	return nil
}

// CrateNames returns the configured crate names, sorted
func (c *Config) CrateNames() []string {
	names := make([]string, 0, len(c.Crates))
	for _, crate := range c.Crates {
		names = append(names, crate.Name)
	}

	sort.Strings(names)
	return names
}
