package cache

import "time"

// Entry records one successful sysroot build
type Entry struct {
	// Fingerprint the sysroot was built from
	Fingerprint string `json:"fingerprint"`

	// Triple is the condensed target name, the directory under lib/rustlib
	Triple string `json:"triple"`

	// Target is the identifier as passed to cargo
	Target string `json:"target"`

	// Mode is "native" or "cross"
	Mode string `json:"mode"`

	// Toolchain is the rustc version line
	Toolchain string `json:"toolchain"`

	// Crates are the standard library crates requested
	Crates []string `json:"crates"`

	// Artifacts are the file names placed in the lib directory
	Artifacts []string `json:"artifacts"`

	// Duration of the cargo build and copy
	Duration time.Duration `json:"duration"`

	// Timestamp when the sysroot was promoted
	Timestamp time.Time `json:"timestamp"`
}
