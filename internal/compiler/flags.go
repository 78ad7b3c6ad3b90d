package compiler

import (
	"os"
	"strings"
)

// Environment variables carrying compiler flags. Cargo reads the encoded
// variant, separated by 0x1f, in preference to the plain one whenever it
// is set, even to an empty string.
const (
	RustFlagsEnv           = "RUSTFLAGS"
	EncodedRustFlagsEnv    = "CARGO_ENCODED_RUSTFLAGS"
	RustDocFlagsEnv        = "RUSTDOCFLAGS"
	EncodedRustDocFlagsEnv = "CARGO_ENCODED_RUSTDOCFLAGS"

	// TargetPathEnv lists directories rustc searches for target specs
	// named without their .json extension
	TargetPathEnv = "RUST_TARGET_PATH"

	encodedSep = "\x1f"
)

// SplitFlags splits a RUSTFLAGS style string on whitespace
func SplitFlags(s string) []string {
	return strings.Fields(s)
}

// JoinFlags is the inverse of SplitFlags
func JoinFlags(flags []string) string {
	return strings.Join(flags, " ")
}

// StripSysroot removes every --sysroot flag, in both the "--sysroot X" and
// "--sysroot=X" spellings
func StripSysroot(flags []string) []string {
	out := make([]string, 0, len(flags))

	for i := 0; i < len(flags); i++ {
		switch {
		case flags[i] == "--sysroot":
			i++
		case strings.HasPrefix(flags[i], "--sysroot="):
		default:
			out = append(out, flags[i])
		}
	}

	return out
}

// WithSysroot returns flags with any existing --sysroot replaced by root
func WithSysroot(flags string, root string) string {
	return JoinFlags(append(StripSysroot(SplitFlags(flags)), "--sysroot="+root))
}

// EncodeFlags joins flags the way CARGO_ENCODED_RUSTFLAGS expects
func EncodeFlags(flags []string) string {
	return strings.Join(flags, encodedSep)
}

// DecodeFlags is the inverse of EncodeFlags
func DecodeFlags(s string) []string {
	if s == "" {
		return []string{}
	}

	return strings.Split(s, encodedSep)
}

// RustFlags returns the flags cargo passes to rustc for env, taken from
// CARGO_ENCODED_RUSTFLAGS when set and RUSTFLAGS otherwise
func RustFlags(env []string) []string {
	return effectiveFlags(env, RustFlagsEnv, EncodedRustFlagsEnv)
}

// RustDocFlags is RustFlags for rustdoc
func RustDocFlags(env []string) []string {
	return effectiveFlags(env, RustDocFlagsEnv, EncodedRustDocFlagsEnv)
}

func effectiveFlags(env []string, plain, encoded string) []string {
	if value, ok := LookupEnv(env, encoded); ok {
		return DecodeFlags(value)
	}

	value, _ := LookupEnv(env, plain)
	return SplitFlags(value)
}

// SetSysroot returns a copy of env whose rustc flags carry --sysroot=root,
// written to whichever of RUSTFLAGS and CARGO_ENCODED_RUSTFLAGS cargo reads
func SetSysroot(env []string, root string) []string {
	return setSysroot(env, RustFlagsEnv, EncodedRustFlagsEnv, root)
}

// SetDocSysroot is SetSysroot for rustdoc
func SetDocSysroot(env []string, root string) []string {
	return setSysroot(env, RustDocFlagsEnv, EncodedRustDocFlagsEnv, root)
}

func setSysroot(env []string, plain, encoded, root string) []string {
	if value, ok := LookupEnv(env, encoded); ok {
		flags := append(StripSysroot(DecodeFlags(value)), "--sysroot="+root)
		return SetEnv(env, encoded, EncodeFlags(flags))
	}

	value, _ := LookupEnv(env, plain)
	return SetEnv(env, plain, WithSysroot(value, root))
}

// AddTargetPath returns a copy of env with dir searched first for target
// specs
func AddTargetPath(env []string, dir string) []string {
	value, ok := LookupEnv(env, TargetPathEnv)
	if ok && value != "" {
		return SetEnv(env, TargetPathEnv, dir+string(os.PathListSeparator)+value)
	}

	return SetEnv(env, TargetPathEnv, dir)
}

// LookupEnv finds key in a KEY=VALUE environment list. The last entry wins,
// matching os/exec.
func LookupEnv(env []string, key string) (string, bool) {
	var (
		value string
		found bool
	)

	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			value, found = kv[len(prefix):], true
		}
	}

	return value, found
}

// SetEnv returns a copy of env with key set to value
func SetEnv(env []string, key, value string) []string {
	out := UnsetEnv(env, key)
	return append(out, key+"="+value)
}

// UnsetEnv returns a copy of env without key
func UnsetEnv(env []string, key string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)

	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}

	return out
}
