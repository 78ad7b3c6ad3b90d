// Package toolchain interrogates the active rustc: version and channel,
// default sysroot, builtin targets and the location of the standard
// library sources.
package toolchain

import (
	"bufio"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
)

// Channel is the release channel of the compiler
type Channel int

const (
	Stable Channel = iota
	Beta
	Nightly
	Dev
)

func (c Channel) String() string {
	switch c {
	case Stable:
		return "stable"
	case Beta:
		return "beta"
	case Nightly:
		return "nightly"
	case Dev:
		return "dev"
	default:
		return "unknown"
	}
}

// SupportsCustomSysroot reports whether the channel can build the standard
// library from source. Only nightly and locally built compilers can.
func (c Channel) SupportsCustomSysroot() bool {
	return c == Nightly || c == Dev
}

// Meta is the parsed output of `rustc -vV`
type Meta struct {
	// Version is the first line, e.g. "rustc 1.76.0-nightly (eeff92ad3 2023-12-13)"
	Version string

	Release    *semver.Version
	Channel    Channel
	Host       string
	CommitHash string
	CommitDate string
	LLVM       string
}

// ParseChannel derives the channel from a release's prerelease tag
func ParseChannel(release *semver.Version) Channel {
	pre := release.Prerelease()
	switch {
	case pre == "":
		return Stable
	case pre == "nightly":
		return Nightly
	case pre == "dev":
		return Dev
	case strings.HasPrefix(pre, "beta"):
		return Beta
	default:
		// unknown tags are treated like a prerelease of a stable toolchain
		return Beta
	}
}

// ParseVersion parses the verbose version output of rustc
func ParseVersion(output string) (*Meta, error) {
	meta := &Meta{}
	var release string

	scanner := bufio.NewScanner(strings.NewReader(output))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if first {
			meta.Version = line
			first = false
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)
		switch key {
		case "release":
			release = value
		case "host":
			meta.Host = value
		case "commit-hash":
			meta.CommitHash = value
		case "commit-date":
			meta.CommitDate = value
		case "LLVM version":
			meta.LLVM = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to read rustc version output")
	}

	if !strings.HasPrefix(meta.Version, "rustc ") {
		return nil, eris.Wrapf(ErrProbe, "unexpected rustc version output %q", meta.Version)
	}

	if release == "" {
		return nil, eris.Wrap(ErrProbe, "rustc version output has no release line")
	}

	if meta.Host == "" {
		return nil, eris.Wrap(ErrProbe, "rustc version output has no host line")
	}

	v, err := semver.NewVersion(release)
	if err != nil {
		return nil, eris.Wrapf(ErrProbe, "invalid rustc release %q: %v", release, err)
	}

	meta.Release = v
	meta.Channel = ParseChannel(v)

	return meta, nil
}
