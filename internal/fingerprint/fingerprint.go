// Package fingerprint condenses every input that affects a sysroot build
// into a single digest. Two builds with equal fingerprints produce
// interchangeable sysroots.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"github.com/Norgate-AV/xbuild/internal/compiler"
	"github.com/Norgate-AV/xbuild/internal/config"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
	"lukechampine.com/blake3"
)

// Size of the digest in bytes
const Size = 32

// Fingerprint is a hex encoded BLAKE3 digest
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

// Short returns the first twelve hex digits, for log output
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}

	return string(f)
}

// Inputs is everything a sysroot build depends on
type Inputs struct {
	Mode target.Mode

	// RustFlags are the effective rustc flags, see compiler.RustFlags.
	// Any --sysroot among them is ignored.
	RustFlags []string

	Crates              []config.CrateSpec
	Memcpy              bool
	PanicImmediateAbort bool

	Toolchain *toolchain.Meta
}

// Compute hashes in in a fixed order. Every variable-length field carries a
// length prefix and every list is sorted first, so the result only depends
// on the values.
func Compute(in Inputs) Fingerprint {
	h := blake3.New(Size, nil)

	in.Mode.HashInto(h)

	flags := compiler.StripSysroot(in.RustFlags)
	writeCount(h, len(flags))
	for _, flag := range flags {
		writeField(h, flag)
	}

	crates := sortedCrates(in.Crates)
	writeCount(h, len(crates))
	for _, c := range crates {
		writeField(h, c.Name)
		writeCount(h, len(c.Features))
		for _, feature := range c.Features {
			writeField(h, feature)
		}
	}

	writeBool(h, in.Memcpy)
	writeBool(h, in.PanicImmediateAbort)

	if in.Toolchain != nil {
		writeField(h, in.Toolchain.Version)
		writeField(h, in.Toolchain.CommitHash)
	} else {
		writeField(h, "")
		writeField(h, "")
	}

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// sortedCrates copies crates, sorting by name and each feature list
func sortedCrates(crates []config.CrateSpec) []config.CrateSpec {
	out := make([]config.CrateSpec, len(crates))
	for i, c := range crates {
		features := append([]string(nil), c.Features...)
		sort.Strings(features)
		out[i] = config.CrateSpec{Name: c.Name, Features: features}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func writeField(h hash.Hash, s string) {
	writeCount(h, len(s))
	h.Write([]byte(s))
}

func writeCount(h hash.Hash, n int) {
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(n))
	h.Write(size[:])
}

func writeBool(h hash.Hash, b bool) {
	if b {
		h.Write([]byte{1})
		return
	}

	h.Write([]byte{0})
}
