package target

import (
	"encoding/binary"
	"io"
)

// Kind tells the two compilation modes apart
type Kind int

const (
	Native Kind = iota
	Cross
)

func (k Kind) String() string {
	switch k {
	case Native:
		return "native"
	case Cross:
		return "cross"
	default:
		return "unknown"
	}
}

// Mode is either Native(host) or Cross(target). Exactly one of host and
// target is meaningful, selected by kind.
type Mode struct {
	kind   Kind
	host   string
	target *Target
}

// NewNative returns the mode for building a sysroot for the host itself
func NewNative(host string) Mode {
	return Mode{kind: Native, host: host}
}

// NewCross returns the mode for building a sysroot for t
func NewCross(t *Target) Mode {
	return Mode{kind: Cross, target: t}
}

func (m Mode) Kind() Kind {
	return m.kind
}

func (m Mode) IsNative() bool {
	return m.kind == Native
}

// Target returns the cross target, nil for native mode
func (m Mode) Target() *Target {
	if m.kind == Cross {
		return m.target
	}

	return nil
}

// Triple is the condensed identifier used in cache paths
func (m Mode) Triple() string {
	switch m.kind {
	case Native:
		return m.host
	case Cross:
		return m.target.Triple
	default:
		panic("unknown compilation mode")
	}
}

// CargoTarget is the --target value for the sysroot build
func (m Mode) CargoTarget() string {
	if t := m.Target(); t != nil {
		return t.CargoTarget()
	}

	return m.host
}

// SearchDir is the RUST_TARGET_PATH entry the mode needs, if any
func (m Mode) SearchDir() string {
	if t := m.Target(); t != nil {
		return t.SearchDir()
	}

	return ""
}

// OrigTriple is the identifier as supplied, forwarded to cargo
func (m Mode) OrigTriple() string {
	switch m.kind {
	case Native:
		return m.host
	case Cross:
		return m.target.Orig
	default:
		panic("unknown compilation mode")
	}
}

// HashInto writes the mode's identity to w: kind, condensed triple, original
// identifier and, for custom targets, the spec file contents. Every field is
// length-prefixed so adjacent values cannot run together.
func (m Mode) HashInto(w io.Writer) {
	writeField(w, []byte(m.kind.String()))
	writeField(w, []byte(m.Triple()))
	writeField(w, []byte(m.OrigTriple()))

	switch m.kind {
	case Native:
		writeField(w, nil)
	case Cross:
		writeField(w, m.target.Raw)
	}
}

func writeField(w io.Writer, b []byte) {
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(len(b)))
	_, _ = w.Write(size[:])
	_, _ = w.Write(b)
}

// ResolveMode decides the compilation mode for an explicit target id.
// An empty id means no sysroot override is needed and returns nil.
func ResolveMode(id, host, cwd string, builtins Builtins) (*Mode, error) {
	if id == "" {
		return nil, nil
	}

	if id == host {
		mode := NewNative(host)
		return &mode, nil
	}

	t, err := Resolve(id, cwd, builtins)
	if err != nil {
		return nil, err
	}

	mode := NewCross(t)
	return &mode, nil
}
