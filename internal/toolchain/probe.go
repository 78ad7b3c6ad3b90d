package toolchain

import (
	"context"
	"os"
	"strings"

	"github.com/Norgate-AV/xbuild/internal/compiler"
	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/rotisserie/eris"
)

// Environment variables overriding the tool binaries
const (
	RustcEnv = "RUSTC"
	CargoEnv = "CARGO"
)

var ErrProbe = eris.New("failed to query the rust toolchain")

// Info is everything the probe learned about the active toolchain
type Info struct {
	Meta *Meta

	// Sysroot is the toolchain's own sysroot, `rustc --print sysroot`
	Sysroot string

	Builtins target.Builtins

	Rustc string
	Cargo string
}

// Prober runs rustc to fill an Info
type Prober struct {
	exec  compiler.Executor
	rustc string
	cargo string
}

// NewProber picks rustc and cargo from RUSTC and CARGO, falling back to the
// names on PATH
func NewProber(exec compiler.Executor) *Prober {
	return &Prober{
		exec:  exec,
		rustc: envOr(RustcEnv, "rustc"),
		cargo: envOr(CargoEnv, "cargo"),
	}
}

// Cargo returns the cargo binary to invoke
func (p *Prober) Cargo() string {
	return p.cargo
}

// Probe queries version, sysroot and target list
func (p *Prober) Probe(ctx context.Context) (*Info, error) {
	logger := logging.FromContext(ctx)

	out, err := p.run(ctx, "-vV")
	if err != nil {
		return nil, err
	}

	meta, err := ParseVersion(out)
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Str("release", meta.Release.String()).
		Str("channel", meta.Channel.String()).
		Str("host", meta.Host).
		Msg("detected toolchain")

	sysroot, err := p.run(ctx, "--print", "sysroot")
	if err != nil {
		return nil, err
	}

	list, err := p.run(ctx, "--print", "target-list")
	if err != nil {
		return nil, err
	}

	return &Info{
		Meta:     meta,
		Sysroot:  strings.TrimSpace(sysroot),
		Builtins: target.NewBuiltins(list),
		Rustc:    p.rustc,
		Cargo:    p.cargo,
	}, nil
}

func (p *Prober) run(ctx context.Context, args ...string) (string, error) {
	out, err := compiler.Output(ctx, p.exec, &compiler.ShellCommand{Path: p.rustc, Args: args})
	if err != nil {
		// keep the cause; eris.Is matches ErrProbe by message
		return "", eris.Wrap(err, ErrProbe.Error())
	}

	return string(out), nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}

	return fallback
}
