// Package report renders fatal errors the way cargo does: the outermost
// message after "error:", then one "caused by:" line per wrapped cause.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// BacktraceEnv is the variable that enables stack traces on internal failure
const BacktraceEnv = "RUST_BACKTRACE"

// Options control how an error is rendered
type Options struct {
	// Backtrace prints the root cause stack trace
	Backtrace bool

	// Color enables ANSI colour codes
	Color bool
}

// BacktraceEnabled interprets the value of RUST_BACKTRACE
func BacktraceEnabled(value string) bool {
	return value != "" && value != "0"
}

// Chain returns the messages of err, outermost first
func Chain(err error) []string {
	if err == nil {
		return nil
	}

	up := eris.Unpack(err)

	var msgs []string
	for i := len(up.ErrChain) - 1; i >= 0; i-- {
		msgs = appendUnique(msgs, up.ErrChain[i].Msg)
	}

	msgs = appendUnique(msgs, up.ErrRoot.Msg)

	if up.ErrExternal != nil {
		msgs = appendUnique(msgs, up.ErrExternal.Error())
	}

	return msgs
}

// Render writes err to w
func Render(w io.Writer, err error, opts Options) {
	if err == nil {
		return
	}

	colorizer := colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !opts.Color,
		Reset:   true,
	}

	var b strings.Builder
	for i, msg := range Chain(err) {
		if i == 0 {
			b.WriteString("[red][bold]error:[reset] " + msg + "\n")
			continue
		}

		b.WriteString("[bold]caused by:[reset] " + msg + "\n")
	}

	if opts.Backtrace {
		up := eris.Unpack(err)
		if len(up.ErrRoot.Stack) > 0 {
			b.WriteString("\nbacktrace:\n")
			for _, frame := range up.ErrRoot.Stack {
				b.WriteString(fmt.Sprintf("  %s\n      at %s:%d\n", frame.Name, frame.File, frame.Line))
			}
		}
	} else {
		b.WriteString("[dim]note: run with `" + BacktraceEnv + "=1` for a backtrace[reset]\n")
	}

	_, _ = io.WriteString(w, colorizer.Color(b.String()))
}

// eris repeats the message of a wrapped external error on its root; skip
// consecutive duplicates and empty messages.
func appendUnique(msgs []string, msg string) []string {
	if msg == "" {
		return msgs
	}

	if len(msgs) > 0 && msgs[len(msgs)-1] == msg {
		return msgs
	}

	return append(msgs, msg)
}
