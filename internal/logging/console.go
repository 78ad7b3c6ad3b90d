package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ConsoleWriter renders zerolog JSON events as coloured, human readable lines.
type ConsoleWriter struct {
	out    io.Writer
	color  bool
	buffer strings.Builder
	lock   sync.Mutex
}

// NewConsoleWriter writes to out. Colour codes are stripped when color is false.
func NewConsoleWriter(out io.Writer, color bool) *ConsoleWriter {
	return &ConsoleWriter{out: out, color: color}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	if err := d.Decode(&evt); err != nil {
		return 0, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	level, _ := evt["level"].(string)
	switch level {
	case "fatal", "error":
		w.buffer.WriteString("[red][bold]error:[reset][red] ")
	case "warn":
		w.buffer.WriteString("[yellow][bold]warning:[reset][yellow] ")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if msg, ok := evt["message"].(string); ok {
		w.buffer.WriteString(msg)
	}

	// remaining fields, sorted so output is stable
	var keys []string
	for key := range evt {
		switch key {
		case "level", "message", "time", "error":
			continue
		}

		keys = append(keys, key)
	}

	sort.Strings(keys)
	for _, key := range keys {
		w.buffer.WriteString(fmt.Sprintf(" %s=%v", key, evt[key]))
	}

	if errorDetails, ok := evt["error"]; ok {
		w.buffer.WriteString("\n  ")
		w.buffer.WriteString(fmt.Sprint(errorDetails))
	}

	w.buffer.WriteString("[reset]\n")

	colorizer := colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !w.color,
		Reset:   true,
	}

	if _, err := io.WriteString(w.out, colorizer.Color(w.buffer.String())); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Colorable reports whether f looks like an interactive terminal
func Colorable(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	info, err := f.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv("RUST_BACKTRACE") != "")
	}
}
