package report

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

var errSentinel = eris.New("target specification not found")

func TestChain(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "nil",
			err:  nil,
			want: nil,
		},
		{
			name: "single root",
			err:  eris.New("lock timed out"),
			want: []string{"lock timed out"},
		},
		{
			name: "wrapped sentinel",
			err:  eris.Wrap(eris.Wrapf(errSentinel, "no file at %s", "/tmp/x.json"), "failed to resolve target"),
			want: []string{"failed to resolve target", "no file at /tmp/x.json", "target specification not found"},
		},
		{
			name: "external cause",
			err:  eris.Wrap(os.ErrPermission, "failed to write marker"),
			want: []string{"failed to write marker", "permission denied"},
		},
		{
			name: "plain stdlib error",
			err:  errors.New("boom"),
			want: []string{"boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Chain(tt.err))
		})
	}
}

func TestRender(t *testing.T) {
	err := eris.Wrap(eris.Wrap(os.ErrNotExist, "failed to read Cargo.toml"), "failed to load configuration")

	var buf bytes.Buffer
	Render(&buf, err, Options{})

	assert.Equal(t,
		"error: failed to load configuration\n"+
			"caused by: failed to read Cargo.toml\n"+
			"caused by: file does not exist\n"+
			"note: run with `RUST_BACKTRACE=1` for a backtrace\n",
		buf.String())
}

func TestRender_Backtrace(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, eris.New("exploded"), Options{Backtrace: true})

	out := buf.String()
	assert.Contains(t, out, "error: exploded\n")
	assert.Contains(t, out, "backtrace:")
	assert.Contains(t, out, "TestRender_Backtrace")
	assert.NotContains(t, out, "note:")
}

func TestRender_Nil(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, nil, Options{})
	assert.Empty(t, buf.String())
}

func TestBacktraceEnabled(t *testing.T) {
	assert.False(t, BacktraceEnabled(""))
	assert.False(t, BacktraceEnabled("0"))
	assert.True(t, BacktraceEnabled("1"))
	assert.True(t, BacktraceEnabled("full"))
}
