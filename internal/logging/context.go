package logging

import (
	"context"
	"io"

	"github.com/rs/zerolog"
)

type logKey struct{}

// New builds the logger used for a single xbuild invocation.
// verbosity 0 logs info and up, 1 adds debug, 2 and more add trace.
func New(out io.Writer, color bool, verbosity int) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case verbosity >= 2:
		level = zerolog.TraceLevel
	case verbosity == 1:
		level = zerolog.DebugLevel
	}

	return zerolog.New(NewConsoleWriter(out, color)).Level(level)
}

// FromContext returns the logger attached to ctx, or a disabled logger
func FromContext(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(logKey{}).(*zerolog.Logger); ok {
		return logger
	}

	nop := zerolog.Nop()
	return &nop
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}
