// Package sysutil sets up process-wide logging for the server and guardctl.
package sysutil

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel maps a LOG_LEVEL value (case-insensitive, "warning" accepted)
// to a zerolog level. Unknown values yield info.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	}
	return zerolog.InfoLevel
}

// SetLogLevel configures the global zerolog level from a LOG_LEVEL value.
func SetLogLevel(lvl string) {
	zerolog.SetGlobalLevel(ParseLevel(lvl))
}

// LogOptions shape the process logger.
type LogOptions struct {
	Out     io.Writer
	Pretty  bool // console output instead of JSON
	Service string
	Version string
}

// NewLogger builds the base logger: JSON with RFC3339Nano timestamps, or a
// console writer in dev. Service and version are attached when set.
func NewLogger(o LogOptions) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	out := o.Out
	if o.Pretty {
		out = zerolog.ConsoleWriter{Out: o.Out, TimeFormat: time.RFC3339}
	}
	ctx := zerolog.New(out).With().Timestamp()
	if o.Service != "" {
		ctx = ctx.Str("service", o.Service)
	}
	if o.Version != "" {
		ctx = ctx.Str("version", o.Version)
	}
	return ctx.Logger()
}
