// Package logging owns slog handler construction for the whole binary.
//
// On a terminal, output goes through a tint handler with colorized levels;
// otherwise a plain text handler is used. Verbosity is a small integer
// supplied by the CLI:
//
//	0 - errors only
//	1 - info and above
//	2 - debug and above
//	3 - everything, including trace-level spam
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LevelTrace sits below slog.LevelDebug; used for per-record selection noise.
const LevelTrace = slog.Level(-8)

var lvl = &slog.LevelVar{}

// Setup installs the default slog logger according to verbosity.
// It returns an error only for an out-of-range verbosity value.
func Setup(verbosity int) error {
	switch verbosity {
	case 0:
		lvl.Set(slog.LevelError)
	case 1:
		lvl.Set(slog.LevelInfo)
	case 2:
		lvl.Set(slog.LevelDebug)
	case 3:
		lvl.Set(LevelTrace)
	default:
		return &VerbosityError{Value: verbosity}
	}
	slog.SetDefault(slog.New(newHandler()))
	return nil
}

type VerbosityError struct {
	Value int
}

func (e *VerbosityError) Error() string {
	return "verbosity must be between 0 and 3"
}

func newHandler() slog.Handler {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return tint.NewHandler(os.Stderr, &tint.Options{
			Level: lvl,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey {
					if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
						return slog.String(a.Key, "TRC")
					}
				}
				return a
			},
		})
	}
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
					return slog.String(a.Key, "TRACE")
				}
			}
			return a
		},
	})
}

// Trace logs at LevelTrace on the default logger.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}
