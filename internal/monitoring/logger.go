package monitoring

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogOptions controls how the process-wide logger is built.
type LogOptions struct {
	// Verbosity maps 0 to info, 1 to debug and 2 or more to trace.
	Verbosity int
	// Quiet lowers output to warnings and errors. It wins over Verbosity.
	Quiet bool
	// Format is "console", "json" or "" (console on a terminal, json otherwise).
	Format string
	// Out defaults to os.Stderr.
	Out io.Writer
}

// SetupLogging configures the global zerolog logger used by every package and
// returns it.
func SetupLogging(opts LogOptions) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	format := opts.Format
	if format == "" {
		format = "json"
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = "console"
		}
	}

	// Renderers and servers log from their own goroutines.
	out = zerolog.SyncWriter(out)
	var writer io.Writer = out
	if format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	zerolog.SetGlobalLevel(levelFor(opts))

	logger := zerolog.New(writer).
		With().
		Timestamp().
		Logger()
	log.Logger = logger
	return logger
}

func levelFor(opts LogOptions) zerolog.Level {
	if opts.Quiet {
		return zerolog.WarnLevel
	}
	switch clamp(2, opts.Verbosity) {
	case 2:
		return zerolog.TraceLevel
	case 1:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

func clamp(limit, a int) int {
	if a >= limit {
		return limit
	}
	return a
}

// Logf is the printf-style diagnostic logger handed to libraries that expect
// one (the migration runner, for instance). It writes debug records through
// the global zerolog logger and may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	log.Debug().Msgf(format, v...)
}

// SetLogger replaces the printf logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
