package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Configure builds a zerolog logger from config values.
func Configure(level, format string) zerolog.Logger {
	return New(os.Stderr, level, format)
}

// New builds a logger writing to out.
func New(out io.Writer, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := out
	if strings.EqualFold(format, "console") {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}

// VerbosityLevel raises level according to the -v count: one step is debug,
// two or more is trace. A level that is already more verbose is kept.
func VerbosityLevel(level string, verbose int) string {
	want := zerolog.InfoLevel
	switch {
	case verbose >= 2:
		want = zerolog.TraceLevel
	case verbose == 1:
		want = zerolog.DebugLevel
	}
	current, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || current == zerolog.NoLevel {
		current = zerolog.InfoLevel
	}
	if verbose > 0 && want < current {
		return want.String()
	}
	return current.String()
}
