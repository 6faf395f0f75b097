// Package logging wraps github.com/rs/zerolog with component-scoped
// sub-loggers, plus a lock-free ring (LogRing) the RT thread writes through
// instead of calling zerolog directly — zerolog's own write path
// allocates and can block on its output writer, neither of which RT is
// allowed to do.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide base logger. Component loggers derive from it
// via With(component).
var Log zerolog.Logger

// Init configures the global logger: level, and pretty console output
// for interactive use versus JSON for production/offline runs.
func Init(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "synthpod").Logger()
}

// With returns a sub-logger tagged with component.
func With(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

func eventFor(logger zerolog.Logger, sev Severity) *zerolog.Event {
	switch sev {
	case SeverityDebug:
		return logger.Debug()
	case SeverityWarning:
		return logger.Warn()
	case SeverityError:
		return logger.Error()
	case SeverityFatal:
		return logger.Error() // never os.Exit from a drained record; Fatal here just means "severe"
	default:
		return logger.Info()
	}
}
