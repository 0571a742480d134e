// Package log is a thin wrapper around a single global zerolog.Logger,
// used by the postmsg transport core for "log and drop" diagnostics and
// state-transition visibility.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package's global logger instance.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetOutput redirects the global logger's output.
func SetOutput(w io.Writer) {
	Logger = Logger.Output(w)
}

// SetLevel sets the minimum level for the global logger.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// Debug logs at debug level.
func Debug() *zerolog.Event { return Logger.Debug() }

// Info logs at info level.
func Info() *zerolog.Event { return Logger.Info() }

// Warn logs at warn level.
func Warn() *zerolog.Event { return Logger.Warn() }

// Error logs at error level.
func Error() *zerolog.Event { return Logger.Error() }
