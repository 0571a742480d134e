package postmsg

import intlog "github.com/atsika/postmsg/internal/log"

// Logger is the structured-logging capability Control, Sender, and Receiver
// use for "log and drop" diagnostics (spec §4.3/§7) and state-transition
// visibility. Fields are flat key/value pairs, matching zerolog's own
// event.Fields() shape so the default implementation is a direct pass
// through.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// defaultLogger routes through the package-global zerolog logger in
// internal/log.
type defaultLogger struct{}

func (defaultLogger) Debug(msg string, fields map[string]any) {
	intlog.Debug().Fields(fields).Msg(msg)
}

func (defaultLogger) Info(msg string, fields map[string]any) {
	intlog.Info().Fields(fields).Msg(msg)
}

func (defaultLogger) Warn(msg string, fields map[string]any) {
	intlog.Warn().Fields(fields).Msg(msg)
}

func (defaultLogger) Error(msg string, fields map[string]any) {
	intlog.Error().Fields(fields).Msg(msg)
}
