package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup configures zerolog globals and returns the root logger.
// level falls back to info when unparsable; format "pretty" writes
// colored console output, anything else writes JSON lines.
func Setup(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = false

	var w io.Writer = os.Stdout
	if format == "pretty" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}

	log := New(w)
	if err != nil {
		log.Warn().Str("requested", level).Msg("Unknown log level, using info")
	}
	return log
}

// New builds a logger writing to w with the engine's base fields.
func New(w io.Writer) zerolog.Logger {
	host, _ := os.Hostname()
	return zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Str("service", "exam-engine").
		Str("host", host).
		Logger()
}
