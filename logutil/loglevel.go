package logutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const EnvDevelopment = "development"

func ParseZerologLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal", "critical":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

func ParsePostgresLogLevel(level string) tracelog.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return tracelog.LogLevelTrace
	case "debug":
		return tracelog.LogLevelDebug
	case "info":
		return tracelog.LogLevelInfo
	case "warn", "warning":
		return tracelog.LogLevelWarn
	case "error":
		return tracelog.LogLevelError
	case "none":
		return tracelog.LogLevelNone
	default:
		return tracelog.LogLevelInfo
	}
}

// Setup configures the global zerolog logger. Development gets a console
// writer; every other environment logs JSON with the service name attached.
func Setup(level, environment, service string) zerolog.Logger {
	return SetupWithWriter(os.Stderr, level, environment, service)
}

func SetupWithWriter(w io.Writer, level, environment, service string) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseZerologLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if strings.EqualFold(environment, EnvDevelopment) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen} //nolint:exhaustruct
	}

	logger := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("env", environment).
		Logger()

	log.Logger = logger

	return logger
}
