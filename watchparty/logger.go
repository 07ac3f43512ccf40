package watchparty

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a minimal logging interface accepted by the SDK.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// noopLogger discards all logs.
type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any) {}
func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Warn(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}

// ZerologAdapter bridges the SDK Logger interface to a zerolog.Logger.
type ZerologAdapter struct {
	L zerolog.Logger
}

func (a ZerologAdapter) Debug(msg string, fields map[string]any) { a.L.Debug().Fields(fields).Msg(msg) }
func (a ZerologAdapter) Info(msg string, fields map[string]any)  { a.L.Info().Fields(fields).Msg(msg) }
func (a ZerologAdapter) Warn(msg string, fields map[string]any)  { a.L.Warn().Fields(fields).Msg(msg) }
func (a ZerologAdapter) Error(msg string, fields map[string]any) { a.L.Error().Fields(fields).Msg(msg) }

// NewZerolog creates a configured zerolog.Logger suitable for wrapping in a
// ZerologAdapter. With pretty set, output goes through a console writer.
func NewZerolog(level string, pretty bool) zerolog.Logger {
	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
