package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/rs/zerolog"
)

// NewZerolog builds the zerolog logger used by the database and InfluxDB
// layers. It shares the slog level so both stacks filter the same way.
func NewZerolog(w io.Writer, level slog.Level, component string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).
		Level(zerologLevel(level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level <= slog.LevelDebug:
		return zerolog.DebugLevel
	case level <= slog.LevelInfo:
		return zerolog.InfoLevel
	case level <= slog.LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// PassLogger adapts zerolog.Logger to the pipeline.Logger interface.
type PassLogger struct {
	logger zerolog.Logger
}

// NewPassLogger creates a new PassLogger wrapping a zerolog.Logger.
func NewPassLogger(logger zerolog.Logger) *PassLogger {
	return &PassLogger{logger: logger}
}

// Debug logs a debug message with optional key-value pairs.
func (l *PassLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(toFields(keysAndValues)).Msg(msg)
}

// Info logs an info message with optional key-value pairs.
func (l *PassLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(toFields(keysAndValues)).Msg(msg)
}

// Error logs an error message with optional key-value pairs.
func (l *PassLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error().Fields(toFields(keysAndValues)).Msg(msg)
}

// toFields converts key-value pairs to a map for zerolog.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}
