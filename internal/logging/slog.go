package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log"
)

var (
	osStdout io.Writer = os.Stdout
	osPipe             = os.Pipe
)

// SlogManager manages slog-based logging with optional Graylog output.
type SlogManager struct {
	logger *slog.Logger
	level  slog.Level

	graylog *gelf.Writer
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func handlerOptions(lvl slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
}

// Options configures Setup.
type Options struct {
	// File receives a copy of every record. When nil, records go to stdout.
	File io.Writer
	// Console also writes to stdout when File is set.
	Console bool
	Level   string
	// GraylogAddress enables GELF output over UDP when not empty.
	GraylogAddress string
	// Context injects dynamic attributes such as the run and tick.
	Context ContextProvider
	// LoggerProvider bridges records into OpenTelemetry when set.
	LoggerProvider log.LoggerProvider
}

// Setup initializes the logging system. A failing Graylog connection is
// logged and skipped.
func (m *SlogManager) Setup(opts Options) {
	lvl := parseLevel(opts.Level)
	m.level = lvl
	handlerOpts := handlerOptions(lvl)

	var handlers []slog.Handler

	if opts.File == nil || opts.Console {
		handlers = append(handlers, slog.NewTextHandler(osStdout, handlerOpts))
	}
	if opts.File != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.File, handlerOpts))
	}

	var graylogErr error
	if m.graylog != nil {
		m.graylog.Close()
		m.graylog = nil
	}
	if opts.GraylogAddress != "" {
		w, err := gelf.NewWriter(opts.GraylogAddress)
		if err != nil {
			graylogErr = err
		} else {
			w.Facility = "fleetctl"
			m.graylog = w
			handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
		}
	}

	if opts.LoggerProvider != nil {
		handlers = append(handlers, otelslog.NewHandler("fleetctl", otelslog.WithLoggerProvider(opts.LoggerProvider)))
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", opts.Level)
	if graylogErr != nil {
		m.logger.Warn("Graylog output disabled", "address", opts.GraylogAddress, "error", graylogErr)
	}
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Level returns the configured minimum level.
func (m *SlogManager) Level() slog.Level {
	return m.level
}

// Close releases the Graylog connection if one was opened.
func (m *SlogManager) Close() error {
	if m.graylog == nil {
		return nil
	}
	err := m.graylog.Close()
	m.graylog = nil
	return err
}
