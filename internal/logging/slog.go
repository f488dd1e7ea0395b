package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ScopeName is the instrumentation scope used for the OTel log bridge.
const ScopeName = "phantom-recorder"

// TimeFormat keeps milliseconds so records of consecutive ticks can be told
// apart.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Sinks selects where records go. Console gets text, File gets one JSON
// object per line. With neither set, text goes to stdout.
type Sinks struct {
	Console io.Writer
	File    io.Writer
	OTel    *sdklog.LoggerProvider
}

// SlogManager owns the process logger.
type SlogManager struct {
	logger      *slog.Logger
	context     ContextProvider
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// SetContextProvider registers a source of per-record attributes, such as
// the instance and frame being replayed. Takes effect on the next Setup.
func (m *SlogManager) SetContextProvider(p ContextProvider) {
	m.context = p
}

// parseLevel accepts slog level names in any case; anything else is info.
func parseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().UTC().Format(TimeFormat))
	}
	return a
}

// Setup replaces the logger. It may be called again, e.g. once the session
// log file is open.
func (m *SlogManager) Setup(sinks Sinks, level string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level), ReplaceAttr: utcTime}
	m.logProvider = sinks.OTel

	console := sinks.Console
	if console == nil && sinks.File == nil {
		console = os.Stdout
	}

	var handlers []slog.Handler
	if console != nil {
		handlers = append(handlers, slog.NewTextHandler(console, opts))
	}
	if sinks.File != nil {
		handlers = append(handlers, slog.NewJSONHandler(sinks.File, opts))
	}
	if sinks.OTel != nil {
		handlers = append(handlers, otelslog.NewHandler(ScopeName, otelslog.WithLoggerProvider(sinks.OTel)))
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if m.context != nil {
		h = NewContextHandler(h, m.context)
	}
	m.logger = slog.New(h)
	m.logger.Debug("Logging initialized", "level", opts.Level)
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush exports pending OTel records.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider == nil {
		return nil
	}
	return m.logProvider.ForceFlush(ctx)
}

// Since logs an operation's duration at debug level.
func (m *SlogManager) Since(start time.Time, msg string, args ...any) {
	m.Logger().Debug(msg, append(args, "elapsed", time.Since(start))...)
}
