// Package logger provides the structured logger used throughout the
// orchestrator, wrapping go.uber.org/zap behind a small interface so
// components can be tested against a no-op implementation.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging surface every orchestrator component depends on. It
// doubles as the orchestrator's exception sink: the Logger passed to
// orchestrator.New receives every logged failure, and the orchestrator has no
// setter to replace it afterwards.
type Logger interface {
	Debug(string, ...zap.Field)
	Info(string, ...zap.Field)
	Warn(string, ...zap.Field)
	Error(string, ...zap.Field)
	Fatal(string, ...zap.Field)
	With(...zap.Field) Logger
}

// NewNoopLogger returns a Logger that discards everything, for tests that
// don't care about log output.
func NewNoopLogger() *ZapLogger {
	return &ZapLogger{zap.NewNop()}
}

// ZapLogger implements Logger on top of *zap.Logger.
type ZapLogger struct {
	*zap.Logger
}

var _ Logger = (*ZapLogger)(nil)

// With creates a child logger carrying the given fields. Fields added to the
// child never affect the parent.
func (l *ZapLogger) With(fields ...zap.Field) Logger {
	return &ZapLogger{l.Logger.With(fields...)}
}

// Options configures a constructed Logger.
type Options struct {
	format      string
	level       string
	outputPaths []string
}

// Option sets one field of Options.
type Option func(*Options)

// WithFormat selects "text" (console) or "json" encoding. Default "text".
func WithFormat(format string) Option {
	return func(o *Options) { o.format = format }
}

// WithLevel sets the minimum enabled level. Default "info". "none" returns a
// no-op logger.
func WithLevel(level string) Option {
	return func(o *Options) { o.level = level }
}

// WithOutputPaths sets the sinks logs are written to. Default ["stdout"].
func WithOutputPaths(paths ...string) Option {
	return func(o *Options) { o.outputPaths = paths }
}

// New builds a Logger from the given options.
func New(opts ...Option) (*ZapLogger, error) {
	options := &Options{level: "info", format: "text", outputPaths: []string{"stdout"}}
	for _, opt := range opts {
		opt(options)
	}

	if options.level == "none" {
		return NewNoopLogger(), nil
	}

	level, err := zap.ParseAtomicLevel(options.level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", options.level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.OutputPaths = options.outputPaths
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.CallerKey = ""
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true

	if options.format == "text" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	built, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{built}, nil
}

// MustNew builds a Logger and panics on error, for use in test helpers and
// cobra command initialization where a construction failure is fatal.
func MustNew(format, level string) *ZapLogger {
	l, err := New(WithFormat(format), WithLevel(level))
	if err != nil {
		panic(err)
	}
	return l
}
