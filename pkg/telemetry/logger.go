package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Structured field names shared by every activator log line.
const (
	FieldComponent     = "component"
	FieldTaskID        = "task_id"
	FieldResourceID    = "resource_id"
	FieldEnvironmentID = "environment_id"
	FieldKind          = "kind"
	FieldStep          = "step"
)

// Logger is a zerolog logger carrying activation context fields.
// Loggers are immutable; the With methods return children.
//
// String tags are kept unique per line: re-tagging a key with the same value
// is a no-op, and a nested scope tagging a key with a new value replaces it
// and keeps the outer value under "parent_<key>".
type Logger struct {
	base   zerolog.Logger
	tags   []tag
	zlog   zerolog.Logger
	config LoggingConfig
}

type tag struct{ key, value string }

func wrap(z zerolog.Logger, cfg LoggingConfig) *Logger {
	return &Logger{base: z, zlog: z, config: cfg}
}

type loggerContextKey struct{}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	out, err := logOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	zctx := zerolog.New(out).Level(parseLogLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	return wrap(zctx.Logger(), cfg), nil
}

func logOutput(target string) (io.Writer, error) {
	switch target {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", target, err)
	}
	return file, nil
}

// NewWriterLogger creates a JSON logger writing to w.
func NewWriterLogger(w io.Writer, level string) *Logger {
	return wrap(zerolog.New(w).Level(parseLogLevel(level)).With().Timestamp().Logger(),
		LoggingConfig{Level: level, Format: "json"})
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return wrap(zerolog.Nop(), LoggingConfig{})
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger stored in ctx, or one over the global
// zerolog logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
			return l
		}
	}
	return wrap(log.Logger, LoggingConfig{})
}

// Zerolog exposes the underlying logger for the event API.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zlog
}

// with adds untracked fields, which every child inherits.
func (l *Logger) with(add func(zerolog.Context) zerolog.Context) *Logger {
	child := &Logger{base: add(l.base.With()).Logger(), tags: l.tags, config: l.config}
	child.render()
	return child
}

// tag returns a child with the given key/value pairs set as unique tags.
func (l *Logger) tag(pairs ...string) *Logger {
	tags := append([]tag(nil), l.tags...)
	changed := false
	for i := 0; i+1 < len(pairs); i += 2 {
		key, value := pairs[i], pairs[i+1]
		old, found := lookupTag(tags, key)
		if found && old == value {
			continue
		}
		if found {
			tags = upsertTag(tags, "parent_"+key, old)
		}
		tags = upsertTag(tags, key, value)
		changed = true
	}
	if !changed {
		return l
	}
	child := &Logger{base: l.base, tags: tags, config: l.config}
	child.render()
	return child
}

func (l *Logger) render() {
	zctx := l.base.With()
	for _, t := range l.tags {
		zctx = zctx.Str(t.key, t.value)
	}
	l.zlog = zctx.Logger()
}

func lookupTag(tags []tag, key string) (string, bool) {
	for _, t := range tags {
		if t.key == key {
			return t.value, true
		}
	}
	return "", false
}

func upsertTag(tags []tag, key, value string) []tag {
	for i := range tags {
		if tags[i].key == key {
			tags[i].value = value
			return tags
		}
	}
	return append(tags, tag{key: key, value: value})
}

// NewComponentLogger returns a child tagged with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.withStr(FieldComponent, component)
}

// WithFields returns a child with every entry of fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

// WithField returns a child with one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

func (l *Logger) WithTaskID(taskID string) *Logger { return l.withStr(FieldTaskID, taskID) }

func (l *Logger) WithResourceID(resourceID string) *Logger {
	return l.withStr(FieldResourceID, resourceID)
}

func (l *Logger) WithEnvironmentID(environmentID string) *Logger {
	return l.withStr(FieldEnvironmentID, environmentID)
}

// WithKind tags the resource kind and lifecycle step being handled.
func (l *Logger) WithKind(kind, step string) *Logger {
	return l.tag(FieldKind, kind, FieldStep, step)
}

// WithProvider tags the activation service and its version.
func (l *Logger) WithProvider(name, version string) *Logger {
	return l.tag("provider_name", name, "provider_version", version)
}

func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) withStr(key, value string) *Logger {
	return l.tag(key, value)
}

func (l *Logger) Debug(msg string)                          { l.zlog.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                           { l.zlog.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string)                           { l.zlog.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zlog.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string)                          { l.zlog.Error().Msg(msg) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zlog.Error().Msgf(format, args...) }

// parseLogLevel maps a configured level to zerolog, defaulting to info.
func parseLogLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}
