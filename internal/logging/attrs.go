package logging

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// Error records err under "error". A nil error is written as "<nil>" so a
// missing cause is visible rather than silently dropped.
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts attributes to the variadic form slog.Logger methods accept.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

// Target and PolicyID tag a line with the directory and policy it concerns.
func Target(path string) Attr { return slog.String(FieldTarget, path) }

func PolicyID(id string) Attr { return slog.String(FieldPolicyID, id) }

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(discardHandler{})
}

// NewComponentLogger tags logger with a component name. A nil logger yields
// a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// HasAttrKey reports whether any attribute in attrs uses key.
func HasAttrKey(attrs []Attr, key string) bool {
	return slices.ContainsFunc(attrs, func(a Attr) bool { return a.Key == key })
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact. Missing fields get generic defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, FieldEventType, eventType)
	attrs = withDefault(attrs, FieldErrorHint, "check the run log for details")
	attrs = withDefault(attrs, FieldImpact, "the affected file or directory was left in place")
	logger.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
}

// ErrorWithContext logs an error that always carries event_type and
// error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, FieldEventType, eventType)
	attrs = withDefault(attrs, FieldErrorHint, "check the run log for details")
	logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

func withDefault(attrs []Attr, key, value string) []Attr {
	if HasAttrKey(attrs, key) {
		return attrs
	}
	return append(attrs, String(key, value))
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h discardHandler) WithGroup(string) slog.Handler { return h }
