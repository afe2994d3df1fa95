package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// newJSONHandler writes one object per line with a UTC "ts", a lowercase
// level, and durations in seconds so run logs can be fed straight to jq.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: replaceJSONAttr,
	})
}

func replaceJSONAttr(_ []string, attr slog.Attr) slog.Attr {
	switch {
	case attr.Key == slog.TimeKey && attr.Value.Kind() == slog.KindTime:
		return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339Nano))
	case attr.Key == slog.LevelKey:
		attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
	case attr.Key == slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	case attr.Value.Kind() == slog.KindDuration:
		attr.Value = slog.Float64Value(attr.Value.Duration().Seconds())
	}
	return attr
}
