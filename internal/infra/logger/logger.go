package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chih3b/SanteConnect/internal/infra/config"
)

// maxValueLen caps string attribute values so prescription text never lands
// in the log stream in full.
const maxValueLen = 120

// sensitiveKeys are attribute keys whose values may carry patient data.
var sensitiveKeys = map[string]bool{
	"text":          true,
	"raw_text":      true,
	"original":      true,
	"redacted_text": true,
	"image":         true,
}

// New creates a configured *slog.Logger tagged with the service name.
// The returned closer function should be deferred to flush/close file handles.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	return slog.New(newHandler(writer, cfg)).With("service", "santeconnect"), closer, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns l, or a discard logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func newHandler(w io.Writer, cfg config.LoggerConfig) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: scrubAttr,
	}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// scrubAttr replaces sensitive values with their length and truncates long strings.
func scrubAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[a.Key] {
		if a.Value.Kind() == slog.KindString {
			return slog.String(a.Key, fmt.Sprintf("<%d chars>", len(a.Value.String())))
		}
		return slog.String(a.Key, "<omitted>")
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); len(s) > maxValueLen {
			return slog.String(a.Key, s[:maxValueLen]+"...")
		}
	}
	return a
}

// parseLevel converts a string level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openOutput returns an io.Writer for the specified output target.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
