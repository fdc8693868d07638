package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum level emitted: "debug", "info", "warn" or
	// "error". Unknown values fall back to "info".
	Level string

	// Format picks the handler: "json" for machines, "text" for humans.
	// Defaults to "json".
	Format string

	// Output receives the records. Defaults to os.Stdout.
	Output io.Writer

	// AddSource stamps records with the caller's file and line.
	AddSource bool

	// RedactPatterns adds regexes to the built-in redaction set, which
	// already covers API keys, signing keys and JWTs.
	RedactPatterns []string
}

// DefaultRedactPatterns are the regexes every logger masks, keyed to the
// secrets this runtime actually handles.
var DefaultRedactPatterns = []string{
	// bech32 signing keys, the one secret this system mints itself
	`nsec1[a-z0-9]{20,}`,

	// provider API keys
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,

	// key/token/secret assignments in config or error text
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	`(?i)(secret|key|token)[\s:=]+["\']?([a-fA-F0-9]{32,})["\']?`,

	// JWTs
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger builds a slog logger whose records pass through secret redaction
// before reaching the JSON or text handler.
func NewLogger(config LogConfig) *slog.Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(config.Level),
		AddSource: config.AddSource,
	}
	var handler slog.Handler
	switch strings.ToLower(config.Format) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(&redactHandler{
		inner:    handler,
		patterns: compilePatterns(append(DefaultRedactPatterns, config.RedactPatterns...)),
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// compilePatterns drops patterns that do not compile rather than failing
// logger construction over a bad user-supplied regex.
func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// redactHandler wraps a slog.Handler and masks sensitive values in the
// message and in string attributes before they reach the inner handler.
type redactHandler struct {
	inner    slog.Handler
	patterns []*regexp.Regexp
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redactAttr(attr)
	}
	return &redactHandler{inner: h.inner.WithAttrs(redacted), patterns: h.patterns}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{inner: h.inner.WithGroup(name), patterns: h.patterns}
}

func (h *redactHandler) redactAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redact(attr.Value.String()))
	case slog.KindGroup:
		members := attr.Value.Group()
		redacted := make([]any, 0, len(members))
		for _, member := range members {
			redacted = append(redacted, h.redactAttr(member))
		}
		return slog.Group(attr.Key, redacted...)
	default:
		return attr
	}
}

func (h *redactHandler) redact(s string) string {
	for _, re := range h.patterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
